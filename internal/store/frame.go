package store

import (
	"database/sql"
)

// Frame is a recorded bundle. Images are JPEG encoded; Right is nil for mono
// captures.
type Frame struct {
	SessionID   string
	Sequence    int64
	TimestampNs int64
	Width       int
	Height      int
	Stereo      bool
	Left        []byte
	Right       []byte
}

// FrameRepository provides access to recorded frames.
type FrameRepository struct {
	db *sql.DB
}

// Frames returns the frame repository for this store.
func (s *Store) Frames() *FrameRepository {
	return &FrameRepository{db: s.db}
}

// Insert stores frames in a single transaction.
func (r *FrameRepository) Insert(frames []Frame) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO frames (session_id, sequence, timestamp_ns, width, height, stereo, left_jpeg, right_jpeg)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range frames {
		if _, err := stmt.Exec(f.SessionID, f.Sequence, f.TimestampNs, f.Width, f.Height, f.Stereo, f.Left, f.Right); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListBySession retrieves the frames of a session in capture order.
func (r *FrameRepository) ListBySession(sessionID string) ([]Frame, error) {
	rows, err := r.db.Query(
		`SELECT session_id, sequence, timestamp_ns, width, height, stereo, left_jpeg, right_jpeg
		 FROM frames
		 WHERE session_id = ?
		 ORDER BY sequence`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []Frame
	for rows.Next() {
		var f Frame
		if err := rows.Scan(&f.SessionID, &f.Sequence, &f.TimestampNs, &f.Width, &f.Height, &f.Stereo, &f.Left, &f.Right); err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return frames, nil
}

// FrameInfo is a recorded frame without its image data.
type FrameInfo struct {
	SessionID   string
	Sequence    int64
	TimestampNs int64
	Width       int
	Height      int
	Stereo      bool
	LeftBytes   int64
	RightBytes  int64
}

// ListInfoBySession retrieves frame metadata of a session in capture order.
// Image sizes come from the database; the images themselves are not read.
func (r *FrameRepository) ListInfoBySession(sessionID string) ([]FrameInfo, error) {
	rows, err := r.db.Query(
		`SELECT session_id, sequence, timestamp_ns, width, height, stereo,
		        COALESCE(length(left_jpeg), 0), COALESCE(length(right_jpeg), 0)
		 FROM frames
		 WHERE session_id = ?
		 ORDER BY sequence`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []FrameInfo
	for rows.Next() {
		var f FrameInfo
		if err := rows.Scan(&f.SessionID, &f.Sequence, &f.TimestampNs, &f.Width, &f.Height, &f.Stereo, &f.LeftBytes, &f.RightBytes); err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return frames, nil
}

// CountBySession returns the number of frames recorded for a session.
func (r *FrameRepository) CountBySession(sessionID string) (int64, error) {
	var n int64
	err := r.db.QueryRow(`SELECT COUNT(*) FROM frames WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}
