package store

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// SessionStatus is the state of a recorded capture run.
type SessionStatus string

const (
	SessionRunning SessionStatus = "running"
	SessionStopped SessionStatus = "stopped"
	SessionFailed  SessionStatus = "failed"
)

// Session describes one capture run.
type Session struct {
	ID        string
	Kind      int
	Device    int
	Stereo    bool
	Status    SessionStatus
	Frames    int64
	Dropped   int64
	Error     string
	StartedAt time.Time
	StoppedAt *time.Time
}

// SessionRepository provides access to capture sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a new running session.
func (r *SessionRepository) Create(sess *Session) error {
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	sess.Status = SessionRunning

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, kind, device, stereo, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Kind, sess.Device, sess.Stereo, string(sess.Status), sess.StartedAt,
	)
	return err
}

// Finish records the terminal state of a session.
func (r *SessionRepository) Finish(id string, status SessionStatus, frames, dropped int64, errMsg string) error {
	res, err := r.db.Exec(
		`UPDATE sessions SET status = ?, frames = ?, dropped = ?, error = ?, stopped_at = ?
		 WHERE id = ?`,
		string(status), frames, dropped, errMsg, time.Now(), id,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	row := r.db.QueryRow(
		`SELECT id, kind, device, stereo, status, frames, dropped, error, started_at, stopped_at
		 FROM sessions WHERE id = ?`,
		id,
	)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

// List retrieves all sessions, newest first.
func (r *SessionRepository) List() ([]*Session, error) {
	rows, err := r.db.Query(
		`SELECT id, kind, device, stereo, status, frames, dropped, error, started_at, stopped_at
		 FROM sessions ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// Delete removes a session and its frames.
func (r *SessionRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	sess := &Session{}
	var status string
	var stopped sql.NullTime

	err := row.Scan(&sess.ID, &sess.Kind, &sess.Device, &sess.Stereo, &status,
		&sess.Frames, &sess.Dropped, &sess.Error, &sess.StartedAt, &stopped)
	if err != nil {
		return nil, err
	}

	sess.Status = SessionStatus(status)
	if stopped.Valid {
		t := stopped.Time
		sess.StoppedAt = &t
	}
	return sess, nil
}
