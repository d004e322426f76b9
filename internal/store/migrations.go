package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Sessions table - one row per capture run
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			kind INTEGER NOT NULL,
			device INTEGER NOT NULL,
			stereo INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL CHECK(status IN ('running', 'stopped', 'failed')),
			frames INTEGER NOT NULL DEFAULT 0,
			dropped INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			stopped_at DATETIME
		)`,

		// Frames table - JPEG encoded images of recorded bundles
		`CREATE TABLE IF NOT EXISTS frames (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			sequence INTEGER NOT NULL,
			timestamp_ns INTEGER NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			stereo INTEGER NOT NULL DEFAULT 0,
			left_jpeg BLOB NOT NULL,
			right_jpeg BLOB,
			UNIQUE(session_id, sequence)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_frames_session_id ON frames(session_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
