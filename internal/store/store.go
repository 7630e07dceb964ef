// Package store archives finalized sessions in a local sqlite database.
// Finished sessions wait here until the uploader marks them synced, and the
// archive is the source for the data export and delete endpoints.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wellness-at-work/blinkd/internal/session"
)

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening session db: %w", err)
	}
	// The daemon is the only writer; a single connection sidesteps
	// sqlite's writer lock contention.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating session db: %w", err)
	}
	log.Printf("Session database ready: %s", path)
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		blink_count INTEGER NOT NULL,
		synced INTEGER DEFAULT 0,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_synced ON sessions(synced);
	CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_time DESC);

	CREATE TABLE IF NOT EXISTS blink_events (
		session_id TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE INDEX IF NOT EXISTS idx_blink_events_session ON blink_events(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Persist archives a finalized session with its blink events. Implements
// session.Sink; called exactly once per ended session.
func (s *Store) Persist(sess *session.Session) error {
	if sess.EndTime == nil {
		return fmt.Errorf("persisting session %s: not ended", sess.ID)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO sessions (id, start_time, end_time, blink_count) VALUES (?, ?, ?, ?)`,
		sess.ID,
		sess.StartTime.UTC().Format(time.RFC3339Nano),
		sess.EndTime.UTC().Format(time.RFC3339Nano),
		sess.BlinkCount,
	)
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", sess.ID, err)
	}

	for _, ev := range sess.BlinkEvents {
		_, err = tx.Exec(
			`INSERT INTO blink_events (session_id, start_time, end_time, duration_ms) VALUES (?, ?, ?, ?)`,
			sess.ID,
			ev.Start.UTC().Format(time.RFC3339Nano),
			ev.End.UTC().Format(time.RFC3339Nano),
			ev.DurationMs,
		)
		if err != nil {
			return fmt.Errorf("inserting blink event for %s: %w", sess.ID, err)
		}
	}

	return tx.Commit()
}

// Sessions returns all archived sessions, newest first, with their events.
func (s *Store) Sessions() ([]*session.Session, error) {
	return s.query(`SELECT id, start_time, end_time, blink_count FROM sessions ORDER BY start_time DESC`)
}

// PendingSync returns archived sessions not yet uploaded, oldest first.
func (s *Store) PendingSync() ([]*session.Session, error) {
	return s.query(`SELECT id, start_time, end_time, blink_count FROM sessions WHERE synced = 0 ORDER BY start_time`)
}

func (s *Store) query(q string) ([]*session.Session, error) {
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		var (
			sess       session.Session
			start, end string
		)
		if err := rows.Scan(&sess.ID, &start, &end, &sess.BlinkCount); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if sess.StartTime, err = time.Parse(time.RFC3339Nano, start); err != nil {
			return nil, fmt.Errorf("parsing start time of %s: %w", sess.ID, err)
		}
		endTime, err := time.Parse(time.RFC3339Nano, end)
		if err != nil {
			return nil, fmt.Errorf("parsing end time of %s: %w", sess.ID, err)
		}
		sess.EndTime = &endTime
		sess.State = session.Ended
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, sess := range sessions {
		if err := s.loadEvents(sess); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

func (s *Store) loadEvents(sess *session.Session) error {
	rows, err := s.db.Query(
		`SELECT start_time, end_time, duration_ms FROM blink_events WHERE session_id = ? ORDER BY start_time`,
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("querying blink events of %s: %w", sess.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ev         session.BlinkEvent
			start, end string
		)
		if err := rows.Scan(&start, &end, &ev.DurationMs); err != nil {
			return fmt.Errorf("scanning blink event: %w", err)
		}
		if ev.Start, err = time.Parse(time.RFC3339Nano, start); err != nil {
			return err
		}
		if ev.End, err = time.Parse(time.RFC3339Nano, end); err != nil {
			return err
		}
		sess.BlinkEvents = append(sess.BlinkEvents, ev)
	}
	return rows.Err()
}

// MarkSynced records that a session was uploaded to the remote backend.
func (s *Store) MarkSynced(id string) error {
	_, err := s.db.Exec(`UPDATE sessions SET synced = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking %s synced: %w", id, err)
	}
	return nil
}

// DeleteAll removes every archived session and its events (data deletion
// request). The remote copy is the backend's responsibility.
func (s *Store) DeleteAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM blink_events`); err != nil {
		return fmt.Errorf("deleting blink events: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("deleting sessions: %w", err)
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}
