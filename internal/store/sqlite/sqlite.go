// Package sqlite implements [store.Store] on a local SQLite file via
// go-sqlite3. Lines live in their own table and a save replaces them in
// one transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/MrWong99/livescribe/internal/store"
	"github.com/MrWong99/livescribe/internal/subtitle"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL DEFAULT '',
	language   TEXT NOT NULL DEFAULT '',
	mode       TEXT NOT NULL DEFAULT 'live',
	started_at DATETIME NOT NULL,
	stopped_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS lines (
	session_id TEXT NOT NULL,
	idx        INTEGER NOT NULL,
	start_ms   INTEGER NOT NULL,
	end_ms     INTEGER NOT NULL,
	text       TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, idx),
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at DESC);
`

// Store is a [store.Store] backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path. ":memory:" opens a
// private in-memory database.
func Open(path string) (*Store, error) {
	dsn := "file::memory:?_foreign_keys=on"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// Every pooled connection to :memory: would be a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveSession implements store.Store.
func (s *Store) SaveSession(ctx context.Context, sess store.Session) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, source, language, mode, started_at, stopped_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			language = excluded.language,
			mode = excluded.mode,
			started_at = excluded.started_at,
			stopped_at = excluded.stopped_at
	`, sess.ID, sess.Source, sess.Language, string(sess.Mode), sess.StartedAt.UTC(), sess.StoppedAt.UTC()); err != nil {
		return fmt.Errorf("sqlite: save session %q: %w", sess.ID, err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM lines WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("sqlite: clear lines: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO lines (session_id, idx, start_ms, end_ms, text, confidence)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare lines: %w", err)
	}
	defer stmt.Close()
	for _, l := range sess.Lines {
		if _, err = stmt.ExecContext(ctx, sess.ID, l.Index, l.Start.Milliseconds(), l.End.Milliseconds(), l.Text, l.Confidence); err != nil {
			return fmt.Errorf("sqlite: save line %d: %w", l.Index, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Session implements store.Store.
func (s *Store) Session(ctx context.Context, id string) (*store.Session, error) {
	var (
		sess store.Session
		mode string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source, language, mode, started_at, stopped_at
		FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &sess.Source, &sess.Language, &mode, &sess.StartedAt, &sess.StoppedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get session %q: %w", id, err)
	}
	sess.Mode = store.Mode(mode)

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, start_ms, end_ms, text, confidence
		FROM lines WHERE session_id = ? ORDER BY idx
	`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l          subtitle.Line
			start, end int64
		)
		if err := rows.Scan(&l.Index, &start, &end, &l.Text, &l.Confidence); err != nil {
			return nil, fmt.Errorf("sqlite: scan line: %w", err)
		}
		l.Start = time.Duration(start) * time.Millisecond
		l.End = time.Duration(end) * time.Millisecond
		sess.Lines = append(sess.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: get lines: %w", err)
	}
	return &sess, nil
}

// ListSessions implements store.Store.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]store.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, language, mode, started_at, stopped_at
		FROM sessions ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sessions: %w", err)
	}
	defer rows.Close()

	var out []store.Session
	for rows.Next() {
		var (
			sess store.Session
			mode string
		)
		if err := rows.Scan(&sess.ID, &sess.Source, &sess.Language, &mode, &sess.StartedAt, &sess.StoppedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan session: %w", err)
		}
		sess.Mode = store.Mode(mode)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
