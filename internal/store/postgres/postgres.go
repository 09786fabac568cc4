// Package postgres implements [store.Store] on PostgreSQL via pgx.
//
// Subtitle lines are stored as a JSONB array next to the session row, so a
// save is a single upsert and needs no transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/livescribe/internal/store"
)

// Schema is the SQL DDL for the transcript_sessions table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS transcript_sessions (
    id          TEXT PRIMARY KEY,
    source      TEXT NOT NULL DEFAULT '',
    language    TEXT NOT NULL DEFAULT '',
    mode        TEXT NOT NULL DEFAULT 'live',
    started_at  TIMESTAMPTZ NOT NULL,
    stopped_at  TIMESTAMPTZ NOT NULL,
    lines       JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_transcript_sessions_started ON transcript_sessions(started_at DESC);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [store.Store] backed by PostgreSQL.
type Store struct {
	db    DB
	close func()
}

var _ store.Store = (*Store)(nil)

// New returns a Store using db. The caller owns db; Close is a no-op.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects a pool to dsn, migrates the schema and returns a Store
// that closes the pool on Close.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := &Store{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// SaveSession implements store.Store.
func (s *Store) SaveSession(ctx context.Context, sess store.Session) error {
	lines, err := store.EncodeLines(sess.Lines)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO transcript_sessions (id, source, language, mode, started_at, stopped_at, lines)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			source = EXCLUDED.source,
			language = EXCLUDED.language,
			mode = EXCLUDED.mode,
			started_at = EXCLUDED.started_at,
			stopped_at = EXCLUDED.stopped_at,
			lines = EXCLUDED.lines`

	if _, err := s.db.Exec(ctx, query,
		sess.ID, sess.Source, sess.Language, string(sess.Mode), sess.StartedAt, sess.StoppedAt, lines,
	); err != nil {
		return fmt.Errorf("postgres: save session %q: %w", sess.ID, err)
	}
	return nil
}

// Session implements store.Store.
func (s *Store) Session(ctx context.Context, id string) (*store.Session, error) {
	const query = `
		SELECT id, source, language, mode, started_at, stopped_at, lines
		FROM transcript_sessions
		WHERE id = $1`

	var (
		sess  store.Session
		mode  string
		lines []byte
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&sess.ID, &sess.Source, &sess.Language, &mode, &sess.StartedAt, &sess.StoppedAt, &lines,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get session %q: %w", id, err)
	}
	sess.Mode = store.Mode(mode)
	if sess.Lines, err = store.DecodeLines(lines); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions implements store.Store.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]store.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, source, language, mode, started_at, stopped_at
		FROM transcript_sessions
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer rows.Close()

	var out []store.Session
	for rows.Next() {
		var (
			sess store.Session
			mode string
		)
		if err := rows.Scan(&sess.ID, &sess.Source, &sess.Language, &mode, &sess.StartedAt, &sess.StoppedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan session: %w", err)
		}
		sess.Mode = store.Mode(mode)
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	return out, nil
}

// Close releases the pool opened by [Open].
func (s *Store) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

// Ping checks the connection when the underlying DB supports it.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.db.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
