// Package store persists finished transcription sessions and their
// subtitle lines.
//
// Implementations:
//   - [github.com/MrWong99/livescribe/internal/store/postgres] (pgx)
//   - [github.com/MrWong99/livescribe/internal/store/sqlite] (go-sqlite3)
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/livescribe/internal/subtitle"
)

// ErrNotFound is returned when a session ID is unknown.
var ErrNotFound = errors.New("store: session not found")

// Mode records how a session was transcribed.
type Mode string

const (
	ModeLive  Mode = "live"
	ModeBatch Mode = "batch"
	ModeFile  Mode = "file"
)

// Session is one finished recording or file transcription.
type Session struct {
	ID        string
	Source    string
	Language  string
	Mode      Mode
	StartedAt time.Time
	StoppedAt time.Time

	// Lines is empty in ListSessions results.
	Lines []subtitle.Line
}

// Store persists sessions. Implementations must be safe for concurrent use.
type Store interface {
	// SaveSession inserts s and its lines, replacing a session with the
	// same ID.
	SaveSession(ctx context.Context, s Session) error

	// Session loads one session with its lines. Unknown IDs return
	// ErrNotFound.
	Session(ctx context.Context, id string) (*Session, error)

	// ListSessions returns up to limit sessions, newest first, without lines.
	ListSessions(ctx context.Context, limit int) ([]Session, error)

	Close() error
}
