// Package stt defines the Recognizer interface for speech-to-text backends.
//
// A recognizer accepts conditioned audio (16-bit mono PCM at 16 kHz, see
// [github.com/MrWong99/livescribe/pkg/audio]) and emits timestamped
// [Segment] values. The same time range may be emitted several times with
// improved text as more context arrives; consumers fold these revisions
// (see internal/reconcile). Streaming backends whose revisions move the
// time range mark the provisional segment [Segment.Partial].
//
// Segments are delivered to subscribers in emission order. A subscription
// ends with an explicit cancel call, which closes its channel.
package stt

import (
	"context"
	"errors"
	"runtime"
	"time"
)

var (
	// ErrModelNotInitialized is returned by processing methods called before
	// InitModel succeeded. It indicates a wiring bug, not a runtime fault.
	ErrModelNotInitialized = errors.New("stt: model not initialized")

	// ErrNoModel is returned by InitModel when the ModelSource is empty.
	ErrNoModel = errors.New("stt: no model selected")
)

// LanguageAuto requests automatic language detection.
const LanguageAuto = "auto"

// ModelSource identifies the model to load. Exactly one of Path or Bytes
// should be set; hosted backends interpret Path as a model name.
type ModelSource struct {
	Path  string
	Bytes []byte
}

// IsZero reports whether no model was selected.
func (m ModelSource) IsZero() bool {
	return m.Path == "" && len(m.Bytes) == 0
}

// Recognizer is the abstraction over any speech-to-text backend.
//
// Implementations must be safe for concurrent use, though callers feed audio
// from a single goroutine to preserve temporal order.
type Recognizer interface {
	// InitModel loads the model and sets the recognition language ("auto"
	// or an ISO 639-1 code). Calling it again replaces the model.
	InitModel(ctx context.Context, src ModelSource, language string) error

	// IsInitialized reports whether InitModel has succeeded.
	IsInitialized() bool

	// ProcessBatch recognizes pcm as one unit and blocks until done.
	// Segments are emitted to subscribers during processing with
	// timestamps shifted by offset.
	ProcessBatch(ctx context.Context, pcm []byte, offset time.Duration) error

	// ProcessStreamingChunk appends pcm to the live stream. Segment
	// timestamps are relative to the start of the stream. Implementations
	// may buffer audio and recognize a rolling window, re-emitting
	// segments with revised text.
	ProcessStreamingChunk(ctx context.Context, pcm []byte) error

	// FlushStream recognizes streamed audio no pass has covered yet and
	// publishes final segments for everything still provisional. It blocks
	// until those segments are published. Stream time keeps running.
	FlushStream(ctx context.Context) error

	// ResetStream discards streamed audio and restarts stream time at zero.
	ResetStream()

	// Subscribe registers a segment consumer. The returned cancel function
	// unsubscribes and closes the channel; it is safe to call more than once.
	Subscribe(buffer int) (<-chan Segment, func())

	// Close releases model resources and closes all subscriptions.
	Close() error
}

// DefaultThreads returns the default inference thread count: the number of
// CPUs, capped at 8.
func DefaultThreads() int {
	return min(8, runtime.NumCPU())
}
