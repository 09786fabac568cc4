// Package capture defines the push-style audio capture collaborator.
//
// A [Source] delivers raw [audio.AudioFrame] values to a [FrameHandler] from
// its own callback context (a real-time audio thread, a network receive
// loop). Handlers must return quickly and must never block on UI work; the
// session layer copies frames into its capture buffer and hands
// recognition off to a queue.
//
// Implementations:
//   - [github.com/MrWong99/livescribe/pkg/capture/portaudio] for local microphones
//   - [github.com/MrWong99/livescribe/pkg/capture/discord] for a Discord voice channel
//   - [github.com/MrWong99/livescribe/pkg/capture/mock] for tests
package capture

import (
	"context"
	"errors"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// ErrAlreadyStarted is returned by Start on a source that is already capturing.
var ErrAlreadyStarted = errors.New("capture: already started")

// FrameHandler receives captured frames in capture order. It is called from
// the source's callback goroutine and must not block.
type FrameHandler func(audio.AudioFrame)

// Source is a hardware or network audio input.
//
// Implementations must be safe for concurrent use: Stop may be called from
// any goroutine while a FrameHandler invocation is in flight.
type Source interface {
	// Start begins delivering frames to h. ctx governs setup only; capture
	// continues until Stop is called. Start fails with ErrAlreadyStarted if
	// the source is already capturing.
	Start(ctx context.Context, h FrameHandler) error

	// Stop ends capture. After Stop returns no further frames are delivered.
	// Stop on a stopped source is a no-op.
	Stop() error

	// IsRecording reports whether hardware capture is currently active.
	IsRecording() bool

	// Format reports the native sample rate and channel count of delivered frames.
	Format() audio.Format
}
