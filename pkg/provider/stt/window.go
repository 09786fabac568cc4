package stt

import (
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
)

const (
	// DefaultStreamWindow bounds how much streamed audio is re-recognized.
	DefaultStreamWindow = 30 * time.Second

	// DefaultStreamStep is the amount of new audio that triggers a pass.
	DefaultStreamStep = time.Second
)

// StreamWindow accumulates streamed conditioned PCM for backends that
// recognize a rolling window rather than true incremental input. Each pass
// covers audio from the anchor (the end of the last settled segment) up to
// now, capped at Window.
//
// StreamWindow is not safe for concurrent use.
type StreamWindow struct {
	Window time.Duration
	Step   time.Duration

	buf     []byte
	start   time.Duration // stream time of buf[0]
	pending int           // bytes received since the last pass
}

func bytesFor(d time.Duration) int {
	n := int(d * audio.TargetSampleRate / time.Second)
	return n * 2
}

func (w *StreamWindow) limits() (window, step int) {
	win, st := w.Window, w.Step
	if win <= 0 {
		win = DefaultStreamWindow
	}
	if st <= 0 {
		st = DefaultStreamStep
	}
	return bytesFor(win), bytesFor(st)
}

// Push appends pcm. When at least Step of new audio has accumulated it
// returns the current window with its stream offset and ready=true.
func (w *StreamWindow) Push(pcm []byte) (window []byte, offset time.Duration, ready bool) {
	maxBytes, stepBytes := w.limits()
	w.buf = append(w.buf, pcm...)
	w.pending += len(pcm)

	if over := len(w.buf) - maxBytes; over > 0 {
		over += over % 2
		w.buf = w.buf[over:]
		w.start += audio.Conditioned.Duration(over)
	}
	if w.pending < stepBytes {
		return nil, 0, false
	}
	w.pending = 0
	return w.snapshot(), w.start, true
}

// Flush returns the window if any audio arrived since the last pass.
func (w *StreamWindow) Flush() (window []byte, offset time.Duration, ok bool) {
	if w.pending == 0 || len(w.buf) == 0 {
		return nil, 0, false
	}
	w.pending = 0
	return w.snapshot(), w.start, true
}

func (w *StreamWindow) snapshot() []byte {
	out := make([]byte, len(w.buf))
	copy(out, w.buf)
	return out
}

// Advance drops audio before stream time t. Times at or before the current
// window start are ignored.
func (w *StreamWindow) Advance(t time.Duration) {
	if t <= w.start {
		return
	}
	drop := bytesFor(t - w.start)
	if drop > len(w.buf) {
		drop = len(w.buf)
	}
	w.buf = w.buf[drop:]
	w.start += audio.Conditioned.Duration(drop)
}

// Reset discards all audio and restarts stream time at zero.
func (w *StreamWindow) Reset() {
	w.buf = nil
	w.start = 0
	w.pending = 0
}

// Settle returns the stream time up to which a pass's segments may be
// considered settled: the end of the second-to-last segment. The next pass
// starts there, so only the last segment is recognized again.
func Settle(segs []Segment) (time.Duration, bool) {
	if len(segs) < 2 {
		return 0, false
	}
	return segs[len(segs)-2].End, true
}
