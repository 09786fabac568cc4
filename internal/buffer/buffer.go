// Package buffer holds captured audio for a recording session and hands the
// conditioned stream to the recognizer.
//
// [CaptureBuffer] accumulates raw and conditioned bytes under one lock, so
// a reader never sees a frame's raw bytes without its conditioned bytes.
// [Dispatcher] is a bounded single-consumer queue. The capture callback
// enqueues conditioned increments without blocking, and one goroutine feeds
// them to the recognizer in arrival order.
package buffer

import (
	"log/slog"
	"sync"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// Sink receives each conditioned increment after it has been buffered.
// Enqueue is called outside the buffer lock and must not block.
type Sink interface {
	Enqueue(pcm []byte) error
}

// Snapshot is the content of a CaptureBuffer at drain time.
type Snapshot struct {
	// Raw is the audio as captured, in RawFormat: the format of the first
	// frame. Frames in any other format are conditioned but left out of
	// Raw; RawDropped counts their bytes.
	Raw        []byte
	RawFormat  audio.Format
	RawDropped int

	// Processed is conditioned 16 kHz mono PCM.
	Processed []byte
}

// CaptureBuffer accumulates one session's audio.
//
// All methods are safe for concurrent use.
type CaptureBuffer struct {
	cond *audio.Conditioner

	mu        sync.Mutex
	raw       []byte
	processed []byte
	rawFormat audio.Format
	dropped   int
	sink      Sink
}

// New returns an empty CaptureBuffer that conditions frames with cond.
func New(cond *audio.Conditioner) *CaptureBuffer {
	if cond == nil {
		cond = &audio.Conditioner{}
	}
	return &CaptureBuffer{cond: cond}
}

// SetSink replaces the dispatch target. A nil sink disables dispatch.
func (b *CaptureBuffer) SetSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = s
}

// Append conditions frame and appends both representations. Misaligned
// frames are dropped and the conditioner's error is returned; the buffer
// is left unchanged. On success the conditioned increment is handed to the
// sink after the lock is released. Sink failures are logged, never
// returned, since Append runs on the capture callback.
func (b *CaptureBuffer) Append(frame audio.AudioFrame) error {
	format := frame.Format()
	format.Channels = max(format.Channels, 1)

	b.mu.Lock()
	pcm, err := b.cond.Condition(frame)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.processed = append(b.processed, pcm...)
	if b.rawFormat == (audio.Format{}) {
		b.rawFormat = format
	}
	firstDrop := false
	if format == b.rawFormat {
		b.raw = append(b.raw, frame.Data...)
	} else {
		firstDrop = b.dropped == 0
		b.dropped += len(frame.Data)
	}
	rawFormat := b.rawFormat
	sink := b.sink
	b.mu.Unlock()

	if firstDrop {
		slog.Warn("capture buffer: frame format changed, raw capture keeps the first format",
			"raw_format", rawFormat.String(),
			"frame_format", format.String(),
		)
	}

	if sink != nil && len(pcm) > 0 {
		if err := sink.Enqueue(pcm); err != nil {
			slog.Warn("capture buffer: dispatch failed", "bytes", len(pcm), "error", err)
		}
	}
	return nil
}

// Len returns the byte lengths of the raw and processed sequences.
func (b *CaptureBuffer) Len() (raw, processed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.raw), len(b.processed)
}

// Processed returns a copy of the conditioned sequence.
func (b *CaptureBuffer) Processed() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.processed...)
}

// DrainAndReset atomically returns both sequences and clears the buffer.
func (b *CaptureBuffer) DrainAndReset() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{
		Raw:        b.raw,
		RawFormat:  b.rawFormat,
		RawDropped: b.dropped,
		Processed:  b.processed,
	}
	b.raw = nil
	b.processed = nil
	b.rawFormat = audio.Format{}
	b.dropped = 0
	return s
}
