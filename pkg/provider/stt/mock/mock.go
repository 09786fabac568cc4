// Package mock provides a test double for the stt.Recognizer interface.
//
// Recognizer records every call and emits scripted segments to its
// subscribers, so tests can drive the reconciler and session controller
// without a real backend.
//
// Example:
//
//	rec := &mock.Recognizer{
//	    StreamSegments: [][]stt.Segment{{{Start: 0, End: time.Second, Text: "hello"}}},
//	}
//	_ = rec.InitModel(ctx, stt.ModelSource{Path: "m.bin"}, "en")
//	segs, cancel := rec.Subscribe(8)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

var _ stt.Recognizer = (*Recognizer)(nil)

// InitModelCall records one InitModel invocation.
type InitModelCall struct {
	Source   stt.ModelSource
	Language string
}

// BatchCall records one ProcessBatch invocation.
type BatchCall struct {
	// PCM is a copy of the audio passed in.
	PCM    []byte
	Offset time.Duration
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	stt.Hub

	mu sync.Mutex

	// InitErr is returned by InitModel when non-nil.
	InitErr error

	// BatchErr and StreamErr are returned by the processing methods when
	// non-nil. Segments are not emitted for failing calls.
	BatchErr  error
	StreamErr error

	// BatchSegments are emitted on every ProcessBatch call, shifted by the
	// call's offset.
	BatchSegments []stt.Segment

	// StreamSegments[i] is emitted on the i-th ProcessStreamingChunk call.
	// Calls beyond the script emit nothing.
	StreamSegments [][]stt.Segment

	// FlushSegments are emitted on every FlushStream call.
	FlushSegments []stt.Segment

	// FlushErr is returned by FlushStream when non-nil.
	FlushErr error

	// OnProcess, when set, runs at the start of every processing call. Tests
	// use it to block or to observe ordering.
	OnProcess func(pcm []byte)

	// Initialized pre-marks the recognizer as initialized.
	Initialized bool

	InitCalls   []InitModelCall
	BatchCalls  []BatchCall
	StreamCalls [][]byte
	Flushes     int
	Resets      int
	Closed      bool
}

// InitModel records the call and marks the recognizer initialized.
func (r *Recognizer) InitModel(_ context.Context, src stt.ModelSource, language string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.InitCalls = append(r.InitCalls, InitModelCall{Source: src, Language: language})
	if r.InitErr != nil {
		return r.InitErr
	}
	if src.IsZero() {
		return stt.ErrNoModel
	}
	r.Initialized = true
	return nil
}

// IsInitialized implements stt.Recognizer.
func (r *Recognizer) IsInitialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Initialized
}

// ProcessBatch records the call and emits BatchSegments.
func (r *Recognizer) ProcessBatch(ctx context.Context, pcm []byte, offset time.Duration) error {
	r.mu.Lock()
	if !r.Initialized {
		r.mu.Unlock()
		return stt.ErrModelNotInitialized
	}
	r.BatchCalls = append(r.BatchCalls, BatchCall{PCM: append([]byte(nil), pcm...), Offset: offset})
	hook, err := r.OnProcess, r.BatchErr
	segs := append([]stt.Segment(nil), r.BatchSegments...)
	r.mu.Unlock()

	if hook != nil {
		hook(pcm)
	}
	if err != nil {
		return err
	}
	for _, s := range segs {
		r.Publish(ctx, s.Shift(offset))
	}
	return nil
}

// ProcessStreamingChunk records the call and emits the next scripted batch.
func (r *Recognizer) ProcessStreamingChunk(ctx context.Context, pcm []byte) error {
	r.mu.Lock()
	if !r.Initialized {
		r.mu.Unlock()
		return stt.ErrModelNotInitialized
	}
	idx := len(r.StreamCalls)
	r.StreamCalls = append(r.StreamCalls, append([]byte(nil), pcm...))
	hook, err := r.OnProcess, r.StreamErr
	var segs []stt.Segment
	if idx < len(r.StreamSegments) {
		segs = r.StreamSegments[idx]
	}
	r.mu.Unlock()

	if hook != nil {
		hook(pcm)
	}
	if err != nil {
		return err
	}
	for _, s := range segs {
		r.Publish(ctx, s)
	}
	return nil
}

// FlushStream records the call and emits FlushSegments.
func (r *Recognizer) FlushStream(ctx context.Context) error {
	r.mu.Lock()
	r.Flushes++
	err := r.FlushErr
	segs := append([]stt.Segment(nil), r.FlushSegments...)
	r.mu.Unlock()

	if err != nil {
		return err
	}
	for _, s := range segs {
		r.Publish(ctx, s)
	}
	return nil
}

// ResetStream implements stt.Recognizer.
func (r *Recognizer) ResetStream() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Resets++
}

// Close closes all subscriptions.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	r.Closed = true
	r.mu.Unlock()
	r.Hub.Close()
	return nil
}

// StreamCallCount returns the number of ProcessStreamingChunk calls. Thread-safe.
func (r *Recognizer) StreamCallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.StreamCalls)
}

// StreamedBytes returns all PCM passed to ProcessStreamingChunk, in order.
func (r *Recognizer) StreamedBytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, c := range r.StreamCalls {
		out = append(out, c...)
	}
	return out
}

// Batches returns a copy of the recorded ProcessBatch calls. Thread-safe.
func (r *Recognizer) Batches() []BatchCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]BatchCall(nil), r.BatchCalls...)
}
