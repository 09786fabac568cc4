package stt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// RecognizeFunc runs one inference pass over conditioned pcm and calls emit
// for each segment as it is produced, with times relative to pcm start.
type RecognizeFunc func(ctx context.Context, pcm []byte, emit func(Segment)) error

// Windowed implements the processing half of [Recognizer] for batch-only
// engines. Batches are recognized directly; streamed chunks accumulate in a
// [StreamWindow] and each ready window is recognized as a batch. Every
// segment of a streaming pass but the last is final and the window advances
// past it; the last is published as Partial and recognized again by the
// next pass, or finalized by FlushStream.
//
// Backends embed Windowed, set Name and Run, and provide InitModel and
// Close. Inference passes are serialized.
type Windowed struct {
	Hub

	// Name labels log lines and errors.
	Name string

	// Run performs one inference pass.
	Run RecognizeFunc

	// Window configures streaming; the zero value uses package defaults.
	Window StreamWindow

	mu   sync.Mutex // serializes inference and guards Window and tail
	tail *Segment   // provisional last segment of the latest streaming pass

	stateMu     sync.RWMutex
	initialized bool
	language    string
}

// IsInitialized implements Recognizer.
func (w *Windowed) IsInitialized() bool {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.initialized
}

// MarkInitialized records a successful model load for language.
func (w *Windowed) MarkInitialized(language string) {
	if language == "" {
		language = LanguageAuto
	}
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	w.initialized = true
	w.language = language
}

// Language returns the language passed to the last successful model load.
func (w *Windowed) Language() string {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.language
}

// pass runs one inference with segment times shifted by offset. With
// publish set, each segment is published as soon as it is produced.
func (w *Windowed) pass(ctx context.Context, pcm []byte, offset time.Duration, publish bool) ([]Segment, error) {
	if !w.IsInitialized() {
		return nil, ErrModelNotInitialized
	}
	var segs []Segment
	err := w.Run(ctx, pcm, func(s Segment) {
		s = s.Shift(offset)
		segs = append(segs, s)
		if publish {
			w.Publish(ctx, s)
		}
	})
	if err != nil {
		return segs, fmt.Errorf("stt %s: %w", w.Name, err)
	}
	return segs, nil
}

// ProcessBatch implements Recognizer.
func (w *Windowed) ProcessBatch(ctx context.Context, pcm []byte, offset time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	start := time.Now()
	segs, err := w.pass(ctx, pcm, offset, true)
	slog.Debug("stt: batch pass",
		"backend", w.Name,
		"audio", audio.Conditioned.Duration(len(pcm)),
		"offset", offset,
		"segments", len(segs),
		"took", time.Since(start),
	)
	return err
}

// ProcessStreamingChunk implements Recognizer. A failed pass publishes
// nothing; the next pass covers the same audio.
func (w *Windowed) ProcessStreamingChunk(ctx context.Context, pcm []byte) error {
	if !w.IsInitialized() {
		return ErrModelNotInitialized
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	window, offset, ready := w.Window.Push(pcm)
	if !ready {
		return nil
	}
	segs, err := w.pass(ctx, window, offset, false)
	if err != nil {
		return err
	}
	w.publishStream(ctx, segs, true)
	if at, ok := Settle(segs); ok {
		w.Window.Advance(at)
	}
	return nil
}

// FlushStream implements Recognizer. Audio that arrived since the last
// pass is recognized together with the provisional tail, and every
// resulting segment is final.
func (w *Windowed) FlushStream(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	window, offset, ok := w.Window.Flush()
	if !ok {
		w.finalizeTail(ctx)
		return nil
	}
	segs, err := w.pass(ctx, window, offset, false)
	if err != nil || len(segs) == 0 {
		w.finalizeTail(ctx)
		return err
	}
	w.publishStream(ctx, segs, false)
	w.Window.Advance(segs[len(segs)-1].End)
	return nil
}

// publishStream publishes the segments of a streaming pass. With
// provisional set, the last one is marked Partial and kept as the tail.
func (w *Windowed) publishStream(ctx context.Context, segs []Segment, provisional bool) {
	if len(segs) == 0 {
		return
	}
	w.tail = nil
	for i, s := range segs {
		if provisional && i == len(segs)-1 {
			s.Partial = true
			w.tail = &s
		}
		w.Publish(ctx, s)
	}
}

// finalizeTail republishes the provisional tail, if any, as final.
func (w *Windowed) finalizeTail(ctx context.Context) {
	if w.tail == nil {
		return
	}
	s := *w.tail
	s.Partial = false
	w.tail = nil
	w.Publish(ctx, s)
}

// ResetStream implements Recognizer.
func (w *Windowed) ResetStream() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Window.Reset()
	w.tail = nil
}
