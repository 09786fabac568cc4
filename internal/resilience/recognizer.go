package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// Recognizer implements [stt.Recognizer] over a primary and fallback
// backends. Every call goes to the first backend whose breaker admits it;
// segments of the backend that served a call are republished to the
// Recognizer's own subscribers before the call returns.
//
// A backend only sees the stream chunks routed to it, so its stream clock
// lags the session. Segments it emits are shifted by the audio it missed.
type Recognizer struct {
	stt.Hub

	group *FallbackGroup[stt.Recognizer]

	// mu serializes processing calls, keeping segment order and the
	// stream accounting consistent.
	mu       sync.Mutex
	streamed time.Duration
	fed      map[stt.Recognizer]time.Duration
}

var _ stt.Recognizer = (*Recognizer)(nil)

// NewRecognizer returns a Recognizer with primary as the preferred backend.
// Model-not-initialized errors never trip a breaker.
func NewRecognizer(primary stt.Recognizer, primaryName string, cfg FallbackConfig) *Recognizer {
	classify := cfg.CircuitBreaker.IsFailure
	if classify == nil {
		classify = countsAsFailure
	}
	cfg.CircuitBreaker.IsFailure = func(err error) bool {
		return !errors.Is(err, stt.ErrModelNotInitialized) && classify(err)
	}
	return &Recognizer{
		group: NewFallbackGroup(primary, primaryName, cfg),
		fed:   make(map[stt.Recognizer]time.Duration),
	}
}

// AddFallback registers another backend.
func (r *Recognizer) AddFallback(name string, rec stt.Recognizer) {
	r.group.AddFallback(name, rec)
}

// Breaker returns the breaker guarding the named backend.
func (r *Recognizer) Breaker(name string) *CircuitBreaker {
	return r.group.Breaker(name)
}

// InitModel initializes every backend that is not ready yet. It succeeds
// when at least one backend is initialized afterwards.
func (r *Recognizer) InitModel(ctx context.Context, src stt.ModelSource, language string) error {
	var errs []error
	r.group.Each(func(name string, rec stt.Recognizer) {
		if rec.IsInitialized() {
			return
		}
		if err := rec.InitModel(ctx, src, language); err != nil {
			errs = append(errs, err)
		}
	})
	if r.IsInitialized() {
		return nil
	}
	return errors.Join(errs...)
}

// IsInitialized reports whether any backend is initialized.
func (r *Recognizer) IsInitialized() bool {
	ready := false
	r.group.Each(func(_ string, rec stt.Recognizer) {
		ready = ready || rec.IsInitialized()
	})
	return ready
}

// ProcessBatch implements stt.Recognizer.
func (r *Recognizer) ProcessBatch(ctx context.Context, pcm []byte, offset time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.route(ctx, 0, func(rec stt.Recognizer) error {
		return rec.ProcessBatch(ctx, pcm, offset)
	})
	return err
}

// ProcessStreamingChunk implements stt.Recognizer.
func (r *Recognizer) ProcessStreamingChunk(ctx context.Context, pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.route(ctx, -1, func(rec stt.Recognizer) error {
		return rec.ProcessStreamingChunk(ctx, pcm)
	})
	d := audio.Conditioned.Duration(len(pcm))
	if err == nil {
		r.fed[rec] += d
	}
	r.streamed += d
	return err
}

// route runs call on the first admitted backend and relays its segments.
// A negative shift means "the audio this backend missed so far".
func (r *Recognizer) route(ctx context.Context, shift time.Duration, call func(stt.Recognizer) error) (stt.Recognizer, error) {
	if !r.IsInitialized() {
		return nil, stt.ErrModelNotInitialized
	}
	rec, err := ExecuteWithResult(r.group, func(rec stt.Recognizer) (stt.Recognizer, error) {
		if !rec.IsInitialized() {
			return nil, stt.ErrModelNotInitialized
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		by := shift
		if by < 0 {
			by = r.streamed - r.fed[rec]
		}
		return rec, r.relay(ctx, rec, by, call)
	})
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return rec, err
}

// relay forwards the segments rec emits during call, shifted by by.
func (r *Recognizer) relay(ctx context.Context, rec stt.Recognizer, by time.Duration, call func(stt.Recognizer) error) error {
	segs, cancel := rec.Subscribe(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for s := range segs {
			r.Publish(ctx, s.Shift(by))
		}
	}()
	err := call(rec)
	cancel()
	<-done
	return err
}

// FlushStream flushes every backend that received stream audio, relaying
// its final segments with the same shift its chunks got. Breakers are not
// consulted: a backend holding audio is asked to finish it.
func (r *Recognizer) FlushStream(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	r.group.Each(func(name string, rec stt.Recognizer) {
		if r.fed[rec] == 0 {
			return
		}
		if err := r.relay(ctx, rec, r.streamed-r.fed[rec], func(rec stt.Recognizer) error {
			return rec.FlushStream(ctx)
		}); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	})
	return errors.Join(errs...)
}

// ResetStream resets every backend and the stream accounting.
func (r *Recognizer) ResetStream() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.group.Each(func(_ string, rec stt.Recognizer) { rec.ResetStream() })
	r.streamed = 0
	clear(r.fed)
}

// Close closes every backend and all subscriptions.
func (r *Recognizer) Close() error {
	var errs []error
	r.group.Each(func(_ string, rec stt.Recognizer) {
		if err := rec.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	r.Hub.Close()
	return errors.Join(errs...)
}
