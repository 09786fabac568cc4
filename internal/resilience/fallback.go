package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or
// had an open breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig configures the breaker created for each entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and ordered fallbacks of the same type,
// each behind its own [CircuitBreaker].
type FallbackGroup[T any] struct {
	cfg FallbackConfig

	mu      sync.RWMutex
	entries []*fallbackEntry[T]
}

// NewFallbackGroup returns a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(primaryName, primary)
	return g
}

// AddFallback appends an entry tried after all earlier ones.
func (g *FallbackGroup[T]) AddFallback(name string, v T) {
	cb := g.cfg.CircuitBreaker
	cb.Name = name
	g.mu.Lock()
	g.entries = append(g.entries, &fallbackEntry[T]{name: name, value: v, breaker: NewCircuitBreaker(cb)})
	g.mu.Unlock()
}

// Each calls fn for every entry in order.
func (g *FallbackGroup[T]) Each(fn func(name string, v T)) {
	for _, e := range g.snapshot() {
		fn(e.name, e.value)
	}
}

// Breaker returns the breaker of the named entry, or nil.
func (g *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for _, e := range g.snapshot() {
		if e.name == name {
			return e.breaker
		}
	}
	return nil
}

func (g *FallbackGroup[T]) snapshot() []*fallbackEntry[T] {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entries
}

// Execute tries fn on each entry until one succeeds. Entries with an open
// breaker are skipped.
func (g *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(g, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is Execute for functions with a result.
func ExecuteWithResult[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for _, e := range g.snapshot() {
		var res R
		err := e.breaker.Execute(func() error {
			var err error
			res, err = fn(e.value)
			return err
		})
		if err == nil {
			return res, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping backend, circuit open", "backend", e.name)
			continue
		}
		slog.Warn("resilience: backend failed, trying next", "backend", e.name, "error", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
