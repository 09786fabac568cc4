package buffer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrQueueFull is returned by Enqueue when the queue is at capacity.
	// The increment is dropped.
	ErrQueueFull = errors.New("buffer: dispatch queue full")

	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("buffer: dispatcher closed")
)

// DefaultQueueSize is the dispatch queue depth used when none is configured.
const DefaultQueueSize = 64

// HandlerFunc processes one conditioned increment.
type HandlerFunc func(ctx context.Context, pcm []byte) error

// Dispatcher feeds queued increments to a handler from a single goroutine,
// preserving arrival order. Handler errors are logged and processing
// continues with the next increment.
type Dispatcher struct {
	handle  HandlerFunc
	onDepth func(delta int64)
	onError func(err error)

	mu     sync.RWMutex
	queue  chan []byte
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDepthHook registers fn to be called with +1 on enqueue and -1 on
// dequeue.
func WithDepthHook(fn func(delta int64)) DispatcherOption {
	return func(d *Dispatcher) { d.onDepth = fn }
}

// WithErrorHook registers fn to be called for every handler error.
func WithErrorHook(fn func(err error)) DispatcherOption {
	return func(d *Dispatcher) { d.onError = fn }
}

// NewDispatcher starts a Dispatcher with a queue of size entries. The
// consumer goroutine runs until Close or until ctx is cancelled.
func NewDispatcher(ctx context.Context, size int, handle HandlerFunc, opts ...DispatcherOption) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(ctx)
	d := &Dispatcher{
		handle: handle,
		queue:  make(chan []byte, size),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	go d.run(ctx)
	return d
}

// Enqueue implements Sink. It never blocks.
func (d *Dispatcher) Enqueue(pcm []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- pcm:
		d.depth(1)
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) depth(delta int64) {
	if d.onDepth != nil {
		d.onDepth(delta)
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			// Abandon whatever is still queued.
			for range len(d.queue) {
				<-d.queue
				d.depth(-1)
			}
			return
		case pcm, ok := <-d.queue:
			if !ok {
				return
			}
			d.depth(-1)
			if ctx.Err() != nil {
				continue
			}
			if err := d.handle(ctx, pcm); err != nil {
				if ctx.Err() != nil {
					// Stopped mid-call: the result is discarded.
					continue
				}
				slog.Warn("dispatcher: handler failed, continuing", "bytes", len(pcm), "error", err)
				if d.onError != nil {
					d.onError(err)
				}
			}
		}
	}
}

// Close stops accepting increments and waits for the queue to drain. If
// ctx ends first the in-flight call is cancelled, the remainder is
// discarded, and ctx's error is returned. Close is idempotent.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.done
		return ctx.Err()
	}
}

// Abort cancels in-flight work, discards the queue and waits for the
// consumer to exit.
func (d *Dispatcher) Abort() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.cancel()
	<-d.done
}
