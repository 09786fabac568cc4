package stt

import (
	"context"
	"sync"
)

// Hub fans segments out to subscribers in publish order. Backends embed a
// Hub to implement Recognizer.Subscribe.
//
// The zero value is ready to use.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Segment
	done   chan struct{}
	once   sync.Once
	closed bool
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		// done is closed first so a blocked Publish releases s.mu.
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// Subscribe implements Recognizer.Subscribe. Subscribing to a closed Hub
// returns an already-closed channel.
func (h *Hub) Subscribe(buffer int) (<-chan Segment, func()) {
	sub := &subscriber{
		ch:   make(chan Segment, max(buffer, 0)),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	if h.subs == nil {
		h.subs = make(map[int]*subscriber)
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel
}

// Publish delivers seg to every current subscriber, blocking on full
// buffers until the subscriber reads, cancels, or ctx is done.
func (h *Hub) Publish(ctx context.Context, seg Segment) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for id := 0; id < h.nextID; id++ {
		if s, ok := h.subs[id]; ok {
			subs = append(subs, s)
		}
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		if !s.closed {
			select {
			case s.ch <- seg:
			case <-s.done:
			case <-ctx.Done():
			}
		}
		s.mu.Unlock()
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscription. Later subscriptions are closed
// immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	h.closed = true
	h.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}
