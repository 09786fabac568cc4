package session

import (
	"log/slog"
	"sync"
)

// EventType tags an [Event].
type EventType string

const (
	// EventLive carries the reconciled live transcript.
	EventLive EventType = "live"
	// EventProgress carries file transcription progress (0-100).
	EventProgress EventType = "progress"
	// EventRecording reports a state change.
	EventRecording EventType = "recording"
	// EventError reports a session-level failure.
	EventError EventType = "error"
)

// Event is one update on the UI path.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`

	// EventLive
	Version    uint64 `json:"version,omitempty"`
	Live       string `json:"live,omitempty"`
	Committed  string `json:"committed,omitempty"`
	Hypothesis string `json:"hypothesis,omitempty"`

	// EventProgress
	Progress int `json:"progress,omitempty"`

	// EventRecording
	State string `json:"state,omitempty"`

	// EventError
	Error string `json:"error,omitempty"`
}

// Notifier serializes events onto one delivery goroutine and fans them out
// to listeners in FIFO order. A listener that falls behind loses events
// rather than stalling the others.
type Notifier struct {
	queue chan Event
	done  chan struct{}

	// sendMu guards closed and sends on queue.
	sendMu sync.RWMutex
	closed bool

	mu        sync.Mutex
	listeners map[int]chan Event
	nextID    int
}

// NewNotifier starts a Notifier with a queue of size events.
func NewNotifier(size int) *Notifier {
	if size <= 0 {
		size = 256
	}
	n := &Notifier{
		queue:     make(chan Event, size),
		done:      make(chan struct{}),
		listeners: make(map[int]chan Event),
	}
	go n.run()
	return n
}

// Notify enqueues e. It blocks only while the queue is full and returns
// immediately after Close.
func (n *Notifier) Notify(e Event) {
	n.sendMu.RLock()
	defer n.sendMu.RUnlock()
	if n.closed {
		return
	}
	n.queue <- e
}

func (n *Notifier) run() {
	defer close(n.done)
	for e := range n.queue {
		n.mu.Lock()
		for id, ch := range n.listeners {
			select {
			case ch <- e:
			default:
				slog.Debug("notifier: listener behind, event dropped", "listener", id, "type", e.Type)
			}
		}
		n.mu.Unlock()
	}
}

// Listen registers a listener with a buffer of size events. cancel
// unregisters it and closes the channel; it is safe to call more than once.
func (n *Notifier) Listen(size int) (<-chan Event, func()) {
	ch := make(chan Event, max(size, 1))
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listeners == nil {
		close(ch)
		return ch, func() {}
	}
	id := n.nextID
	n.nextID++
	n.listeners[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if _, ok := n.listeners[id]; ok {
				delete(n.listeners, id)
				close(ch)
			}
		})
	}
}

// Close delivers what is queued, then closes every listener.
func (n *Notifier) Close() {
	n.sendMu.Lock()
	if n.closed {
		n.sendMu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	close(n.queue)
	n.sendMu.Unlock()

	<-n.done
	n.mu.Lock()
	for _, ch := range n.listeners {
		close(ch)
	}
	n.listeners = nil
	n.mu.Unlock()
}
