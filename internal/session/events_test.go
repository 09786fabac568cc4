package session_test

import (
	"testing"
	"time"

	"github.com/MrWong99/livescribe/internal/session"
)

func TestNotifier_FIFO(t *testing.T) {
	t.Parallel()

	n := session.NewNotifier(8)
	defer n.Close()
	ch, cancel := n.Listen(100)
	defer cancel()

	for i := range 50 {
		n.Notify(session.Event{Type: session.EventProgress, Progress: i})
	}
	for i := range 50 {
		select {
		case e := <-ch:
			if e.Progress != i {
				t.Fatalf("event %d has progress %d", i, e.Progress)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestNotifier_SlowListenerDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	n := session.NewNotifier(4)
	slow, cancelSlow := n.Listen(1)
	defer cancelSlow()
	fast, cancelFast := n.Listen(64)
	defer cancelFast()

	for i := range 20 {
		n.Notify(session.Event{Type: session.EventLive, Version: uint64(i + 1)})
	}
	n.Close()

	var got int
	for range fast {
		got++
	}
	if got != 20 {
		t.Errorf("fast listener got %d events, want 20", got)
	}
	var slowGot int
	for range slow {
		slowGot++
	}
	if slowGot == 0 || slowGot > 20 {
		t.Errorf("slow listener got %d events", slowGot)
	}
}

func TestNotifier_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	n := session.NewNotifier(0)
	ch, cancel := n.Listen(1)
	n.Close()
	n.Close()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("listener channel still open after Close")
	}
	n.Notify(session.Event{Type: session.EventError})

	late, _ := n.Listen(1)
	if _, ok := <-late; ok {
		t.Error("listener registered after Close is open")
	}
}
