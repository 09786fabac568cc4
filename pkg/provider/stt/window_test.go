package stt_test

import (
	"testing"
	"time"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// pcmFor returns silence lasting d at 16 kHz mono.
func pcmFor(d time.Duration) []byte {
	return make([]byte, int(d*16000/time.Second)*2)
}

func TestStreamWindow_StepGating(t *testing.T) {
	t.Parallel()

	w := stt.StreamWindow{Step: time.Second, Window: 10 * time.Second}
	for i := range 4 {
		if _, _, ready := w.Push(pcmFor(200 * time.Millisecond)); ready {
			t.Fatalf("push %d ready before a full step", i)
		}
	}
	win, off, ready := w.Push(pcmFor(200 * time.Millisecond))
	if !ready {
		t.Fatal("not ready after one step of audio")
	}
	if off != 0 || len(win) != len(pcmFor(time.Second)) {
		t.Errorf("window = %d bytes at %v, want 1s at 0", len(win), off)
	}
}

func TestStreamWindow_SlidesAtCapacity(t *testing.T) {
	t.Parallel()

	w := stt.StreamWindow{Step: time.Second, Window: 3 * time.Second}
	var win []byte
	var off time.Duration
	for range 5 {
		win, off, _ = w.Push(pcmFor(time.Second))
	}
	if off != 2*time.Second {
		t.Errorf("offset = %v, want 2s", off)
	}
	if len(win) != len(pcmFor(3*time.Second)) {
		t.Errorf("window = %d bytes, want 3s", len(win))
	}
}

func TestStreamWindow_AdvanceAndFlush(t *testing.T) {
	t.Parallel()

	w := stt.StreamWindow{}
	w.Push(pcmFor(time.Second))
	w.Advance(600 * time.Millisecond)
	w.Advance(100 * time.Millisecond) // behind the window start: ignored

	if _, _, ok := w.Flush(); ok {
		t.Error("Flush after a completed pass reported pending audio")
	}
	w.Push(pcmFor(100 * time.Millisecond))
	win, off, ok := w.Flush()
	if !ok || off != 600*time.Millisecond || len(win) != len(pcmFor(500*time.Millisecond)) {
		t.Errorf("Flush = %d bytes at %v ok=%v", len(win), off, ok)
	}

	w.Reset()
	if _, _, ok := w.Flush(); ok {
		t.Error("Flush after Reset reported pending audio")
	}
	if _, off, _ := w.Push(pcmFor(time.Second)); off != 0 {
		t.Errorf("offset after Reset = %v, want 0", off)
	}
}

func TestSettle(t *testing.T) {
	t.Parallel()

	if _, ok := stt.Settle([]stt.Segment{{End: time.Second}}); ok {
		t.Error("single segment should not settle")
	}
	at, ok := stt.Settle([]stt.Segment{{End: time.Second}, {End: 2 * time.Second}, {End: 3 * time.Second}})
	if !ok || at != 2*time.Second {
		t.Errorf("Settle = %v, %v; want 2s, true", at, ok)
	}
}
