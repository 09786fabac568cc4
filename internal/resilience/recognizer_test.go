package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/internal/resilience"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/livescribe/pkg/provider/stt/mock"
)

func collect(t *testing.T, r stt.Recognizer, fn func()) []stt.Segment {
	t.Helper()
	ch, cancel := r.Subscribe(16)
	fn()
	cancel()
	var out []stt.Segment
	for s := range ch {
		out = append(out, s)
	}
	return out
}

func TestRecognizer_BatchFailover(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Recognizer{Initialized: true, BatchErr: errBackend}
	secondary := &sttmock.Recognizer{
		Initialized:   true,
		BatchSegments: []stt.Segment{{Start: 0, End: time.Second, Text: "hello"}},
	}
	r := resilience.NewRecognizer(primary, "whisper", resilience.FallbackConfig{})
	r.AddFallback("openai", secondary)

	var err error
	segs := collect(t, r, func() {
		err = r.ProcessBatch(context.Background(), make([]byte, 3200), 2*time.Second)
	})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(segs) != 1 || segs[0].Text != "hello" || segs[0].Start != 2*time.Second {
		t.Errorf("segments = %+v", segs)
	}
	if len(primary.Batches()) != 1 || len(secondary.Batches()) != 1 {
		t.Errorf("batches primary/secondary = %d/%d", len(primary.Batches()), len(secondary.Batches()))
	}
}

func TestRecognizer_StreamShiftsMissedAudio(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Recognizer{Initialized: true}
	secondary := &sttmock.Recognizer{
		Initialized:    true,
		StreamSegments: [][]stt.Segment{{{Start: 0, End: 500 * time.Millisecond, Text: "late"}}},
	}
	r := resilience.NewRecognizer(primary, "primary", resilience.FallbackConfig{})
	r.AddFallback("secondary", secondary)
	ctx := context.Background()

	second := make([]byte, 32000)
	if err := r.ProcessStreamingChunk(ctx, second); err != nil {
		t.Fatalf("chunk 1: %v", err)
	}
	primary.StreamErr = errBackend
	var err error
	segs := collect(t, r, func() { err = r.ProcessStreamingChunk(ctx, second) })
	if err != nil {
		t.Fatalf("chunk 2: %v", err)
	}
	if len(segs) != 1 || segs[0].Start != time.Second || segs[0].End != 1500*time.Millisecond {
		t.Errorf("segments = %+v, want shifted by the 1s the fallback missed", segs)
	}
}

func TestRecognizer_FlushRelaysFedBackends(t *testing.T) {
	t.Parallel()

	half := 500 * time.Millisecond
	primary := &sttmock.Recognizer{
		Initialized:   true,
		FlushSegments: []stt.Segment{{Start: 0, End: half, Text: "primary tail"}},
	}
	secondary := &sttmock.Recognizer{
		Initialized:   true,
		FlushSegments: []stt.Segment{{Start: 0, End: half, Text: "secondary tail"}},
	}
	idle := &sttmock.Recognizer{Initialized: true}
	r := resilience.NewRecognizer(primary, "primary", resilience.FallbackConfig{})
	r.AddFallback("secondary", secondary)
	r.AddFallback("idle", idle)
	ctx := context.Background()

	second := make([]byte, 32000)
	for i := range 2 {
		if err := r.ProcessStreamingChunk(ctx, second); err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
	}
	primary.StreamErr = errBackend
	if err := r.ProcessStreamingChunk(ctx, second); err != nil {
		t.Fatalf("chunk 3: %v", err)
	}

	var err error
	segs := collect(t, r, func() { err = r.FlushStream(ctx) })
	if err != nil {
		t.Fatalf("FlushStream: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("segments = %+v, want one per fed backend", segs)
	}
	if segs[0].Text != "primary tail" || segs[0].Start != time.Second {
		t.Errorf("primary segment = %+v, want shifted by 1s", segs[0])
	}
	if segs[1].Text != "secondary tail" || segs[1].Start != 2*time.Second {
		t.Errorf("secondary segment = %+v, want shifted by 2s", segs[1])
	}
	if idle.Flushes != 0 {
		t.Errorf("backend without audio flushed %d times", idle.Flushes)
	}
}

func TestRecognizer_Initialization(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Recognizer{InitErr: errors.New("no gpu")}
	secondary := &sttmock.Recognizer{}
	r := resilience.NewRecognizer(primary, "primary", resilience.FallbackConfig{})
	r.AddFallback("secondary", secondary)

	if err := r.ProcessBatch(context.Background(), nil, 0); !errors.Is(err, stt.ErrModelNotInitialized) {
		t.Errorf("uninitialized batch: err = %v, want ErrModelNotInitialized", err)
	}
	if err := r.InitModel(context.Background(), stt.ModelSource{Path: "base"}, "en"); err != nil {
		t.Fatalf("InitModel: %v", err)
	}
	if !r.IsInitialized() {
		t.Fatal("not initialized after one backend loaded")
	}
	if err := r.ProcessBatch(context.Background(), make([]byte, 320), 0); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(secondary.Batches()) != 1 {
		t.Errorf("secondary batches = %d, want 1", len(secondary.Batches()))
	}
	if r.Breaker("primary").State() != resilience.StateClosed {
		t.Errorf("uninitialized backend tripped its breaker")
	}
}

func TestRecognizer_ResetAndClose(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Recognizer{Initialized: true}
	secondary := &sttmock.Recognizer{Initialized: true}
	r := resilience.NewRecognizer(primary, "primary", resilience.FallbackConfig{})
	r.AddFallback("secondary", secondary)

	r.ResetStream()
	if primary.Resets != 1 || secondary.Resets != 1 {
		t.Errorf("resets = %d/%d, want 1/1", primary.Resets, secondary.Resets)
	}
	ch, _ := r.Subscribe(1)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscription still open after Close")
	}
	if !primary.Closed || !secondary.Closed {
		t.Error("backends not closed")
	}
}
