package reconcile_test

import (
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/internal/reconcile"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

func seg(start, end float64, text string) stt.Segment {
	return stt.Segment{
		Start: time.Duration(start * float64(time.Second)),
		End:   time.Duration(end * float64(time.Second)),
		Text:  text,
	}
}

func TestReconciler_RevisionThenNextSegment(t *testing.T) {
	t.Parallel()

	var published []reconcile.Snapshot
	r := reconcile.New(reconcile.WithPublisher(func(s reconcile.Snapshot) {
		published = append(published, s)
	}))
	r.Start()

	if got := r.Add(seg(0, 1, "hel")); got != reconcile.Inserted {
		t.Errorf("first add = %v, want inserted", got)
	}
	if got := r.Add(seg(0, 1, "hello")); got != reconcile.Revised {
		t.Errorf("revision = %v, want revised", got)
	}
	if r.CommittedUntil() != 0 {
		t.Errorf("watermark moved while the only segment is last: %v", r.CommittedUntil())
	}
	r.Add(seg(1, 2, "world"))

	segs := r.Segments()
	if len(segs) != 2 || segs[0].Text != "hello" || segs[1].Text != "world" {
		t.Fatalf("segments = %+v, want [hello world]", segs)
	}
	if r.CommittedUntil() != time.Second {
		t.Errorf("CommittedUntil = %v, want 1s", r.CommittedUntil())
	}
	snap := r.Snapshot()
	if snap.Live != "hello world" || snap.Committed != "hello" || snap.Hypothesis != "world" {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(published) != 3 {
		t.Fatalf("published %d snapshots, want 3", len(published))
	}
	if published[0].Live != "hel" || published[1].Live != "hello" {
		t.Errorf("published live texts = %q, %q", published[0].Live, published[1].Live)
	}
	if published[2].Version != 3 {
		t.Errorf("final version = %d, want 3", published[2].Version)
	}
}

func TestReconciler_BlankTextIgnored(t *testing.T) {
	t.Parallel()

	r := reconcile.New()
	r.Start()
	for _, text := range []string{"", "   ", "\n\t"} {
		if got := r.Add(seg(0, 1, text)); got != reconcile.Ignored {
			t.Errorf("Add(%q) = %v, want ignored", text, got)
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestReconciler_TrimsSegmentText(t *testing.T) {
	t.Parallel()

	r := reconcile.New()
	r.Start()
	r.Add(seg(0, 1, " hello"))
	r.Add(seg(1, 2, " world "))

	snap := r.Snapshot()
	if snap.Live != "hello world" || snap.Committed != "hello" || snap.Hypothesis != "world" {
		t.Errorf("snapshot = %+v, want hello world split at 1s", snap)
	}
	if segs := r.Segments(); segs[0].Text != "hello" || segs[1].Text != "world" {
		t.Errorf("stored texts = %q, %q", segs[0].Text, segs[1].Text)
	}
}

func partial(start, end float64, text string) stt.Segment {
	s := seg(start, end, text)
	s.Partial = true
	return s
}

func TestReconciler_PartialSupersededByOverlap(t *testing.T) {
	t.Parallel()

	r := reconcile.New()
	r.Start()
	r.Add(seg(0, 1, "the"))
	r.Add(partial(1, 2, "dragon"))
	// The next pass moves the tail's end and splits off a new tail.
	if got := r.Add(seg(1, 2.2, "dragon wakes")); got != reconcile.Revised {
		t.Errorf("overlapping final = %v, want revised", got)
	}
	r.Add(partial(2.2, 3, "at"))
	r.Add(partial(2.2, 3.4, "at dawn"))

	segs := r.Segments()
	if len(segs) != 3 {
		t.Fatalf("segments = %+v, want 3", segs)
	}
	if got := r.Snapshot().Live; got != "the dragon wakes at dawn" {
		t.Errorf("Live = %q", got)
	}
	if r.CommittedUntil() != 2200*time.Millisecond {
		t.Errorf("CommittedUntil = %v, want 2.2s", r.CommittedUntil())
	}
}

func TestReconciler_CommittedPartialKept(t *testing.T) {
	t.Parallel()

	r := reconcile.New()
	r.Start()
	r.Add(partial(0, 1, "hello"))
	r.Add(seg(1, 2, "there"))
	r.Add(seg(2, 3, "friend"))
	if r.CommittedUntil() != 2*time.Second {
		t.Fatalf("CommittedUntil = %v, want 2s", r.CommittedUntil())
	}

	// A late overlap must not rewrite committed text.
	r.Add(seg(0.5, 1.5, "late"))
	snap := r.Snapshot()
	if !strings.HasPrefix(snap.Committed, "hello") {
		t.Errorf("committed = %q, partial was dropped after commit", snap.Committed)
	}
	if r.Len() != 4 {
		t.Errorf("Len = %d, want 4", r.Len())
	}
}

func TestReconciler_IdleIgnoresSegments(t *testing.T) {
	t.Parallel()

	r := reconcile.New()
	if r.State() != reconcile.StateIdle {
		t.Fatalf("new reconciler state = %v", r.State())
	}
	if got := r.Add(seg(0, 1, "early")); got != reconcile.Ignored {
		t.Errorf("Add while idle = %v, want ignored", got)
	}

	r.Start()
	r.Add(seg(0, 1, "a"))
	r.Add(seg(1, 2, "b"))
	snap, segs := r.Stop()
	if snap.Live != "a b" || len(segs) != 2 {
		t.Errorf("Stop returned %+v, %d segments", snap, len(segs))
	}
	if r.State() != reconcile.StateIdle || r.Len() != 0 {
		t.Errorf("after Stop: state=%v len=%d", r.State(), r.Len())
	}
	if got := r.Add(seg(2, 3, "late")); got != reconcile.Ignored {
		t.Errorf("Add after Stop = %v, want ignored", got)
	}
}

func TestReconciler_StartClearsPreviousSession(t *testing.T) {
	t.Parallel()

	r := reconcile.New()
	r.Start()
	r.Add(seg(0, 1, "old"))
	r.Add(seg(1, 2, "session"))
	r.Start()
	if r.Len() != 0 || r.CommittedUntil() != 0 || r.Snapshot().Live != "" {
		t.Errorf("Start did not reset: %+v", r.Snapshot())
	}
}

func TestReconciler_OutOfOrderArrivalSortedByStart(t *testing.T) {
	t.Parallel()

	r := reconcile.New()
	r.Start()
	r.Add(seg(2, 3, "c"))
	r.Add(seg(0, 1, "a"))
	r.Add(seg(1, 2, "b"))

	var texts []string
	for _, s := range r.Segments() {
		texts = append(texts, s.Text)
	}
	if got := strings.Join(texts, ""); got != "abc" {
		t.Errorf("order = %q, want abc", got)
	}
	if r.Snapshot().Live != "a b c" {
		t.Errorf("Live = %q", r.Snapshot().Live)
	}
}

func TestReconciler_EqualStartsKeepArrivalOrder(t *testing.T) {
	t.Parallel()

	r := reconcile.New()
	r.Start()
	r.Add(seg(0, 2, "long"))
	r.Add(seg(0, 1, "short"))
	segs := r.Segments()
	if segs[0].Text != "long" || segs[1].Text != "short" {
		t.Errorf("tie order = %q, %q", segs[0].Text, segs[1].Text)
	}
}

func TestReconciler_SegmentBeforeWatermarkNotCommitted(t *testing.T) {
	t.Parallel()

	r := reconcile.New()
	r.Start()
	r.Add(seg(0, 2, "a"))
	r.Add(seg(2, 4, "b"))
	if r.CommittedUntil() != 2*time.Second {
		t.Fatalf("CommittedUntil = %v, want 2s", r.CommittedUntil())
	}
	// Starts before the watermark and ends after it: never eligible.
	r.Add(seg(1, 3, "x"))
	if r.CommittedUntil() != 2*time.Second {
		t.Errorf("straddling segment moved watermark to %v", r.CommittedUntil())
	}
	snap := r.Snapshot()
	if snap.Committed != "a" || snap.Hypothesis != "x b" {
		t.Errorf("committed=%q hypothesis=%q", snap.Committed, snap.Hypothesis)
	}
}

func TestJoinLive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		committed, hypothesis, want string
	}{
		{"", "", ""},
		{"a", "", "a"},
		{"", "b", "b"},
		{"a", "b", "a b"},
	}
	for _, tc := range tests {
		if got := reconcile.JoinLive(tc.committed, tc.hypothesis); got != tc.want {
			t.Errorf("JoinLive(%q, %q) = %q, want %q", tc.committed, tc.hypothesis, got, tc.want)
		}
	}
}

func TestReconciler_RandomSequencesKeepInvariants(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	for round := range 200 {
		r := reconcile.New()
		r.Start()
		var prev time.Duration
		latest := make(map[[2]time.Duration]string)

		for i := range 40 {
			start := time.Duration(rng.IntN(20)) * 500 * time.Millisecond
			end := start + time.Duration(1+rng.IntN(4))*500*time.Millisecond
			text := "w" + string(rune('a'+i%26))
			r.Add(stt.Segment{Start: start, End: end, Text: text})
			latest[[2]time.Duration{start, end}] = text

			until := r.CommittedUntil()
			if until < prev {
				t.Fatalf("round %d step %d: watermark retreated %v -> %v", round, i, prev, until)
			}
			prev = until

			snap := r.Snapshot()
			if strings.Contains(snap.Live, "  ") || strings.HasPrefix(snap.Live, " ") || strings.HasSuffix(snap.Live, " ") {
				t.Fatalf("round %d step %d: stray separator in %q", round, i, snap.Live)
			}
			if want := reconcile.JoinLive(snap.Committed, snap.Hypothesis); snap.Live != want {
				t.Fatalf("round %d step %d: Live = %q, want %q", round, i, snap.Live, want)
			}
		}

		segs := r.Segments()
		if len(segs) != len(latest) {
			t.Fatalf("round %d: %d segments for %d distinct ranges", round, len(segs), len(latest))
		}
		for j, s := range segs {
			if want := latest[[2]time.Duration{s.Start, s.End}]; s.Text != want {
				t.Fatalf("round %d: range %v-%v holds %q, want latest %q", round, s.Start, s.End, s.Text, want)
			}
			if j > 0 && segs[j-1].Start > s.Start {
				t.Fatalf("round %d: segments not sorted by start", round)
			}
		}
	}
}

func TestReconciler_ConcurrentAddsPublishInVersionOrder(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		versions []uint64
	)
	r := reconcile.New(reconcile.WithPublisher(func(s reconcile.Snapshot) {
		mu.Lock()
		versions = append(versions, s.Version)
		mu.Unlock()
	}))
	r.Start()

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Go(func() {
			for i := range 25 {
				r.Add(seg(float64(g*25+i), float64(g*25+i+1), "x"))
			}
		})
	}
	wg.Wait()

	if len(versions) != 200 {
		t.Fatalf("published %d snapshots, want 200", len(versions))
	}
	for i, v := range versions {
		if v != uint64(i+1) {
			t.Fatalf("versions[%d] = %d, want %d", i, v, i+1)
		}
	}
}
