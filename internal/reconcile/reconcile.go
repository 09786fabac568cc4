// Package reconcile folds revisable recognizer output into one live
// transcript.
//
// Recognizers re-emit the same time range with improved text as more audio
// arrives. The [Reconciler] keeps exactly one entry per (start, end) pair,
// orders entries by start time and advances a commit watermark so the
// displayed transcript grows append-only in its committed prefix while the
// tail stays live. Streaming recognizers whose revisions change the time
// range mark the provisional entry Partial; the next segment overlapping
// it takes its place.
//
// The newest segment in start order is never committed, even when the
// recognizer goes quiet. Callers that need everything (subtitle export,
// batch completion) read [Reconciler.Segments] instead of the committed
// text.
package reconcile

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// State is the lifecycle state of a Reconciler.
type State int

const (
	// StateIdle ignores incoming segments.
	StateIdle State = iota

	// StateActive folds incoming segments into the transcript.
	StateActive
)

// String returns "idle" or "active".
func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

// Result reports what [Reconciler.Add] did with a segment.
type Result int

const (
	// Ignored means the segment was dropped: blank text or an idle reconciler.
	Ignored Result = iota

	// Inserted means the segment opened a new time range.
	Inserted

	// Revised means the segment replaced the text of an existing range.
	Revised
)

// String returns the lower-case result name, used as a metric label.
func (r Result) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Revised:
		return "revised"
	default:
		return "ignored"
	}
}

// Snapshot is an immutable view of the transcript after one update.
type Snapshot struct {
	// Version increases by one for every accepted segment within a session.
	Version uint64

	// CommittedUntil is the watermark. Segments ending at or before it are
	// committed.
	CommittedUntil time.Duration

	Committed  string
	Hypothesis string

	// Live is Committed and Hypothesis joined by a single space, omitting
	// the separator when either side is empty.
	Live string
}

// PublishFunc receives every snapshot produced by an accepted segment.
// Calls are made one at a time in reconciliation order; implementations
// should hand the snapshot off quickly.
type PublishFunc func(Snapshot)

type span struct {
	start, end time.Duration
}

type entry struct {
	seg stt.Segment
}

// Reconciler is the transcript state machine. It is safe for concurrent use.
type Reconciler struct {
	mu      sync.Mutex
	state   State
	byRange map[span]*entry
	ordered []*entry // by start, ties in arrival order
	until   time.Duration
	version uint64
	publish PublishFunc
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithPublisher sets the snapshot consumer.
func WithPublisher(fn PublishFunc) Option {
	return func(r *Reconciler) { r.publish = fn }
}

// New returns an idle Reconciler.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{byRange: make(map[span]*entry)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start clears all segments, resets the watermark and enters StateActive.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clear()
	r.state = StateActive
}

// Stop enters StateIdle and returns the final snapshot together with every
// segment in start order. The live state is discarded.
func (r *Reconciler) Stop() (Snapshot, []stt.Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.snapshot()
	segs := r.segments()
	r.clear()
	r.state = StateIdle
	return snap, segs
}

// Reset discards all state and enters StateIdle.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clear()
	r.state = StateIdle
}

func (r *Reconciler) clear() {
	clear(r.byRange)
	r.ordered = nil
	r.until = 0
	r.version = 0
}

// State returns the current lifecycle state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Add folds seg into the transcript and publishes the new snapshot. Text
// is stored trimmed. Uncommitted Partial entries that seg overlaps are
// dropped in its favour.
func (r *Reconciler) Add(seg stt.Segment) Result {
	seg.Text = strings.TrimSpace(seg.Text)
	if seg.Text == "" {
		return Ignored
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateActive {
		return Ignored
	}

	key := span{seg.Start, seg.End}
	res := Inserted
	if r.supersede(key) {
		res = Revised
	}
	if e, ok := r.byRange[key]; ok {
		e.seg = seg
		res = Revised
	} else {
		e := &entry{seg: seg}
		r.byRange[key] = e
		// Insert after every entry with start <= seg.Start, which keeps the
		// list equal to a stable sort of arrival order.
		i := len(r.ordered)
		for i > 0 && r.ordered[i-1].seg.Start > seg.Start {
			i--
		}
		r.ordered = slices.Insert(r.ordered, i, e)
	}

	r.advance()
	r.version++
	if r.publish != nil {
		r.publish(r.snapshot())
	}
	return res
}

// supersede removes uncommitted Partial entries overlapping key, other
// than key itself, and reports whether any were removed.
func (r *Reconciler) supersede(key span) bool {
	n := len(r.ordered)
	r.ordered = slices.DeleteFunc(r.ordered, func(e *entry) bool {
		s := e.seg
		if !s.Partial || s.End <= r.until || (s.Start == key.start && s.End == key.end) {
			return false
		}
		if s.Start < key.end && key.start < s.End {
			delete(r.byRange, span{s.Start, s.End})
			return true
		}
		return false
	})
	return len(r.ordered) < n
}

// advance moves the watermark to the latest end among finalize-eligible
// segments: all but the last, starting at or after the watermark and ending
// beyond it.
func (r *Reconciler) advance() {
	next := r.until
	for _, e := range r.ordered[:max(len(r.ordered)-1, 0)] {
		if e.seg.End > r.until && e.seg.Start >= r.until {
			next = max(next, e.seg.End)
		}
	}
	r.until = next
}

func (r *Reconciler) snapshot() Snapshot {
	var committed, hypothesis []string
	for _, e := range r.ordered {
		if e.seg.End <= r.until {
			committed = append(committed, e.seg.Text)
		} else {
			hypothesis = append(hypothesis, e.seg.Text)
		}
	}
	s := Snapshot{
		Version:        r.version,
		CommittedUntil: r.until,
		Committed:      strings.Join(committed, " "),
		Hypothesis:     strings.Join(hypothesis, " "),
	}
	s.Live = JoinLive(s.Committed, s.Hypothesis)
	return s
}

// JoinLive joins committed and hypothesis text with one space, dropping the
// separator when either part is empty.
func JoinLive(committed, hypothesis string) string {
	switch {
	case hypothesis == "":
		return committed
	case committed == "":
		return hypothesis
	default:
		return committed + " " + hypothesis
	}
}

// Snapshot returns the current transcript view.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Segments returns a copy of all segments in start order.
func (r *Reconciler) Segments() []stt.Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.segments()
}

func (r *Reconciler) segments() []stt.Segment {
	out := make([]stt.Segment, len(r.ordered))
	for i, e := range r.ordered {
		out[i] = e.seg
	}
	return out
}

// CommittedUntil returns the watermark.
func (r *Reconciler) CommittedUntil() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.until
}

// Len returns the number of distinct time ranges held.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ordered)
}
