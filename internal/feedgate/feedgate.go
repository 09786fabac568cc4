// Package feedgate assembles recognizer input for whole-file transcription.
//
// Audio is cut into fixed one-second chunks. A chunk that is almost entirely
// below the silence threshold is discarded. Every other chunk joins a
// sliding window of at most Depth chunks, and the whole window is submitted
// to the recognizer, so each call sees up to Depth seconds of context ending
// at the newest voiced chunk.
package feedgate

import (
	"math"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
)

const (
	// DefaultDepth is the window capacity in chunks.
	DefaultDepth = 30

	// DefaultThresholdDB is the dBFS level below which a sample is silent.
	DefaultThresholdDB = -40.0

	// ChunkDuration is the length of one gate chunk.
	ChunkDuration = time.Second
)

// chunkSamples is the number of samples in one chunk at the recognizer rate.
const chunkSamples = audio.TargetSampleRate * int(ChunkDuration/time.Second)

// IsSilentSample reports whether 20*log10(|amplitude|) is below thresholdDB.
// Zero amplitude is silent.
func IsSilentSample(amplitude float32, thresholdDB float64) bool {
	return 20*math.Log10(math.Abs(float64(amplitude))) < thresholdDB
}

// IsSilent reports whether chunk should be skipped: a chunk of n samples is
// voiced only when fewer than n - n/12 of its samples are silent.
func IsSilent(chunk []float32, thresholdDB float64) bool {
	n := len(chunk)
	silent := 0
	for _, s := range chunk {
		if IsSilentSample(s, thresholdDB) {
			silent++
		}
	}
	return silent >= n-n/12
}

// Window is one recognizer submission.
type Window struct {
	// Samples is the concatenation of the window's chunks.
	Samples []float32

	// Starts holds the stream time of each chunk, in window order. Chunks
	// are not contiguous in stream time when silence was skipped between
	// them.
	Starts []time.Duration

	// Lengths holds the sample count of each chunk.
	Lengths []int
}

// PCM returns the window as 16-bit little-endian PCM.
func (w Window) PCM() []byte {
	return audio.Float32ToPCM(w.Samples)
}

// Offset returns the stream time of the window's first chunk.
func (w Window) Offset() time.Duration {
	if len(w.Starts) == 0 {
		return 0
	}
	return w.Starts[0]
}

// Map converts a time relative to the start of Samples into stream time,
// accounting for skipped silence. Times past the end extend from the last
// chunk.
func (w Window) Map(t time.Duration) time.Duration {
	if len(w.Starts) == 0 {
		return t
	}
	pos := t
	for i, n := range w.Lengths {
		d := audio.Conditioned.Duration(n * 2)
		if pos < d || i == len(w.Lengths)-1 {
			return w.Starts[i] + pos
		}
		pos -= d
	}
	return t
}

// MapEnd is Map for span ends: a time exactly on a chunk boundary maps to
// the end of the earlier chunk rather than the start of the next one.
func (w Window) MapEnd(t time.Duration) time.Duration {
	if len(w.Starts) == 0 {
		return t
	}
	pos := t
	for i, n := range w.Lengths {
		d := audio.Conditioned.Duration(n * 2)
		if pos <= d || i == len(w.Lengths)-1 {
			return w.Starts[i] + pos
		}
		pos -= d
	}
	return t
}

// Gate is the silence-gated sliding window. It is not safe for concurrent
// use; a Gate serves one file at a time and is Reset between files.
type Gate struct {
	depth       int
	thresholdDB float64

	pending []float32
	next    int64 // stream sample index of pending[0]

	chunks  [][]float32
	starts  []time.Duration
	dropped int
}

// Option configures a Gate.
type Option func(*Gate)

// WithDepth sets the window capacity in chunks.
func WithDepth(n int) Option {
	return func(g *Gate) { g.depth = n }
}

// WithThresholdDB sets the per-sample silence threshold.
func WithThresholdDB(db float64) Option {
	return func(g *Gate) { g.thresholdDB = db }
}

// New returns an empty Gate.
func New(opts ...Option) *Gate {
	g := &Gate{depth: DefaultDepth, thresholdDB: DefaultThresholdDB}
	for _, o := range opts {
		o(g)
	}
	if g.depth <= 0 {
		g.depth = DefaultDepth
	}
	return g
}

// Push adds samples and returns one Window per voiced chunk completed.
// A trailing partial chunk is held until more samples arrive or Flush.
func (g *Gate) Push(samples []float32) []Window {
	g.pending = append(g.pending, samples...)
	var out []Window
	for len(g.pending) >= chunkSamples {
		chunk := g.pending[:chunkSamples:chunkSamples]
		g.pending = g.pending[chunkSamples:]
		if w, ok := g.accept(chunk); ok {
			out = append(out, w)
		}
	}
	return out
}

// Flush gates the trailing partial chunk, if any.
func (g *Gate) Flush() (Window, bool) {
	if len(g.pending) == 0 {
		return Window{}, false
	}
	chunk := g.pending
	g.pending = nil
	return g.accept(chunk)
}

func (g *Gate) accept(chunk []float32) (Window, bool) {
	start := audio.Conditioned.Duration(int(g.next) * 2)
	g.next += int64(len(chunk))

	if IsSilent(chunk, g.thresholdDB) {
		g.dropped++
		return Window{}, false
	}

	g.chunks = append(g.chunks, chunk)
	g.starts = append(g.starts, start)
	if len(g.chunks) > g.depth {
		g.chunks = g.chunks[1:]
		g.starts = g.starts[1:]
	}

	total := 0
	for _, c := range g.chunks {
		total += len(c)
	}
	w := Window{
		Samples: make([]float32, 0, total),
		Starts:  append([]time.Duration(nil), g.starts...),
		Lengths: make([]int, len(g.chunks)),
	}
	for i, c := range g.chunks {
		w.Samples = append(w.Samples, c...)
		w.Lengths[i] = len(c)
	}
	return w, true
}

// Len returns the number of chunks currently in the window.
func (g *Gate) Len() int { return len(g.chunks) }

// Silent returns the number of chunks skipped as silent since Reset.
func (g *Gate) Silent() int { return g.dropped }

// Position returns the stream time consumed so far, including the held
// partial chunk.
func (g *Gate) Position() time.Duration {
	return audio.Conditioned.Duration(int(g.next)*2 + len(g.pending)*2)
}

// Reset clears the window and restarts stream time at zero.
func (g *Gate) Reset() {
	g.pending = nil
	g.next = 0
	g.chunks = nil
	g.starts = nil
	g.dropped = 0
}
