package stt

import (
	"math"
	"time"
)

// Segment is one timestamped span of recognized text.
type Segment struct {
	// Start and End bound the span, relative to the start of the audio the
	// recognizer was given (after offsetting).
	Start time.Duration
	End   time.Duration

	// Text is the recognized content, not trimmed.
	Text string

	// MinProbability, MaxProbability and Probability (mean) summarise
	// per-token confidence in [0, 1]. All zero when the backend reports none.
	MinProbability float64
	MaxProbability float64
	Probability    float64

	// Language is the detected or configured ISO 639-1 code.
	Language string

	// Partial marks a provisional result for audio the recognizer has not
	// finished with. A later segment overlapping it supersedes it, even
	// when the time range differs.
	Partial bool
}

// Shift returns a copy of s moved later by d.
func (s Segment) Shift(d time.Duration) Segment {
	s.Start += d
	s.End += d
	return s
}

// Confidence accumulates token probabilities into segment confidence fields.
type Confidence struct {
	n        int
	sum      float64
	min, max float64
}

// Add records one probability.
func (c *Confidence) Add(p float64) {
	if c.n == 0 {
		c.min, c.max = p, p
	}
	c.min = math.Min(c.min, p)
	c.max = math.Max(c.max, p)
	c.sum += p
	c.n++
}

// Apply writes the accumulated min, max and mean into s.
func (c *Confidence) Apply(s *Segment) {
	if c.n == 0 {
		return
	}
	s.MinProbability = c.min
	s.MaxProbability = c.max
	s.Probability = c.sum / float64(c.n)
}
