// Package transcript post-processes finalized transcript lines so that
// domain vocabulary (speaker names, product names, jargon) is spelled the
// way the user configured it.
//
// Correction runs in two optional stages:
//
//  1. Phonetic matching: in-process, no network. Word n-grams are compared
//     against the vocabulary by Double Metaphone code and Jaro-Winkler
//     similarity.
//  2. LLM polish: a language model fixes what the phonetic stage missed.
//     It only runs for lines whose recognizer confidence is unknown or low,
//     and every edit it makes is verified against its declared corrections.
package transcript

import (
	"context"

	"github.com/MrWong99/livescribe/internal/transcript/polish"
)

// Method names the stage that produced a [Correction].
type Method string

const (
	MethodPhonetic Method = "phonetic"
	MethodLLM      Method = "llm"
)

// Correction is a single substitution.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
	Method     Method
}

// Result is the outcome of [Pipeline.Correct].
type Result struct {
	Original  string
	Corrected string
	// Corrections is non-nil; empty when nothing changed.
	Corrections []Correction
}

// Changed reports whether any substitution was applied.
func (r *Result) Changed() bool { return r.Corrected != r.Original }

// PhoneticMatcher resolves a word or phrase to a vocabulary term.
//
// When matched is false, corrected equals phrase and confidence is 0.
// Implementations must be safe for concurrent use.
type PhoneticMatcher interface {
	Match(phrase string, terms []string) (corrected string, confidence float64, matched bool)
}

// Polisher is the LLM correction stage. [polish.Polisher] implements it.
type Polisher interface {
	Polish(ctx context.Context, text string, vocabulary, uncertain []string) (string, []polish.Correction, error)
}

var _ Polisher = (*polish.Polisher)(nil)
