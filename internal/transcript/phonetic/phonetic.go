// Package phonetic matches misheard words against a vocabulary of known
// terms (speaker names, product names, jargon) using Double Metaphone codes
// and Jaro-Winkler similarity.
//
// A term is a candidate when any of its Double Metaphone codes overlaps with
// a code of the input; among candidates the highest Jaro-Winkler score wins
// if it reaches the phonetic threshold. Without a phonetic candidate, a pure
// Jaro-Winkler match above the stricter fuzzy threshold is accepted.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	DefaultPhoneticThreshold = 0.70
	DefaultFuzzyThreshold    = 0.85
)

// Option configures a Matcher.
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a term that
// shares a phonetic code with the input.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term without
// phonetic overlap.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher with default thresholds.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: DefaultPhoneticThreshold,
		fuzzyThreshold:    DefaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// term is a vocabulary entry with its codes computed once.
type term struct {
	canonical string
	lower     string
	tokens    []string
	codes     map[string]struct{}
}

// Vocabulary is a prepared term list. Build it once per vocabulary change
// with [Prepare] and reuse it for every lookup.
type Vocabulary struct {
	terms    []term
	maxWords int
}

// Prepare computes phonetic codes for every non-blank term.
func Prepare(terms []string) *Vocabulary {
	v := &Vocabulary{}
	for _, t := range terms {
		lower := strings.ToLower(strings.TrimSpace(t))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		v.terms = append(v.terms, term{
			canonical: strings.TrimSpace(t),
			lower:     lower,
			tokens:    tokens,
			codes:     codes(tokens),
		})
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// Len returns the number of usable terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// MaxWords returns the word count of the longest term.
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// Match finds the term in terms that best matches phrase. When nothing
// matches it returns phrase unchanged, zero confidence and false.
func (m *Matcher) Match(phrase string, terms []string) (string, float64, bool) {
	return m.MatchVocabulary(phrase, Prepare(terms))
}

// MatchVocabulary is Match against a prepared vocabulary.
func (m *Matcher) MatchVocabulary(phrase string, v *Vocabulary) (string, float64, bool) {
	lower := strings.ToLower(strings.TrimSpace(phrase))
	if lower == "" || v == nil || len(v.terms) == 0 {
		return phrase, 0, false
	}
	tokens := strings.Fields(lower)
	in := codes(tokens)

	var (
		best      string
		bestScore float64
		bestByEar bool
	)
	for _, t := range v.terms {
		score := similarity(tokens, t.tokens, lower, t.lower)
		if overlaps(in, t.codes) {
			if score >= m.phoneticThreshold && (!bestByEar || score > bestScore) {
				best, bestScore, bestByEar = t.canonical, score, true
			}
			continue
		}
		if !bestByEar && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = t.canonical, score
		}
	}
	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

// codes returns the Double Metaphone codes of every token and, for
// multi-word input, of the tokens run together ("elder nacks" sounds like
// "eldernacks").
func codes(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens)*2+2)
	add := func(word string) {
		primary, secondary := matchr.DoubleMetaphone(word)
		if primary != "" {
			out[primary] = struct{}{}
		}
		if secondary != "" {
			out[secondary] = struct{}{}
		}
	}
	for _, tok := range tokens {
		add(tok)
	}
	if len(tokens) > 1 {
		add(strings.Join(tokens, ""))
	}
	return out
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the better Jaro-Winkler score of the full phrases and of
// the phrases with spaces removed.
func similarity(inTokens, termTokens []string, inFull, termFull string) float64 {
	score := matchr.JaroWinkler(inFull, termFull, false)
	if len(inTokens) > 1 || len(termTokens) > 1 {
		score = max(score, matchr.JaroWinkler(strings.Join(inTokens, ""), strings.Join(termTokens, ""), false))
	}
	return score
}
