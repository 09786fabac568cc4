package transcript

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/livescribe/internal/transcript/phonetic"
)

// DefaultLLMThreshold is the line confidence below which the LLM stage runs.
const DefaultLLMThreshold = 0.5

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithPhoneticMatcher enables the phonetic stage.
func WithPhoneticMatcher(m PhoneticMatcher) Option {
	return func(p *Pipeline) { p.phonetic = m }
}

// WithPolisher enables the LLM stage.
func WithPolisher(pl Polisher) Option {
	return func(p *Pipeline) { p.polisher = pl }
}

// WithLLMThreshold sets the confidence below which a line is sent to the
// polisher. Lines with unknown confidence (0) are always sent.
func WithLLMThreshold(threshold float64) Option {
	return func(p *Pipeline) { p.llmThreshold = threshold }
}

// Pipeline runs the configured stages in order. Both stages are off by
// default. Safe for concurrent use.
type Pipeline struct {
	phonetic     PhoneticMatcher
	polisher     Polisher
	llmThreshold float64
}

// NewPipeline builds a Pipeline.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{llmThreshold: DefaultLLMThreshold}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Enabled reports whether at least one stage is configured.
func (p *Pipeline) Enabled() bool { return p.phonetic != nil || p.polisher != nil }

// Correct applies the stages to text. confidence is the recognizer's mean
// token probability for the text, or 0 when unknown.
//
// A polisher error is returned together with the phonetic result so the
// caller can still use it.
func (p *Pipeline) Correct(ctx context.Context, text string, confidence float64, vocabulary []string) (*Result, error) {
	return p.correct(ctx, text, confidence, vocabulary, nil)
}

func (p *Pipeline) correct(ctx context.Context, text string, confidence float64, vocabulary []string, prepared *phonetic.Vocabulary) (*Result, error) {
	res := &Result{Original: text, Corrected: text, Corrections: []Correction{}}
	if len(vocabulary) == 0 || strings.TrimSpace(text) == "" {
		return res, nil
	}

	if p.phonetic != nil {
		res.Corrected, res.Corrections = p.applyPhonetic(text, vocabulary, prepared)
	}

	if p.polisher == nil || (confidence > 0 && confidence >= p.llmThreshold) {
		return res, nil
	}

	var uncertain []string
	if confidence > 0 {
		uncertain = strings.Fields(res.Corrected)
	}
	polished, corrections, err := p.polisher.Polish(ctx, res.Corrected, vocabulary, uncertain)
	if err != nil {
		return res, fmt.Errorf("transcript: polish: %w", err)
	}
	res.Corrected = polished
	for _, c := range corrections {
		res.Corrections = append(res.Corrections, Correction{
			Original:   c.Original,
			Corrected:  c.Corrected,
			Confidence: c.Confidence,
			Method:     MethodLLM,
		})
	}
	return res, nil
}

// candidate is a phonetic match of tokens[start:start+n].
type candidate struct {
	start, n int
	term     string
	phrase   string
	trailing string
	score    float64
}

// applyPhonetic matches every n-gram against the vocabulary and then
// accepts non-overlapping candidates from the best score down, preferring
// longer spans on ties. An n-gram only matches a term whose word count is
// within one of n.
func (p *Pipeline) applyPhonetic(text string, vocabulary []string, prepared *phonetic.Vocabulary) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, []Correction{}
	}

	match := func(phrase string) (string, float64, bool) { return p.phonetic.Match(phrase, vocabulary) }
	maxWords := maxWordCount(vocabulary)
	if pm, ok := p.phonetic.(*phonetic.Matcher); ok {
		if prepared == nil {
			prepared = phonetic.Prepare(vocabulary)
		}
		maxWords = prepared.MaxWords()
		match = func(phrase string) (string, float64, bool) { return pm.MatchVocabulary(phrase, prepared) }
	}

	var cands []candidate
	for i := range tokens {
		for n := 1; n <= min(maxWords+1, len(tokens)-i); n++ {
			phrase, trailing := splitTrailing(strings.Join(tokens[i:i+n], " "))
			if phrase == "" {
				continue
			}
			term, score, ok := match(phrase)
			if !ok {
				continue
			}
			if words := len(strings.Fields(term)); n > words+1 || n < words-1 {
				continue
			}
			cands = append(cands, candidate{start: i, n: n, term: term, phrase: phrase, trailing: trailing, score: score})
		}
	}
	slices.SortStableFunc(cands, func(a, b candidate) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(b.n, a.n)
	})

	taken := make([]bool, len(tokens))
	chosen := make(map[int]candidate)
	for _, c := range cands {
		if slices.Contains(taken[c.start:c.start+c.n], true) {
			continue
		}
		for j := c.start; j < c.start+c.n; j++ {
			taken[j] = true
		}
		chosen[c.start] = c
	}

	out := make([]string, 0, len(tokens))
	corrections := []Correction{}
	for i := 0; i < len(tokens); {
		c, ok := chosen[i]
		if !ok {
			out = append(out, tokens[i])
			i++
			continue
		}
		termTokens := strings.Fields(c.term)
		termTokens[len(termTokens)-1] += c.trailing
		out = append(out, termTokens...)
		if c.term != c.phrase {
			corrections = append(corrections, Correction{
				Original:   c.phrase,
				Corrected:  c.term,
				Confidence: c.score,
				Method:     MethodPhonetic,
			})
		}
		i += c.n
	}
	return strings.Join(out, " "), corrections
}

// splitTrailing separates trailing punctuation from s.
func splitTrailing(s string) (string, string) {
	end := strings.LastIndexFunc(s, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) })
	if end < 0 {
		return "", s
	}
	_, size := utf8.DecodeRuneInString(s[end:])
	end += size
	return s[:end], s[end:]
}

func maxWordCount(terms []string) int {
	n := 1
	for _, t := range terms {
		n = max(n, len(strings.Fields(t)))
	}
	return n
}
