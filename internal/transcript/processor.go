package transcript

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/MrWong99/livescribe/internal/subtitle"
	"github.com/MrWong99/livescribe/internal/transcript/phonetic"
)

type vocabState struct {
	terms    []string
	prepared *phonetic.Vocabulary
}

// Processor applies a [Pipeline] to finalized subtitle lines using a
// vocabulary that can be replaced at runtime.
type Processor struct {
	pipeline *Pipeline
	vocab    atomic.Pointer[vocabState]
}

// NewProcessor returns a Processor for pipeline with the initial vocabulary.
func NewProcessor(pipeline *Pipeline, vocabulary []string) *Processor {
	p := &Processor{pipeline: pipeline}
	p.SetVocabulary(vocabulary)
	return p
}

// SetVocabulary replaces the vocabulary used by subsequent calls.
func (p *Processor) SetVocabulary(terms []string) {
	terms = slices.Clone(terms)
	p.vocab.Store(&vocabState{terms: terms, prepared: phonetic.Prepare(terms)})
}

// Vocabulary returns a copy of the current vocabulary.
func (p *Processor) Vocabulary() []string {
	return slices.Clone(p.vocab.Load().terms)
}

// Lines returns corrected copies of lines. A line whose correction fails
// keeps whatever the stages before the failure produced.
func (p *Processor) Lines(ctx context.Context, lines []subtitle.Line) []subtitle.Line {
	v := p.vocab.Load()
	out := slices.Clone(lines)
	if p.pipeline == nil || !p.pipeline.Enabled() || len(v.terms) == 0 {
		return out
	}
	for i := range out {
		res, err := p.pipeline.correct(ctx, out[i].Text, out[i].Confidence, v.terms, v.prepared)
		if err != nil {
			slog.Warn("transcript correction failed, keeping partial result",
				"line", out[i].Index, "error", err)
		}
		if res.Changed() {
			slog.Debug("transcript line corrected",
				"line", out[i].Index, "corrections", len(res.Corrections))
		}
		out[i].Text = res.Corrected
	}
	return out
}
