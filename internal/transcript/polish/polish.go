// Package polish asks a language model to fix misspelled vocabulary terms
// in finalized transcript text.
//
// The model receives the known terms and must answer with JSON holding the
// corrected text and the list of substitutions it made. Every token change
// is checked against that list; undeclared edits are reverted, so the model
// cannot rephrase the transcript. Unparseable replies leave the text
// unchanged.
package polish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/livescribe/pkg/provider/llm"
)

const defaultTemperature = 0.1

const systemPrompt = `You correct speech recognition output.

Fix only words that are misspelled or misheard versions of the known terms listed below.
Do not change any other word, punctuation, grammar or sentence structure.
If you are unsure, leave the text unchanged.
Use the exact spelling from the term list for every corrected term.

Known terms:
%s
Reply with only a JSON object, without markdown:
{
  "corrected_text": "<full corrected text>",
  "corrections": [
    {"original": "<text as heard>", "corrected": "<term>", "confidence": <0.0-1.0>}
  ]
}

When nothing needs fixing, return the input as corrected_text and an empty corrections array.`

// Correction is one substitution declared by the model and confirmed
// against the actual text change.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

type reply struct {
	CorrectedText string `json:"corrected_text"`
	Corrections   []struct {
		Original   string  `json:"original"`
		Corrected  string  `json:"corrected"`
		Confidence float64 `json:"confidence"`
	} `json:"corrections"`
}

// Option configures a Polisher.
type Option func(*Polisher)

// WithTemperature sets the sampling temperature. Default 0.1.
func WithTemperature(t float64) Option {
	return func(p *Polisher) { p.temperature = t }
}

// Polisher is safe for concurrent use.
type Polisher struct {
	llm         llm.Provider
	temperature float64
}

// New returns a Polisher backed by provider.
func New(provider llm.Provider, opts ...Option) *Polisher {
	p := &Polisher{llm: provider, temperature: defaultTemperature}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Polish corrects vocabulary misspellings in text. uncertain lists words
// the recognizer was unsure about; they are pointed out to the model.
//
// Provider errors are returned; the caller keeps its input. A reply that
// cannot be parsed yields text unchanged and no error.
func (p *Polisher) Polish(ctx context.Context, text string, vocabulary, uncertain []string) (string, []Correction, error) {
	if len(vocabulary) == 0 || strings.TrimSpace(text) == "" {
		return text, nil, nil
	}

	user := text
	if len(uncertain) > 0 {
		user = fmt.Sprintf("Text: %s\n\nPossibly misheard: %s", text, strings.Join(uncertain, ", "))
	}

	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: prompt(vocabulary),
		Temperature:  p.temperature,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
	})
	if err != nil {
		return text, nil, fmt.Errorf("polish: complete: %w", err)
	}

	corrected, declared, err := parse(resp.Content)
	if err != nil || corrected == "" {
		return text, nil, nil //nolint:nilerr // unparseable replies keep the input
	}
	out, confirmed := verify(text, corrected, declared)
	return out, confirmed, nil
}

func prompt(vocabulary []string) string {
	var sb strings.Builder
	for _, term := range vocabulary {
		fmt.Fprintf(&sb, "- %s\n", term)
	}
	return fmt.Sprintf(systemPrompt, sb.String())
}

func parse(content string) (string, []Correction, error) {
	var r reply
	if err := json.Unmarshal([]byte(stripFences(content)), &r); err != nil {
		return "", nil, fmt.Errorf("polish: parse reply: %w", err)
	}
	var out []Correction
	for _, c := range r.Corrections {
		if c.Original == "" || c.Original == c.Corrected {
			continue
		}
		out = append(out, Correction{Original: c.Original, Corrected: c.Corrected, Confidence: c.Confidence})
	}
	return r.CorrectedText, out, nil
}

// stripFences removes a surrounding ```json ... ``` block.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	s, _ = strings.CutSuffix(s, "```")
	return strings.TrimSpace(s)
}
