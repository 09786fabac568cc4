package transcript_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/livescribe/internal/transcript"
	"github.com/MrWong99/livescribe/internal/transcript/phonetic"
	"github.com/MrWong99/livescribe/internal/transcript/polish"
	"github.com/MrWong99/livescribe/pkg/provider/llm"
	"github.com/MrWong99/livescribe/pkg/provider/llm/mock"
)

var vocab = []string{"Eldrinax", "Tower of Whispers"}

func llmReply(content string) *mock.Provider {
	return &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
}

func TestPipeline_Phonetic(t *testing.T) {
	t.Parallel()

	p := transcript.NewPipeline(transcript.WithPhoneticMatcher(phonetic.New()))
	res, err := p.Correct(context.Background(), "elder nacks lives in the tower of wispers.", 0.9, vocab)
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if want := "Eldrinax lives in the Tower of Whispers."; res.Corrected != want {
		t.Errorf("Corrected = %q, want %q", res.Corrected, want)
	}
	if len(res.Corrections) != 2 {
		t.Fatalf("corrections = %+v, want 2", res.Corrections)
	}
	for _, c := range res.Corrections {
		if c.Method != transcript.MethodPhonetic {
			t.Errorf("method = %q, want phonetic", c.Method)
		}
	}
	if !res.Changed() {
		t.Error("Changed() = false")
	}
}

func TestPipeline_CorrectSpellingNotReported(t *testing.T) {
	t.Parallel()

	p := transcript.NewPipeline(transcript.WithPhoneticMatcher(phonetic.New()))
	res, err := p.Correct(context.Background(), "Eldrinax agreed", 0.9, vocab)
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if res.Corrected != "Eldrinax agreed" || len(res.Corrections) != 0 {
		t.Errorf("Correct = %q, %+v", res.Corrected, res.Corrections)
	}
}

func TestPipeline_NoStages(t *testing.T) {
	t.Parallel()

	p := transcript.NewPipeline()
	if p.Enabled() {
		t.Error("Enabled() = true without stages")
	}
	res, err := p.Correct(context.Background(), "elder nacks", 0, vocab)
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if res.Corrected != "elder nacks" || res.Corrections == nil || len(res.Corrections) != 0 {
		t.Errorf("Correct = %q, %#v", res.Corrected, res.Corrections)
	}
}

func TestPipeline_LLMGatedByConfidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		confidence float64
		wantCalls  int
	}{
		{"unknown confidence", 0, 1},
		{"low confidence", 0.3, 1},
		{"high confidence", 0.8, 0},
		{"at threshold", 0.5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := llmReply(`{"corrected_text": "ask Grimjaw", "corrections": [{"original": "grim jaw", "corrected": "Grimjaw", "confidence": 0.9}]}`)
			p := transcript.NewPipeline(
				transcript.WithPolisher(polish.New(m)),
				transcript.WithLLMThreshold(0.5),
			)
			res, err := p.Correct(context.Background(), "ask grim jaw", tt.confidence, []string{"Grimjaw"})
			if err != nil {
				t.Fatalf("Correct: %v", err)
			}
			if m.Calls() != tt.wantCalls {
				t.Errorf("llm calls = %d, want %d", m.Calls(), tt.wantCalls)
			}
			if tt.wantCalls == 1 {
				if res.Corrected != "ask Grimjaw" {
					t.Errorf("Corrected = %q", res.Corrected)
				}
				if len(res.Corrections) != 1 || res.Corrections[0].Method != transcript.MethodLLM {
					t.Errorf("corrections = %+v", res.Corrections)
				}
			}
		})
	}
}

func TestPipeline_PolishErrorKeepsPhoneticResult(t *testing.T) {
	t.Parallel()

	boom := errors.New("rate limited")
	p := transcript.NewPipeline(
		transcript.WithPhoneticMatcher(phonetic.New()),
		transcript.WithPolisher(polish.New(&mock.Provider{CompleteErr: boom})),
	)
	res, err := p.Correct(context.Background(), "elder nacks said hi", 0, vocab)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if res == nil || res.Corrected != "Eldrinax said hi" {
		t.Errorf("result = %+v, want phonetic correction kept", res)
	}
}

func TestPipeline_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	m := llmReply(`{}`)
	p := transcript.NewPipeline(
		transcript.WithPhoneticMatcher(phonetic.New()),
		transcript.WithPolisher(polish.New(m)),
	)
	res, err := p.Correct(context.Background(), "anything", 0, nil)
	if err != nil || res.Corrected != "anything" {
		t.Errorf("Correct = %+v, %v", res, err)
	}
	if m.Calls() != 0 {
		t.Errorf("llm calls = %d, want 0", m.Calls())
	}
}
