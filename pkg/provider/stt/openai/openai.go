// Package openai provides a recognizer backed by the OpenAI audio
// transcription API (whisper-1 and compatible models).
//
// Requests use the verbose JSON response format with segment timestamps.
// Streaming is windowed exactly like the whisper backends.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

var _ stt.Recognizer = (*Recognizer)(nil)

const defaultModel = "whisper-1"

// Recognizer implements stt.Recognizer using the OpenAI API.
type Recognizer struct {
	stt.Windowed

	client oai.Client
	model  string
}

// config holds optional configuration for the recognizer.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	window, step time.Duration
}

// Option is a functional option for Recognizer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL, e.g. for a
// compatible self-hosted server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithStream overrides the streaming window and step.
func WithStream(window, step time.Duration) Option {
	return func(c *config) { c.window, c.step = window, step }
}

// New constructs a Recognizer. The model is chosen by InitModel.
func New(apiKey string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	r := &Recognizer{
		client: oai.NewClient(reqOpts...),
		model:  defaultModel,
	}
	r.Name = "openai"
	r.Run = r.recognize
	r.Window = stt.StreamWindow{Window: cfg.window, Step: cfg.step}
	return r, nil
}

// InitModel selects the hosted model named by src.Path (defaults to
// whisper-1 when empty). No request is made.
func (r *Recognizer) InitModel(ctx context.Context, src stt.ModelSource, language string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("openai: %w", err)
	}
	if len(src.Bytes) > 0 {
		return fmt.Errorf("openai: model bytes cannot be uploaded")
	}
	if src.Path != "" {
		r.model = src.Path
	}
	r.MarkInitialized(language)
	return nil
}

// Close closes all subscriptions.
func (r *Recognizer) Close() error {
	r.Hub.Close()
	return nil
}

// verboseTranscription mirrors the verbose_json payload.
type verboseTranscription struct {
	Language string `json:"language"`
	Text     string `json:"text"`
	Segments []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func (r *Recognizer) recognize(ctx context.Context, pcm []byte, emit func(stt.Segment)) error {
	params := oai.AudioTranscriptionNewParams{
		File:                   oai.File(bytes.NewReader(audio.EncodeWAV(pcm, audio.Conditioned)), "audio.wav", "audio/wav"),
		Model:                  oai.AudioModel(r.model),
		ResponseFormat:         oai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"segment"},
	}
	lang := r.Language()
	if lang != stt.LanguageAuto {
		params.Language = oai.String(lang)
	}

	resp, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}

	segs, err := parseVerbose([]byte(resp.RawJSON()), lang, audio.Conditioned.Duration(len(pcm)))
	if err != nil {
		return err
	}
	for _, s := range segs {
		emit(s)
	}
	return nil
}

// parseVerbose converts a verbose_json body into segments. Bodies without
// segments become one segment spanning the input.
func parseVerbose(body []byte, lang string, span time.Duration) ([]stt.Segment, error) {
	var v verboseTranscription
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("parse verbose transcription: %w", err)
	}
	if v.Language != "" {
		lang = v.Language
	}
	if len(v.Segments) == 0 {
		if v.Text == "" {
			return nil, nil
		}
		return []stt.Segment{{End: span, Text: v.Text, Language: lang}}, nil
	}

	out := make([]stt.Segment, 0, len(v.Segments))
	for _, vs := range v.Segments {
		s := stt.Segment{
			Start:    time.Duration(math.Round(vs.Start*1000)) * time.Millisecond,
			End:      time.Duration(math.Round(vs.End*1000)) * time.Millisecond,
			Text:     vs.Text,
			Language: lang,
		}
		if vs.AvgLogprob != 0 {
			var c stt.Confidence
			c.Add(math.Exp(vs.AvgLogprob))
			c.Apply(&s)
		}
		out = append(out, s)
	}
	return out, nil
}
