package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

var _ stt.Recognizer = (*Client)(nil)

const defaultHTTPTimeout = 2 * time.Minute

// Client implements stt.Recognizer against a whisper-server instance.
type Client struct {
	stt.Windowed

	serverURL  string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithStream overrides the streaming window and step.
func WithStream(window, step time.Duration) Option {
	return func(cl *Client) { cl.Window = stt.StreamWindow{Window: window, Step: step} }
}

// New returns a Client for the whisper-server at serverURL
// (e.g. "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	c.Name = "whisper-server"
	c.Run = c.recognize
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// InitModel asks the server to load the model at src.Path (a path on the
// server host) via POST /load. Model bytes cannot be uploaded.
func (c *Client) InitModel(ctx context.Context, src stt.ModelSource, language string) error {
	if src.IsZero() {
		return stt.ErrNoModel
	}
	if len(src.Bytes) > 0 && src.Path == "" {
		return fmt.Errorf("whisper server: %w", errModelBytesUnsupported)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", src.Path); err != nil {
		return fmt.Errorf("whisper server: write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("whisper server: close multipart writer: %w", err)
	}
	if _, err := c.post(ctx, "/load", &body, mw.FormDataContentType()); err != nil {
		return fmt.Errorf("whisper server: load model %q: %w", src.Path, err)
	}

	c.MarkInitialized(language)
	return nil
}

// Close closes all subscriptions. The server keeps running.
func (c *Client) Close() error {
	c.Hub.Close()
	return nil
}

// verboseResponse is the whisper-server response for
// response_format=verbose_json.
type verboseResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
		Words      []struct {
			Probability float64 `json:"probability"`
		} `json:"words"`
	} `json:"segments"`
}

func (c *Client) recognize(ctx context.Context, pcm []byte, emit func(stt.Segment)) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(pcm, audio.Conditioned)); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	fields := map[string]string{
		"response_format": "verbose_json",
		"language":        c.Language(),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	data, err := c.post(ctx, "/inference", &body, mw.FormDataContentType())
	if err != nil {
		return err
	}

	var result verboseResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("parse JSON response: %w", err)
	}

	lang := result.Language
	if lang == "" {
		lang = c.Language()
	}
	if len(result.Segments) == 0 {
		// Plain json responses carry no timing: one segment spans the input.
		if strings.TrimSpace(result.Text) != "" {
			emit(stt.Segment{End: audio.Conditioned.Duration(len(pcm)), Text: result.Text, Language: lang})
		}
		return nil
	}
	for _, rs := range result.Segments {
		s := stt.Segment{
			Start:    secondsToDuration(rs.Start),
			End:      secondsToDuration(rs.End),
			Text:     rs.Text,
			Language: lang,
		}
		var conf stt.Confidence
		for _, w := range rs.Words {
			conf.Add(w.Probability)
		}
		if len(rs.Words) == 0 && rs.AvgLogprob != 0 {
			conf.Add(math.Exp(rs.AvgLogprob))
		}
		conf.Apply(&s)
		emit(s)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// secondsToDuration rounds to the millisecond so that repeated passes over
// the same audio produce identical segment bounds.
func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s*1000)) * time.Millisecond
}
