// Package deepgram provides a recognizer backed by the Deepgram API.
//
// Batches go to the pre-recorded endpoint with utterance segmentation.
// Streamed audio is forwarded over a WebSocket with interim results
// enabled. Interim results are emitted as Partial segments until Deepgram
// marks the range final. A socket that fails is replaced on the next chunk;
// the new socket's results are shifted by the audio streamed before it, so
// stream time keeps running until ResetStream.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

var _ stt.Recognizer = (*Recognizer)(nil)

const (
	defaultBaseURL = "https://api.deepgram.com"
	defaultModel   = "nova-3"

	// flushTimeout bounds how long a closing stream waits for the final
	// results of audio already sent.
	flushTimeout = 3 * time.Second
)

// Recognizer implements stt.Recognizer using Deepgram.
type Recognizer struct {
	stt.Windowed

	apiKey   string
	baseURL  string
	keywords []string
	client   *http.Client

	modelMu sync.RWMutex
	model   string

	streamMu sync.Mutex
	stream   *stream
	sent     time.Duration // audio streamed since ResetStream
}

// Option is a functional option for Recognizer.
type Option func(*Recognizer)

// WithBaseURL overrides the API base URL. Both the REST and the WebSocket
// endpoints are derived from it.
func WithBaseURL(u string) Option {
	return func(r *Recognizer) { r.baseURL = strings.TrimRight(u, "/") }
}

// WithKeywords boosts recognition of the given terms, typically the
// transcript vocabulary.
func WithKeywords(words ...string) Option {
	return func(r *Recognizer) { r.keywords = append(r.keywords, words...) }
}

// WithHTTPClient sets the client used for batch requests.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Recognizer) { r.client = c }
}

// New constructs a Recognizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	r := &Recognizer{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(r)
	}
	r.Name = "deepgram"
	r.Run = r.recognize
	return r, nil
}

// InitModel selects the hosted model named by src.Path (default nova-3).
// No request is made.
func (r *Recognizer) InitModel(ctx context.Context, src stt.ModelSource, language string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("deepgram: %w", err)
	}
	if len(src.Bytes) > 0 {
		return errors.New("deepgram: model bytes cannot be uploaded")
	}
	if src.Path != "" {
		r.modelMu.Lock()
		r.model = src.Path
		r.modelMu.Unlock()
	}
	r.MarkInitialized(language)
	return nil
}

func (r *Recognizer) currentModel() string {
	r.modelMu.RLock()
	defer r.modelMu.RUnlock()
	return r.model
}

// listenURL builds the /v1/listen URL for a batch or a stream.
func (r *Recognizer) listenURL(streaming bool) (string, error) {
	u, err := url.Parse(r.baseURL + "/v1/listen")
	if err != nil {
		return "", err
	}
	if streaming {
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		case "http":
			u.Scheme = "ws"
		}
	}

	q := u.Query()
	q.Set("model", r.currentModel())
	q.Set("punctuate", "true")
	lang := r.Language()
	switch {
	case lang != stt.LanguageAuto:
		q.Set("language", lang)
	case streaming:
		q.Set("language", "multi")
	default:
		q.Set("detect_language", "true")
	}
	if streaming {
		q.Set("interim_results", "true")
		q.Set("encoding", "linear16")
		q.Set("sample_rate", strconv.Itoa(audio.Conditioned.SampleRate))
		q.Set("channels", strconv.Itoa(audio.Conditioned.Channels))
	} else {
		q.Set("utterances", "true")
	}
	for _, kw := range r.keywords {
		q.Add("keywords", kw)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r *Recognizer) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Token "+r.apiKey)
	return h
}

// ---- batch ----

type word struct {
	Confidence float64 `json:"confidence"`
}

type prerecordedResponse struct {
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string `json:"transcript"`
				Words      []word `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
		Utterances []struct {
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Transcript string  `json:"transcript"`
			Words      []word  `json:"words"`
		} `json:"utterances"`
	} `json:"results"`
}

func (r *Recognizer) recognize(ctx context.Context, pcm []byte, emit func(stt.Segment)) error {
	u, err := r.listenURL(false)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(audio.EncodeWAV(pcm, audio.Conditioned)))
	if err != nil {
		return err
	}
	req.Header = r.authHeader()
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("transcribe: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pr prerecordedResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	for _, s := range prerecordedSegments(pr, r.Language(), audio.Conditioned.Duration(len(pcm))) {
		emit(s)
	}
	return nil
}

// prerecordedSegments turns utterances into segments. A response without
// utterances becomes one segment spanning the input.
func prerecordedSegments(pr prerecordedResponse, lang string, span time.Duration) []stt.Segment {
	if len(pr.Results.Channels) > 0 {
		if dl := pr.Results.Channels[0].DetectedLanguage; dl != "" {
			lang = dl
		}
	}

	if len(pr.Results.Utterances) == 0 {
		if len(pr.Results.Channels) == 0 || len(pr.Results.Channels[0].Alternatives) == 0 {
			return nil
		}
		alt := pr.Results.Channels[0].Alternatives[0]
		if strings.TrimSpace(alt.Transcript) == "" {
			return nil
		}
		s := stt.Segment{End: span, Text: alt.Transcript, Language: lang}
		applyConfidence(&s, alt.Words)
		return []stt.Segment{s}
	}

	out := make([]stt.Segment, 0, len(pr.Results.Utterances))
	for _, u := range pr.Results.Utterances {
		s := stt.Segment{
			Start:    seconds(u.Start),
			End:      seconds(u.End),
			Text:     u.Transcript,
			Language: lang,
		}
		applyConfidence(&s, u.Words)
		out = append(out, s)
	}
	return out
}

func applyConfidence(s *stt.Segment, words []word) {
	var c stt.Confidence
	for _, w := range words {
		c.Add(w.Confidence)
	}
	c.Apply(s)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second)).Round(time.Millisecond)
}

// ---- streaming ----

// streamResponse is a Results message on the streaming socket.
type streamResponse struct {
	Type     string  `json:"type"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	IsFinal  bool    `json:"is_final"`
	Channel  struct {
		Alternatives []struct {
			Transcript string   `json:"transcript"`
			Words      []word   `json:"words"`
			Languages  []string `json:"languages"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseStreamResponse converts a socket message into a segment. Non-result
// messages and empty transcripts are ignored.
func parseStreamResponse(data []byte, lang string) (stt.Segment, bool) {
	var resp streamResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Segment{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return stt.Segment{}, false
	}
	alt := resp.Channel.Alternatives[0]
	if strings.TrimSpace(alt.Transcript) == "" {
		return stt.Segment{}, false
	}
	if len(alt.Languages) > 0 {
		lang = alt.Languages[0]
	}
	s := stt.Segment{
		Start:    seconds(resp.Start),
		End:      seconds(resp.Start + resp.Duration),
		Text:     alt.Transcript,
		Language: lang,
		Partial:  !resp.IsFinal,
	}
	applyConfidence(&s, alt.Words)
	return s, true
}

// stream is one open streaming socket.
type stream struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
	base   time.Duration // stream time of the socket's first sample

	mu  sync.Mutex
	err error
}

func (s *stream) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ProcessStreamingChunk implements stt.Recognizer. The socket is opened on
// the first chunk after a reset or a failure. A chunk that could not be
// sent still advances stream time.
func (r *Recognizer) ProcessStreamingChunk(ctx context.Context, pcm []byte) error {
	if !r.IsInitialized() {
		return stt.ErrModelNotInitialized
	}
	r.streamMu.Lock()
	defer r.streamMu.Unlock()
	defer func() { r.sent += audio.Conditioned.Duration(len(pcm)) }()

	if r.stream == nil {
		s, err := r.dial(ctx)
		if err != nil {
			return fmt.Errorf("stt deepgram: %w", err)
		}
		r.stream = s
	}
	if err := r.stream.failure(); err != nil {
		r.closeStream()
		return fmt.Errorf("stt deepgram: stream: %w", err)
	}
	if err := r.stream.conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		r.closeStream()
		return fmt.Errorf("stt deepgram: send audio: %w", err)
	}
	return nil
}

func (r *Recognizer) dial(ctx context.Context) (*stream, error) {
	u, err := r.listenURL(true)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPHeader: r.authHeader()})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	// The socket outlives the chunk that opened it.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &stream{conn: conn, cancel: cancel, done: make(chan struct{}), base: r.sent}
	go r.readLoop(sctx, s)
	slog.Debug("stt deepgram: stream opened", "model", r.currentModel(), "offset", s.base)
	return s, nil
}

func (r *Recognizer) readLoop(ctx context.Context, s *stream) {
	defer close(s.done)
	lang := r.Language()
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
		if seg, ok := parseStreamResponse(msg, lang); ok {
			r.Publish(ctx, seg.Shift(s.base))
		}
	}
}

// closeStream asks Deepgram to flush, waits briefly for the remaining
// results and closes the socket. Callers hold streamMu.
func (r *Recognizer) closeStream() {
	s := r.stream
	if s == nil {
		return
	}
	r.stream = nil

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err == nil {
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	}
	s.cancel()
	_ = s.conn.Close(websocket.StatusNormalClosure, "stream closed")
	<-s.done
}

// FlushStream implements stt.Recognizer. It closes the current socket after
// Deepgram has finalized the audio sent on it. The next chunk opens a new
// socket that continues the stream time.
func (r *Recognizer) FlushStream(ctx context.Context) error {
	r.streamMu.Lock()
	defer r.streamMu.Unlock()
	r.closeStream()
	return ctx.Err()
}

// ResetStream implements stt.Recognizer. It closes the current socket after
// flushing it; the next chunk opens a new one with stream time at zero.
func (r *Recognizer) ResetStream() {
	r.streamMu.Lock()
	defer r.streamMu.Unlock()
	r.closeStream()
	r.sent = 0
}

// Close closes the stream and all subscriptions.
func (r *Recognizer) Close() error {
	r.ResetStream()
	r.Hub.Close()
	return nil
}
