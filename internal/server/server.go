// Package server exposes the session controller over HTTP: recording
// control, the current transcript, subtitle export and a WebSocket feed
// of session events.
//
// Routes:
//
//	POST /api/session/start   start a recording
//	POST /api/session/stop    stop the active recording
//	GET  /api/transcript      live text, committed text and lines
//	GET  /api/export          ?format=srt|txt[&session=<id>]
//	GET  /api/sessions        stored sessions, newest first
//	GET  /ws                  JSON session events
//	GET  /healthz, /readyz    see package health
//	GET  /metrics             Prometheus scrape endpoint
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/livescribe/internal/health"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/session"
	"github.com/MrWong99/livescribe/internal/store"
	"github.com/MrWong99/livescribe/internal/subtitle"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// Controller is the part of [session.Controller] the server drives.
type Controller interface {
	StartRecording(ctx context.Context) (string, error)
	StopRecording(ctx context.Context) error
	Transcript() session.Transcript
	Listen(size int) (<-chan session.Event, func())
}

const (
	// eventBuffer is the per-client event queue depth.
	eventBuffer = 32

	writeTimeout = 5 * time.Second
)

// Server serves the HTTP API.
type Server struct {
	ctrl    Controller
	store   store.Store
	checks  []health.Checker
	metrics *observe.Metrics
	scrape  http.Handler

	httpSrv *http.Server
}

// Option configures a [Server].
type Option func(*Server)

// WithStore enables /api/sessions and export of stored sessions.
func WithStore(s store.Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithCheckers adds readiness checks served on /readyz.
func WithCheckers(c ...health.Checker) Option {
	return func(srv *Server) { srv.checks = append(srv.checks, c...) }
}

// WithMetrics records request metrics and traces for every route.
func WithMetrics(m *observe.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// WithScrapeHandler replaces the /metrics handler. Default:
// promhttp.Handler(). A nil handler disables /metrics.
func WithScrapeHandler(h http.Handler) Option {
	return func(srv *Server) { srv.scrape = h }
}

// New returns a Server listening on addr once [Server.ListenAndServe] is
// called.
func New(addr string, ctrl Controller, opts ...Option) *Server {
	s := &Server{ctrl: ctrl, scrape: promhttp.Handler()}
	for _, o := range opts {
		o(s)
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler, wrapped in the observe middleware
// when metrics are configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session/start", s.handleStart)
	mux.HandleFunc("POST /api/session/stop", s.handleStop)
	mux.HandleFunc("GET /api/transcript", s.handleTranscript)
	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /ws", s.handleWS)
	health.New(s.checks...).Register(mux)
	if s.scrape != nil {
		mux.Handle("GET /metrics", s.scrape)
	}

	if s.metrics == nil {
		return mux
	}
	return observe.Middleware(s.metrics)(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.httpSrv.Addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

type startResponse struct {
	SessionID string `json:"session_id"`
}

type stateResponse struct {
	State string `json:"state"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := s.ctrl.StartRecording(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{SessionID: id})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StopRecording(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: s.ctrl.Transcript().State.String()})
}

type lineJSON struct {
	Index      int     `json:"index"`
	StartMS    int64   `json:"start_ms"`
	EndMS      int64   `json:"end_ms"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

type transcriptResponse struct {
	SessionID  string     `json:"session_id,omitempty"`
	State      string     `json:"state"`
	Version    uint64     `json:"version"`
	Live       string     `json:"live"`
	Committed  string     `json:"committed"`
	Hypothesis string     `json:"hypothesis"`
	Lines      []lineJSON `json:"lines"`
}

func toJSONLines(lines []subtitle.Line) []lineJSON {
	out := make([]lineJSON, len(lines))
	for i, l := range lines {
		out[i] = lineJSON{
			Index:      l.Index,
			StartMS:    l.Start.Milliseconds(),
			EndMS:      l.End.Milliseconds(),
			Text:       l.Text,
			Confidence: l.Confidence,
		}
	}
	return out
}

func (s *Server) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	t := s.ctrl.Transcript()
	writeJSON(w, http.StatusOK, transcriptResponse{
		SessionID:  t.SessionID,
		State:      t.State.String(),
		Version:    t.Snapshot.Version,
		Live:       t.Snapshot.Live,
		Committed:  t.Snapshot.Committed,
		Hypothesis: t.Snapshot.Hypothesis,
		Lines:      toJSONLines(t.Lines),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := subtitle.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := "transcript"
	var lines []subtitle.Line
	if id := r.URL.Query().Get("session"); id != "" {
		if s.store == nil {
			http.Error(w, "no session store configured", http.StatusNotImplemented)
			return
		}
		sess, err := s.store.Session(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		name, lines = sess.ID, sess.Lines
	} else {
		t := s.ctrl.Transcript()
		if t.SessionID != "" {
			name = t.SessionID
		}
		lines = t.Lines
	}

	var buf bytes.Buffer
	if err := subtitle.Write(&buf, format, lines); err != nil {
		writeError(w, r, err)
		return
	}
	ct := "text/plain; charset=utf-8"
	if format == subtitle.FormatSRT {
		ct = "application/x-subrip"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"."+string(format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type sessionJSON struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Language  string    `json:"language"`
	Mode      string    `json:"mode"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "no session store configured", http.StatusNotImplemented)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	sessions, err := s.store.ListSessions(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]sessionJSON, len(sessions))
	for i, sess := range sessions {
		out[i] = sessionJSON{
			ID:        sess.ID,
			Source:    sess.Source,
			Language:  sess.Language,
			Mode:      string(sess.Mode),
			StartedAt: sess.StartedAt,
			StoppedAt: sess.StoppedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleWS streams session events to one client. The current transcript
// is sent first so late joiners see the text so far.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	events, cancel := s.ctrl.Listen(eventBuffer)
	defer cancel()

	// Clients only listen; CloseRead cancels ctx when they go away.
	ctx := conn.CloseRead(r.Context())

	t := s.ctrl.Transcript()
	first := session.Event{Type: session.EventRecording, SessionID: t.SessionID, State: t.State.String()}
	if err := write(ctx, conn, first); err != nil {
		return
	}
	if t.Snapshot.Version > 0 {
		live := session.Event{
			Type:       session.EventLive,
			SessionID:  t.SessionID,
			Version:    t.Snapshot.Version,
			Live:       t.Snapshot.Live,
			Committed:  t.Snapshot.Committed,
			Hypothesis: t.Snapshot.Hypothesis,
		}
		if err := write(ctx, conn, live); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case e, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := write(ctx, conn, e); err != nil {
				observe.Logger(r.Context()).Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, e session.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, e)
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrAlreadyRecording),
		errors.Is(err, session.ErrNotRecording),
		errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoSource),
		errors.Is(err, stt.ErrNoModel),
		errors.Is(err, stt.ErrModelNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, subtitle.ErrEmpty):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
