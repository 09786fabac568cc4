// Package session runs transcription sessions: live recordings from a
// capture source and whole-file jobs.
//
// A [Controller] owns one capture buffer, one reconciler and one recognizer
// and allows a single session at a time. During a recording the capture
// callback only buffers audio; a [buffer.Dispatcher] feeds conditioned
// increments to the recognizer in order, and a consumer goroutine folds the
// recognizer's segments into the live transcript. Every UI-visible change
// goes through the controller's [Notifier].
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/livescribe/internal/buffer"
	"github.com/MrWong99/livescribe/internal/feedgate"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/reconcile"
	"github.com/MrWong99/livescribe/internal/store"
	"github.com/MrWong99/livescribe/internal/subtitle"
	"github.com/MrWong99/livescribe/internal/transcode"
	"github.com/MrWong99/livescribe/internal/transcript"
	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/capture"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

var (
	// ErrAlreadyRecording is returned by StartRecording during a recording.
	ErrAlreadyRecording = errors.New("session: already recording")

	// ErrNotRecording is returned by StopRecording when nothing is recording.
	ErrNotRecording = errors.New("session: not recording")

	// ErrBusy is returned when another session is starting, stopping or
	// transcribing.
	ErrBusy = errors.New("session: busy")

	// ErrNoSource is returned by StartRecording without a capture source.
	ErrNoSource = errors.New("session: no capture source configured")
)

// segmentBuffer is the subscription depth for recognizer segments.
const segmentBuffer = 64

// State is the controller lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRecording
	StateStopping
	StateTranscribing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateTranscribing:
		return "transcribing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithSource sets the capture source used by StartRecording.
func WithSource(src capture.Source) Option {
	return func(c *Controller) { c.source = src }
}

// WithModel sets the model loaded on first use and the recognition
// language.
func WithModel(model stt.ModelSource, language string) Option {
	return func(c *Controller) {
		c.model = model
		c.language = language
	}
}

// WithLive selects live reconciliation for recordings. Without it a
// recording is transcribed as one batch job when it stops.
func WithLive(live bool) Option {
	return func(c *Controller) { c.live = live }
}

// WithDebugDir enables debug WAV output for recordings.
func WithDebugDir(dir string) Option {
	return func(c *Controller) { c.debugDir = dir }
}

// WithQueueSize sets the dispatch queue depth.
func WithQueueSize(n int) Option {
	return func(c *Controller) { c.queueSize = n }
}

// WithGate sets the feed gate window depth and silence threshold used for
// file transcription.
func WithGate(depth int, thresholdDB float64) Option {
	return func(c *Controller) {
		c.gateDepth = depth
		c.gateThresholdDB = thresholdDB
	}
}

// WithTranscoder sets the transcoder used by TranscribeFile.
func WithTranscoder(t *transcode.Transcoder) Option {
	return func(c *Controller) { c.transcoder = t }
}

// WithProcessor sets the post-processor applied to finalized lines.
func WithProcessor(p *transcript.Processor) Option {
	return func(c *Controller) { c.processor = p }
}

// WithStore persists every finished session.
func WithStore(s store.Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// recording is the per-session wiring of a live or batch recording.
type recording struct {
	id         string
	startedAt  time.Time
	dispatcher *buffer.Dispatcher
	unsub      func()
	consumed   chan struct{}
}

// Controller runs one session at a time. All methods are safe for
// concurrent use.
type Controller struct {
	rec        stt.Recognizer
	source     capture.Source
	model      stt.ModelSource
	language   string
	live       bool
	debugDir   string
	queueSize  int
	transcoder *transcode.Transcoder
	processor  *transcript.Processor
	store      store.Store
	metrics    *observe.Metrics

	gateDepth       int
	gateThresholdDB float64

	cond     *audio.Conditioner
	buf      *buffer.CaptureBuffer
	recon    *reconcile.Reconciler
	notifier *Notifier

	// accepting gates the capture callback; it turns false before capture
	// stops so in-flight frames are discarded.
	accepting atomic.Bool

	mu        sync.Mutex
	state     State
	cur       *recording
	sessionID string
	lines     []subtitle.Line

	jobs sync.WaitGroup
}

// New returns an idle Controller for rec.
func New(rec stt.Recognizer, opts ...Option) *Controller {
	c := &Controller{
		rec:             rec,
		language:        stt.LanguageAuto,
		queueSize:       buffer.DefaultQueueSize,
		gateDepth:       feedgate.DefaultDepth,
		gateThresholdDB: feedgate.DefaultThresholdDB,
		notifier:        NewNotifier(0),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.transcoder == nil {
		c.transcoder = transcode.New()
	}
	c.cond = &audio.Conditioner{OnDrop: func(reason string) {
		c.metrics.RecordDrop(context.Background(), reason)
	}}
	c.buf = buffer.New(c.cond)
	c.recon = reconcile.New(reconcile.WithPublisher(c.publish))
	return c
}

// publish hands a reconciler snapshot to the UI path. It runs under the
// reconciler lock, so snapshots arrive in version order.
func (c *Controller) publish(s reconcile.Snapshot) {
	c.notifier.Notify(Event{
		Type:       EventLive,
		SessionID:  c.currentID(),
		Version:    s.Version,
		Live:       s.Live,
		Committed:  s.Committed,
		Hypothesis: s.Hypothesis,
	})
}

func (c *Controller) currentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Listen subscribes to session events. See [Notifier.Listen].
func (c *Controller) Listen(size int) (<-chan Event, func()) {
	return c.notifier.Listen(size)
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsRecording reports whether a recording is in progress.
func (c *Controller) IsRecording() bool {
	return c.State() == StateRecording
}

// Recognizer returns the controller's recognizer.
func (c *Controller) Recognizer() stt.Recognizer { return c.rec }

// transition moves from one of from to next. It reports the state found.
func (c *Controller) transition(next State, from ...State) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range from {
		if c.state == f {
			c.state = next
			return f, true
		}
	}
	return c.state, false
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	id := c.sessionID
	c.mu.Unlock()
	c.notifier.Notify(Event{Type: EventRecording, SessionID: id, State: s.String()})
}

// fail reports a session-level error on the UI path.
func (c *Controller) fail(id string, err error) {
	slog.Error("session failed", "session_id", id, "error", err)
	c.notifier.Notify(Event{Type: EventError, SessionID: id, Error: err.Error()})
}

// ensureModel loads the configured model unless the recognizer is ready.
func (c *Controller) ensureModel(ctx context.Context) error {
	if c.rec.IsInitialized() {
		return nil
	}
	if c.model.IsZero() {
		return stt.ErrNoModel
	}
	if err := c.rec.InitModel(ctx, c.model, c.language); err != nil {
		return fmt.Errorf("session: init model: %w", err)
	}
	return nil
}

// StartRecording starts capture. It returns ErrAlreadyRecording during a
// recording and ErrBusy while another session is in another state. On
// failure the controller returns to idle and the error is also reported
// on the event stream.
func (c *Controller) StartRecording(ctx context.Context) (string, error) {
	if found, ok := c.transition(StateStarting, StateIdle); !ok {
		if found == StateRecording {
			return "", ErrAlreadyRecording
		}
		return "", ErrBusy
	}

	id := uuid.NewString()
	if err := c.startRecording(ctx, id); err != nil {
		c.accepting.Store(false)
		c.setState(StateIdle)
		c.fail(id, err)
		return "", err
	}
	return id, nil
}

func (c *Controller) startRecording(ctx context.Context, id string) error {
	if c.source == nil {
		return ErrNoSource
	}
	if err := c.ensureModel(ctx); err != nil {
		return err
	}

	c.buf.DrainAndReset()
	r := &recording{id: id, startedAt: time.Now()}

	if c.live {
		c.rec.ResetStream()
		c.recon.Start()
		segs, unsub := c.rec.Subscribe(segmentBuffer)
		r.unsub = unsub
		r.consumed = make(chan struct{})
		go c.consume(segs, r.consumed)

		r.dispatcher = buffer.NewDispatcher(context.WithoutCancel(ctx), c.queueSize, c.stream,
			buffer.WithDepthHook(func(delta int64) { c.metrics.QueueDepth.Add(context.Background(), delta) }),
			buffer.WithErrorHook(func(err error) { c.streamFailed(id, err) }),
		)
		c.buf.SetSink(&meteredSink{d: r.dispatcher, m: c.metrics})
	} else {
		c.buf.SetSink(nil)
	}

	c.mu.Lock()
	c.cur = r
	c.sessionID = id
	c.mu.Unlock()

	c.accepting.Store(true)
	if err := c.source.Start(ctx, c.onFrame); err != nil {
		c.teardown(context.Background(), r)
		c.recon.Reset()
		c.buf.DrainAndReset()
		c.mu.Lock()
		c.cur = nil
		c.mu.Unlock()
		return fmt.Errorf("session: start capture: %w", err)
	}

	c.metrics.SessionsActive.Add(ctx, 1)
	c.setState(StateRecording)
	slog.Info("recording started", "session_id", id, "live", c.live, "format", c.source.Format().String())
	return nil
}

// onFrame is the capture callback.
func (c *Controller) onFrame(f audio.AudioFrame) {
	if !c.accepting.Load() {
		return
	}
	if err := c.buf.Append(f); err != nil {
		// The conditioner logs and counts the drop.
		return
	}
	c.metrics.FramesTotal.Add(context.Background(), 1)
}

// stream is the dispatcher handler for live recordings.
func (c *Controller) stream(ctx context.Context, pcm []byte) error {
	start := time.Now()
	err := c.rec.ProcessStreamingChunk(ctx, pcm)
	c.metrics.RecordRecognizerCall(ctx, "stream", time.Since(start), err)
	return err
}

func (c *Controller) streamFailed(id string, err error) {
	if errors.Is(err, stt.ErrModelNotInitialized) {
		c.fail(id, err)
	}
}

// consume folds recognizer segments into the reconciler until segs closes.
func (c *Controller) consume(segs <-chan stt.Segment, done chan<- struct{}) {
	defer close(done)
	ctx := context.Background()
	for seg := range segs {
		res := c.recon.Add(seg)
		c.metrics.RecordSegment(ctx, res.String())
	}
}

// teardown stops the dispatcher and the segment consumer of r.
func (c *Controller) teardown(ctx context.Context, r *recording) {
	c.buf.SetSink(nil)
	if r.dispatcher != nil {
		if err := r.dispatcher.Close(ctx); err != nil {
			slog.Warn("session: dispatch queue abandoned", "session_id", r.id, "error", err)
		}
	}
	if r.unsub != nil {
		if err := c.rec.FlushStream(ctx); err != nil {
			slog.Warn("session: final stream pass failed", "session_id", r.id, "error", err)
		}
		c.rec.ResetStream()
		r.unsub()
		<-r.consumed
	}
}

// StopRecording ends the recording. Queued audio is still recognized
// unless ctx ends first. In live mode the reconciled transcript is
// finalized before StopRecording returns; otherwise the recording is
// transcribed in the background (see Wait). Debug WAV failures are
// reported on the event stream and do not fail the stop.
func (c *Controller) StopRecording(ctx context.Context) error {
	if found, ok := c.transition(StateStopping, StateRecording); !ok {
		if found == StateIdle {
			return ErrNotRecording
		}
		return ErrBusy
	}
	c.accepting.Store(false)

	c.mu.Lock()
	r := c.cur
	c.cur = nil
	c.mu.Unlock()

	if err := c.source.Stop(); err != nil {
		slog.Warn("session: stop capture", "session_id", r.id, "error", err)
	}
	c.teardown(ctx, r)

	snap := c.buf.DrainAndReset()
	if err := c.writeDebugWAVs(r.id, snap); err != nil {
		c.fail(r.id, err)
	}

	meta := store.Session{ID: r.id, Source: "capture", Language: c.language, StartedAt: r.startedAt}
	if c.live {
		_, segs := c.recon.Stop()
		meta.Mode = store.ModeLive
		meta.StoppedAt = time.Now()
		c.finish(ctx, meta, segs)
		c.metrics.SessionsActive.Add(ctx, -1)
		c.setState(StateIdle)
		slog.Info("recording stopped", "session_id", r.id, "mode", meta.Mode)
		return nil
	}

	meta.Mode = store.ModeBatch
	c.setState(StateTranscribing)
	c.jobs.Add(1)
	go func() {
		defer c.jobs.Done()
		defer c.metrics.SessionsActive.Add(context.Background(), -1)
		jobCtx := context.WithoutCancel(ctx)
		segs, err := c.batchAll(jobCtx, snap.Processed)
		if err != nil {
			c.fail(r.id, err)
		}
		meta.StoppedAt = time.Now()
		c.finish(jobCtx, meta, segs)
		c.setState(StateIdle)
		slog.Info("recording transcribed", "session_id", r.id, "segments", len(segs))
	}()
	return nil
}

// batchAll transcribes a whole recording in one recognizer call and folds
// the result through the reconciler.
func (c *Controller) batchAll(ctx context.Context, pcm []byte) ([]stt.Segment, error) {
	ctx, span := observe.StartSpan(ctx, "session.batch")
	c.recon.Start()

	var err error
	if len(pcm) > 0 {
		var out []stt.Segment
		out, err = c.batch(ctx, pcm, 0)
		for _, s := range out {
			c.metrics.RecordSegment(ctx, c.recon.Add(s).String())
		}
	}
	_, segs := c.recon.Stop()
	observe.EndSpan(span, err, attribute.Int("segments", len(segs)))
	return segs, err
}

// batch runs one ProcessBatch call and collects the segments it emits.
func (c *Controller) batch(ctx context.Context, pcm []byte, offset time.Duration) ([]stt.Segment, error) {
	segs, unsub := c.rec.Subscribe(segmentBuffer)
	var out []stt.Segment
	done := make(chan struct{})
	go func() {
		defer close(done)
		for s := range segs {
			out = append(out, s)
		}
	}()

	start := time.Now()
	err := c.rec.ProcessBatch(ctx, pcm, offset)
	c.metrics.RecordRecognizerCall(ctx, "batch", time.Since(start), err)
	unsub()
	<-done
	return out, err
}

// finish post-processes segs, keeps them as the current transcript and
// persists the session.
func (c *Controller) finish(ctx context.Context, meta store.Session, segs []stt.Segment) {
	lines := subtitle.FromSegments(segs)
	if c.processor != nil {
		lines = c.processor.Lines(ctx, lines)
	}

	c.mu.Lock()
	c.lines = lines
	c.sessionID = meta.ID
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	meta.Lines = lines
	if err := c.store.SaveSession(ctx, meta); err != nil {
		c.fail(meta.ID, fmt.Errorf("session: save: %w", err))
	}
}

// Wait blocks until background transcription jobs have finished.
func (c *Controller) Wait() {
	c.jobs.Wait()
}

// Transcript is the controller's current view for API consumers.
type Transcript struct {
	SessionID string
	State     State
	Snapshot  reconcile.Snapshot
	// Lines are the segments of the active session, or the finalized lines
	// of the last finished one.
	Lines []subtitle.Line
}

// Transcript returns the current transcript.
func (c *Controller) Transcript() Transcript {
	c.mu.Lock()
	t := Transcript{SessionID: c.sessionID, State: c.state, Lines: c.lines}
	c.mu.Unlock()

	if c.recon.State() == reconcile.StateActive {
		t.Snapshot = c.recon.Snapshot()
		t.Lines = subtitle.FromSegments(c.recon.Segments())
	}
	return t
}

// Lines returns the finalized lines of the last finished session.
func (c *Controller) Lines() []subtitle.Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines
}

// Close stops an active recording, waits for background jobs and closes
// the event stream.
func (c *Controller) Close(ctx context.Context) error {
	var err error
	if c.IsRecording() {
		err = c.StopRecording(ctx)
		if errors.Is(err, ErrNotRecording) {
			err = nil
		}
	}
	c.Wait()
	c.notifier.Close()
	return err
}

// meteredSink counts increments the dispatcher refused.
type meteredSink struct {
	d *buffer.Dispatcher
	m *observe.Metrics
}

func (s *meteredSink) Enqueue(pcm []byte) error {
	err := s.d.Enqueue(pcm)
	switch {
	case errors.Is(err, buffer.ErrQueueFull):
		s.m.RecordDrop(context.Background(), "queue_full")
	case errors.Is(err, buffer.ErrClosed):
		s.m.RecordDrop(context.Background(), "closed")
	}
	return err
}
