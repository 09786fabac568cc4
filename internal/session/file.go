package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/livescribe/internal/feedgate"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/store"
	"github.com/MrWong99/livescribe/internal/subtitle"
	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// FileResult is the outcome of TranscribeFile.
type FileResult struct {
	SessionID string
	Lines     []subtitle.Line
	Duration  time.Duration
	// Windows is the number of recognizer calls made.
	Windows int
	// Silent is the number of one-second chunks skipped as silence.
	Silent int
}

// TranscribeFile transcodes src (a path or http(s) URL), runs it through
// the feed gate and returns the post-processed lines. Progress (0-100) is
// reported on the event stream. A failing window is logged and skipped;
// an uninitialized model or a cancelled ctx aborts the job.
func (c *Controller) TranscribeFile(ctx context.Context, src string) (res *FileResult, err error) {
	if found, ok := c.transition(StateTranscribing, StateIdle); !ok {
		if found == StateRecording {
			return nil, ErrAlreadyRecording
		}
		return nil, ErrBusy
	}
	id := uuid.NewString()
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
	c.setState(StateTranscribing)
	c.metrics.SessionsActive.Add(ctx, 1)

	ctx, span := observe.StartSpan(ctx, "session.transcribe_file",
		trace.WithAttributes(attribute.String("source", src)))
	defer func() {
		var attrs []attribute.KeyValue
		if res != nil {
			attrs = append(attrs, attribute.Int("windows", res.Windows), attribute.Int("lines", len(res.Lines)))
		}
		observe.EndSpan(span, err, attrs...)
		c.metrics.SessionsActive.Add(context.Background(), -1)
		c.setState(StateIdle)
		if err != nil {
			c.fail(id, err)
		}
	}()

	started := time.Now()
	if err := c.ensureModel(ctx); err != nil {
		return nil, err
	}
	pcm, err := c.transcoder.Load(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("session: load %q: %w", src, err)
	}

	res = &FileResult{SessionID: id, Duration: audio.Conditioned.Duration(len(pcm))}
	segs, err := c.runGate(ctx, audio.PCMToFloat32(pcm), res)
	if err != nil {
		return nil, err
	}

	c.finish(ctx, store.Session{
		ID:        id,
		Source:    src,
		Language:  c.language,
		Mode:      store.ModeFile,
		StartedAt: started,
		StoppedAt: time.Now(),
	}, segs)
	res.Lines = c.Lines()
	c.notifier.Notify(Event{Type: EventProgress, SessionID: id, Progress: 100})
	slog.Info("file transcribed", "session_id", id, "source", src,
		"duration", res.Duration, "windows", res.Windows, "silent_chunks", res.Silent, "lines", len(res.Lines))
	return res, nil
}

// runGate feeds samples through the feed gate one chunk at a time and
// reconciles the segments of every window.
//
// Consecutive windows overlap, so the recognizer re-emits most of the
// previous window's text with new boundaries. Only settled segments are
// kept from each window: all but the last, starting at or after the
// previous window's settle point. The final window contributes all of its
// remaining segments.
func (c *Controller) runGate(ctx context.Context, samples []float32, res *FileResult) ([]stt.Segment, error) {
	gate := feedgate.New(feedgate.WithDepth(c.gateDepth), feedgate.WithThresholdDB(c.gateThresholdDB))
	c.recon.Start()

	const chunk = audio.TargetSampleRate
	var (
		settled  time.Duration
		last     []stt.Segment
		progress = -1
	)
	window := func(w feedgate.Window) error {
		res.Windows++
		segs, err := c.recognizeWindow(ctx, w)
		if err != nil {
			if errors.Is(err, stt.ErrModelNotInitialized) || ctx.Err() != nil {
				return err
			}
			slog.Warn("session: window failed, continuing", "offset", w.Offset(), "error", err)
			return nil
		}
		if len(segs) == 0 {
			return nil
		}
		for _, s := range segs[:len(segs)-1] {
			if s.Start >= settled {
				c.metrics.RecordSegment(ctx, c.recon.Add(s).String())
			}
		}
		if t, ok := stt.Settle(segs); ok {
			settled = max(settled, t)
		}
		last = segs
		return nil
	}

	for off := 0; off < len(samples); off += chunk {
		silentBefore := gate.Silent()
		ws := gate.Push(samples[off:min(off+chunk, len(samples))])
		if full := min(off+chunk, len(samples))-off == chunk; full {
			c.metrics.RecordGateChunk(ctx, gate.Silent() == silentBefore)
		}
		for _, w := range ws {
			if err := window(w); err != nil {
				c.recon.Reset()
				return nil, err
			}
		}
		if p := off * 100 / len(samples); p != progress {
			progress = p
			c.notifier.Notify(Event{Type: EventProgress, SessionID: res.SessionID, Progress: p})
		}
	}
	if w, ok := gate.Flush(); ok {
		if err := window(w); err != nil {
			c.recon.Reset()
			return nil, err
		}
	}
	for _, s := range last {
		if s.Start >= settled {
			c.metrics.RecordSegment(ctx, c.recon.Add(s).String())
		}
	}
	res.Silent = gate.Silent()

	_, segs := c.recon.Stop()
	return segs, nil
}

// recognizeWindow transcribes one window and maps segment times from the
// concatenated window back to stream time.
func (c *Controller) recognizeWindow(ctx context.Context, w feedgate.Window) ([]stt.Segment, error) {
	segs, err := c.batch(ctx, w.PCM(), 0)
	if err != nil {
		return nil, err
	}
	for i := range segs {
		segs[i].Start = w.Map(segs[i].Start)
		segs[i].End = w.MapEnd(segs[i].End)
	}
	return segs, nil
}
