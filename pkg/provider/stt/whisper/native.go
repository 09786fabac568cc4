// This file contains the Native recognizer backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

var _ stt.Recognizer = (*Native)(nil)

// Native implements stt.Recognizer in-process with whisper.cpp. Each pass
// creates a fresh whisper context from the shared model.
type Native struct {
	stt.Windowed

	threads int

	modelMu sync.RWMutex
	model   whisperlib.Model
}

// NativeOption is a functional option for configuring a Native recognizer.
type NativeOption func(*Native)

// WithThreads sets the inference thread count. Defaults to
// [stt.DefaultThreads].
func WithThreads(n int) NativeOption {
	return func(r *Native) { r.threads = n }
}

// WithNativeStream overrides the streaming window and step.
func WithNativeStream(window, step time.Duration) NativeOption {
	return func(r *Native) { r.Window = stt.StreamWindow{Window: window, Step: step} }
}

// NewNative returns an uninitialised Native recognizer. Call InitModel
// before processing audio.
func NewNative(opts ...NativeOption) *Native {
	r := &Native{threads: stt.DefaultThreads()}
	r.Name = "whisper-native"
	r.Run = r.recognize
	for _, o := range opts {
		o(r)
	}
	return r
}

// InitModel loads a ggml model from src.Path, or from src.Bytes via a
// temporary file. A previously loaded model is released.
func (r *Native) InitModel(ctx context.Context, src stt.ModelSource, language string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("whisper native: %w", err)
	}
	if src.IsZero() {
		return stt.ErrNoModel
	}

	path := src.Path
	if path == "" {
		tmp, err := writeTempModel(src.Bytes)
		if err != nil {
			return err
		}
		defer os.Remove(tmp)
		path = tmp
	}

	model, err := whisperlib.New(path)
	if err != nil {
		return fmt.Errorf("whisper native: load model %q: %w", path, err)
	}

	r.modelMu.Lock()
	old := r.model
	r.model = model
	r.modelMu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	r.MarkInitialized(language)
	slog.Info("whisper native: model loaded",
		"path", src.Path,
		"bytes", len(src.Bytes),
		"language", r.Language(),
		"threads", r.threads,
		"multilingual", model.IsMultilingual(),
	)
	return nil
}

func writeTempModel(data []byte) (string, error) {
	f, err := os.CreateTemp("", "livescribe-model-*.bin")
	if err != nil {
		return "", fmt.Errorf("whisper native: create temp model: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("whisper native: write temp model: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("whisper native: close temp model: %w", err)
	}
	return f.Name(), nil
}

// Close releases the model and closes all subscriptions.
func (r *Native) Close() error {
	r.Hub.Close()
	r.modelMu.Lock()
	defer r.modelMu.Unlock()
	if r.model == nil {
		return nil
	}
	err := r.model.Close()
	r.model = nil
	return err
}

func (r *Native) recognize(ctx context.Context, pcm []byte, emit func(stt.Segment)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.modelMu.RLock()
	defer r.modelMu.RUnlock()
	if r.model == nil {
		return stt.ErrModelNotInitialized
	}

	wctx, err := r.model.NewContext()
	if err != nil {
		return fmt.Errorf("create context: %w", err)
	}
	lang := r.Language()
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper native: failed to set language, using model default", "language", lang, "error", err)
	}
	if r.threads > 0 {
		wctx.SetThreads(uint(r.threads))
	}

	onSegment := func(seg whisperlib.Segment) {
		s := convertSegment(seg)
		s.Language = lang
		if lang == stt.LanguageAuto {
			s.Language = wctx.DetectedLanguage()
		}
		emit(s)
	}
	if err := wctx.Process(audio.PCMToFloat32(pcm), nil, onSegment, nil); err != nil {
		return fmt.Errorf("process audio: %w", err)
	}
	return nil
}

// convertSegment maps a whisper.cpp segment, deriving confidence from the
// probabilities of its text tokens.
func convertSegment(seg whisperlib.Segment) stt.Segment {
	s := stt.Segment{
		Start: seg.Start,
		End:   seg.End,
		Text:  seg.Text,
	}
	var c stt.Confidence
	for _, tok := range seg.Tokens {
		if isSpecialToken(tok.Text) {
			continue
		}
		c.Add(float64(tok.P))
	}
	c.Apply(&s)
	return s
}

// isSpecialToken reports control tokens such as "[_BEG_]" or "<|en|>".
func isSpecialToken(text string) bool {
	return strings.HasPrefix(text, "[_") || strings.HasPrefix(text, "<|")
}
