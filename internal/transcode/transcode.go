// Package transcode converts arbitrary media into recognizer-ready WAV by
// shelling out to ffmpeg.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// ErrUnsupported is returned when ffmpeg cannot decode the input.
var ErrUnsupported = errors.New("transcode: unsupported input")

// Transcoder runs ffmpeg. The zero value uses "ffmpeg" from PATH and the
// system temp directory.
type Transcoder struct {
	// FFmpegPath is the executable to run.
	FFmpegPath string

	// WorkDir receives output files.
	WorkDir string
}

// Option configures a Transcoder.
type Option func(*Transcoder)

// WithFFmpegPath sets the ffmpeg executable.
func WithFFmpegPath(p string) Option {
	return func(t *Transcoder) { t.FFmpegPath = p }
}

// WithWorkDir sets the directory for converted files.
func WithWorkDir(dir string) Option {
	return func(t *Transcoder) { t.WorkDir = dir }
}

// New returns a Transcoder.
func New(opts ...Option) *Transcoder {
	t := &Transcoder{}
	for _, o := range opts {
		o(t)
	}
	return t
}

// IsURL reports whether src is an http or https URL that ffmpeg should
// fetch itself.
func IsURL(src string) bool {
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Available reports whether the ffmpeg executable can be found.
func (t *Transcoder) Available() bool {
	_, err := exec.LookPath(t.binary())
	return err == nil
}

func (t *Transcoder) binary() string {
	if t.FFmpegPath != "" {
		return t.FFmpegPath
	}
	return "ffmpeg"
}

// Args returns the ffmpeg arguments that convert in to 16 kHz mono WAV at out.
func Args(in, out string) []string {
	return []string{
		"-y",
		"-hide_banner", "-loglevel", "error",
		"-i", in,
		"-ac", strconv.Itoa(audio.TargetChannels),
		"-ar", strconv.Itoa(audio.TargetSampleRate),
		"-f", "wav",
		out,
	}
}

// ProcessFile converts src (a local path or URL) and returns the path of
// the resulting WAV file. The caller removes the file when done.
func (t *Transcoder) ProcessFile(ctx context.Context, src string) (string, error) {
	if !IsURL(src) {
		if _, err := os.Stat(src); err != nil {
			return "", fmt.Errorf("transcode: %w", err)
		}
	}

	dir := t.WorkDir
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("transcode: create work dir: %w", err)
		}
	}
	f, err := os.CreateTemp(dir, "livescribe-*.wav")
	if err != nil {
		return "", fmt.Errorf("transcode: create output: %w", err)
	}
	out := f.Name()
	f.Close()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.binary(), Args(src, out)...)
	cmd.Stderr = &stderr

	slog.Debug("transcode: running ffmpeg", "input", src, "output", out)
	if err := cmd.Run(); err != nil {
		os.Remove(out)
		if ctx.Err() != nil {
			return "", fmt.Errorf("transcode: %w", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%w: %s: %s", ErrUnsupported, filepath.Base(src), msg)
		}
		return "", fmt.Errorf("transcode: run ffmpeg: %w", err)
	}
	return out, nil
}

// Load converts src and returns its conditioned PCM. WAV input that is
// already decodable skips ffmpeg.
func (t *Transcoder) Load(ctx context.Context, src string) ([]byte, error) {
	if !IsURL(src) && strings.EqualFold(filepath.Ext(src), ".wav") {
		pcm, f, err := audio.ReadWAVFile(src)
		if err == nil {
			return condition(pcm, f)
		}
		slog.Debug("transcode: wav decode failed, using ffmpeg", "path", src, "error", err)
	}

	path, err := t.ProcessFile(ctx, src)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	pcm, f, err := audio.ReadWAVFile(path)
	if err != nil {
		return nil, fmt.Errorf("transcode: read converted audio: %w", err)
	}
	return condition(pcm, f)
}

func condition(pcm []byte, f audio.Format) ([]byte, error) {
	var c audio.Conditioner
	out, err := c.Condition(audio.AudioFrame{
		Data:          pcm,
		SampleRate:    f.SampleRate,
		Channels:      f.Channels,
		BitsPerSample: audio.BitDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("transcode: condition: %w", err)
	}
	return out, nil
}
