// Package portaudio captures microphone input through PortAudio
// (github.com/gordonklaus/portaudio).
//
// The PortAudio C library must be available at link time. Frames are
// delivered from PortAudio's callback thread as interleaved 16-bit PCM at
// the configured rate and channel count.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/capture"
)

var _ capture.Source = (*Source)(nil)

const (
	defaultSampleRate      = 48000
	defaultChannels        = 1
	defaultFramesPerBuffer = 960 // 20 ms at 48 kHz
)

// Source captures from a PortAudio input device.
type Source struct {
	sampleRate      int
	channels        int
	framesPerBuffer int
	device          string

	mu      sync.Mutex
	stream  *pa.Stream
	started time.Time
	frames  int64
}

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithSampleRate sets the capture rate in Hz. Defaults to 48000.
func WithSampleRate(rate int) Option {
	return func(s *Source) { s.sampleRate = rate }
}

// WithChannels sets the number of input channels. Defaults to 1.
func WithChannels(n int) Option {
	return func(s *Source) { s.channels = n }
}

// WithFramesPerBuffer sets the callback period in sample frames.
func WithFramesPerBuffer(n int) Option {
	return func(s *Source) { s.framesPerBuffer = n }
}

// WithDevice selects an input device by case-insensitive name substring.
// Empty selects the system default input.
func WithDevice(name string) Option {
	return func(s *Source) { s.device = name }
}

// New returns a Source. PortAudio is initialised lazily on Start.
func New(opts ...Option) *Source {
	s := &Source{
		sampleRate:      defaultSampleRate,
		channels:        defaultChannels,
		framesPerBuffer: defaultFramesPerBuffer,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Format implements capture.Source.
func (s *Source) Format() audio.Format {
	return audio.Format{SampleRate: s.sampleRate, Channels: s.channels}
}

// IsRecording implements capture.Source.
func (s *Source) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// Start opens the input stream and begins delivering frames to h.
func (s *Source) Start(ctx context.Context, h capture.FrameHandler) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("portaudio: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return capture.ErrAlreadyStarted
	}

	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}

	s.started = time.Now()
	s.frames = 0
	f := s.Format()
	callback := func(in []int16) {
		// PortAudio reuses in between callbacks; Int16sToPCM copies.
		frame := audio.AudioFrame{
			Data:          audio.Int16sToPCM(in),
			SampleRate:    f.SampleRate,
			Channels:      f.Channels,
			BitsPerSample: audio.BitDepth,
			Timestamp:     time.Duration(s.frames) * time.Second / time.Duration(f.SampleRate),
		}
		s.frames += int64(len(in) / f.Channels)
		h(frame)
	}

	stream, err := s.open(callback)
	if err != nil {
		_ = pa.Terminate()
		return err
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: start stream: %w", err)
	}
	s.stream = stream

	slog.Info("portaudio: capture started",
		"format", f.String(),
		"frames_per_buffer", s.framesPerBuffer,
		"device", s.device,
	)
	return nil
}

func (s *Source) open(callback func([]int16)) (*pa.Stream, error) {
	if s.device == "" {
		stream, err := pa.OpenDefaultStream(s.channels, 0, float64(s.sampleRate), s.framesPerBuffer, callback)
		if err != nil {
			return nil, fmt.Errorf("portaudio: open default stream: %w", err)
		}
		return stream, nil
	}

	dev, err := findInputDevice(s.device)
	if err != nil {
		return nil, err
	}
	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   dev,
			Channels: s.channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(s.sampleRate),
		FramesPerBuffer: s.framesPerBuffer,
	}
	stream, err := pa.OpenStream(params, callback)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open stream on %q: %w", dev.Name, err)
	}
	return stream, nil
}

func findInputDevice(name string) (*pa.DeviceInfo, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	want := strings.ToLower(name)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no input device matching %q", name)
}

// Stop stops and closes the stream and releases PortAudio. It is a no-op
// when capture is not running.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	stream := s.stream
	s.stream = nil

	var errs []error
	if err := stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop stream: %w", err))
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream: %w", err))
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("terminate: %w", err))
	}
	slog.Info("portaudio: capture stopped", "duration", time.Since(s.started).Round(time.Millisecond))
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("portaudio: %w", err)
	}
	return nil
}
