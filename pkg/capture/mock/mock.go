// Package mock provides a scripted [capture.Source] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/capture"
)

var _ capture.Source = (*Source)(nil)

// Source is a capture.Source whose frames are pushed by the test via Emit.
// All exported fields may be set before use.
type Source struct {
	mu sync.Mutex

	// StartErr is returned by Start when non-nil.
	StartErr error

	// StopErr is returned by Stop when non-nil.
	StopErr error

	// NativeFormat is returned by Format. Defaults to 48 kHz stereo.
	NativeFormat audio.Format

	handler   capture.FrameHandler
	recording bool
	calls     map[string]int
}

func (s *Source) record(method string) {
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[method]++
}

// CallCount returns how many times method was invoked.
func (s *Source) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Start implements capture.Source.
func (s *Source) Start(_ context.Context, h capture.FrameHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Start")
	if s.StartErr != nil {
		return s.StartErr
	}
	if s.recording {
		return capture.ErrAlreadyStarted
	}
	s.handler = h
	s.recording = true
	return nil
}

// Stop implements capture.Source.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Stop")
	s.recording = false
	s.handler = nil
	return s.StopErr
}

// IsRecording implements capture.Source.
func (s *Source) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Format implements capture.Source.
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.NativeFormat.SampleRate == 0 {
		return audio.Format{SampleRate: 48000, Channels: 2}
	}
	return s.NativeFormat
}

// Emit delivers frame to the registered handler synchronously, as a capture
// callback would. It reports false when the source is not recording.
func (s *Source) Emit(frame audio.AudioFrame) bool {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return false
	}
	h(frame)
	return true
}

// EmitPCM wraps pcm in a frame of the source's native format and emits it.
func (s *Source) EmitPCM(pcm []byte) bool {
	f := s.Format()
	return s.Emit(audio.AudioFrame{
		Data:          pcm,
		SampleRate:    f.SampleRate,
		Channels:      f.Channels,
		BitsPerSample: audio.BitDepth,
	})
}
