// Package audio defines the frame and format types shared by capture
// sources and recognizers, and the signal conditioning that turns any
// captured PCM into the 16 kHz mono stream recognizers consume.
package audio

import "time"

// Recognizer-facing stream format. Every conditioned frame is 16-bit mono
// PCM at this rate.
const (
	TargetSampleRate = 16000
	TargetChannels   = 1
	BitDepth         = 16

	bytesPerSample = BitDepth / 8
)

// AudioFrame is the payload of one capture callback. Ownership passes from
// the capture source to the conditioner; frames are not mutated after
// creation.
type AudioFrame struct {
	// Data is little-endian signed PCM, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for a Discord voice stream, 44100 for
	// most microphones).
	SampleRate int

	// Channels is the interleaved channel count.
	Channels int

	// BitsPerSample is always 16 in this system. Zero is treated as 16.
	BitsPerSample int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Format returns the frame's sample rate and channel count.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration returns the playback length of the frame's payload.
func (f AudioFrame) Duration() time.Duration {
	return f.Format().Duration(len(f.Data))
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Conditioned is the canonical recognizer input format.
var Conditioned = Format{SampleRate: TargetSampleRate, Channels: TargetChannels}

// FrameSize returns the byte length of one interleaved sample frame.
func (f Format) FrameSize() int {
	return f.Channels * bytesPerSample
}

// Duration returns the playback length of n bytes of 16-bit PCM in this format.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := int64(n / f.FrameSize())
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}
