package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
)

// ErrMisaligned is returned when a PCM payload is not a whole number of
// sample frames for its declared channel count.
var ErrMisaligned = errors.New("audio: misaligned pcm buffer")

// ErrUnsupportedDepth is returned for any bit depth other than 16.
var ErrUnsupportedDepth = errors.New("audio: unsupported bit depth")

// Conditioner turns captured frames into conditioned 16 kHz mono PCM. It
// logs a warning on the first misaligned frame and on the first format
// mismatch; later occurrences are logged at debug level and counted.
//
// A Conditioner is safe for concurrent use.
type Conditioner struct {
	// OnDrop, when set, is called once per dropped frame with the reason.
	OnDrop func(reason string)

	warnedMismatch  sync.Once
	warnedMisalign  sync.Once
	misalignedCount atomic.Int64
}

// Dropped returns the number of frames dropped as misaligned so far.
func (c *Conditioner) Dropped() int64 {
	return c.misalignedCount.Load()
}

// Condition returns the conditioned payload for frame: downmixed to mono
// first, then resampled to [TargetSampleRate]. A misaligned frame yields
// [ErrMisaligned] and must be dropped by the caller.
func (c *Conditioner) Condition(frame AudioFrame) ([]byte, error) {
	if frame.BitsPerSample != 0 && frame.BitsPerSample != BitDepth {
		c.drop("bit_depth")
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedDepth, frame.BitsPerSample)
	}
	channels := max(frame.Channels, 1)

	pcm, err := Downmix(frame.Data, channels)
	if err != nil {
		n := c.misalignedCount.Add(1)
		c.warnedMisalign.Do(func() {
			slog.Warn("audio conditioner: misaligned frame, dropping",
				"bytes", len(frame.Data),
				"channels", channels,
			)
		})
		slog.Debug("audio conditioner: dropped misaligned frame", "bytes", len(frame.Data), "total", n)
		c.drop("misaligned")
		return nil, err
	}

	if frame.SampleRate != TargetSampleRate || channels != TargetChannels {
		c.warnedMismatch.Do(func() {
			slog.Info("audio conditioner: converting source format",
				"from", formatString(frame.SampleRate, channels),
				"to", Conditioned.String(),
			)
		})
	}
	if frame.SampleRate != TargetSampleRate {
		pcm = Resample(pcm, frame.SampleRate, TargetSampleRate)
	}
	return pcm, nil
}

func (c *Conditioner) drop(reason string) {
	if c.OnDrop != nil {
		c.OnDrop(reason)
	}
}

// Downmix averages interleaved 16-bit channels into mono. For stereo each
// output sample is (left+right)/2 with truncating integer division. Mono
// input is returned as a copy. The input length must be a multiple of
// channels*2 bytes, otherwise [ErrMisaligned] is returned.
func Downmix(pcm []byte, channels int) ([]byte, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("audio: downmix: invalid channel count %d", channels)
	}
	frameSize := channels * bytesPerSample
	if len(pcm)%frameSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMisaligned, len(pcm), frameSize)
	}
	if channels == 1 {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out, nil
	}

	frames := len(pcm) / frameSize
	out := make([]byte, frames*bytesPerSample)
	for i := range frames {
		var sum int32
		base := i * frameSize
		for ch := range channels {
			off := base + ch*bytesPerSample
			sum += int32(int16(pcm[off]) | int16(pcm[off+1])<<8)
		}
		// Go integer division truncates toward zero; the average of int16
		// values always fits in int16.
		avg := int16(sum / int32(channels))
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out, nil
}

// Resample converts 16-bit mono PCM from srcRate to dstRate by linear
// interpolation without an anti-aliasing filter. The output holds
// floor(n*dstRate/srcRate) samples where n is the input sample count. For
// output index i the source position is i*srcRate/dstRate; positions whose
// right neighbour would overrun the input use the last sample. Equal rates
// reproduce the input exactly.
//
// Index arithmetic is integral so results are reproducible across
// platforms. Non-positive rates return nil.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return nil
	}
	n := len(pcm) / bytesPerSample
	outLen := int(int64(n) * int64(dstRate) / int64(srcRate))
	out := make([]byte, outLen*bytesPerSample)
	if outLen == 0 {
		return out
	}

	src := PCMToFloat64(pcm)
	for i := range outLen {
		pos := int64(i) * int64(srcRate)
		idx := int(pos / int64(dstRate))
		frac := float64(pos%int64(dstRate)) / float64(dstRate)

		var v float64
		if idx+1 >= n {
			v = src[n-1]
		} else {
			v = src[idx]*(1-frac) + src[idx+1]*frac
		}
		s := floatToSample(v)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// floatToSample maps a normalised sample back to int16, truncating toward
// zero and clamping to [-32768, 32767].
func floatToSample(v float64) int16 {
	s := math.Trunc(v * 32768)
	if s > math.MaxInt16 {
		return math.MaxInt16
	}
	if s < math.MinInt16 {
		return math.MinInt16
	}
	return int16(s)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
