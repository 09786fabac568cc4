package audio_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

// ramp returns n samples sweeping across most of the int16 range.
func ramp(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16((i*7919)%65536 - 32768)
	}
	return out
}

func TestDownmix_Stereo(t *testing.T) {
	t.Parallel()

	stereo := samplesToBytes([]int16{100, 200, -100, -201, 32767, 32767, -32768, -32768, 3, -4})
	mono, err := audio.Downmix(stereo, 2)
	if err != nil {
		t.Fatalf("Downmix: %v", err)
	}
	got := bytesToSamples(mono)
	// Truncating division: -301/2 = -150, -1/2 = 0.
	want := []int16{150, -150, 32767, -32768, 0}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmix_AverageLaw(t *testing.T) {
	t.Parallel()

	in := ramp(2000)
	mono, err := audio.Downmix(samplesToBytes(in), 2)
	if err != nil {
		t.Fatalf("Downmix: %v", err)
	}
	got := bytesToSamples(mono)
	if len(got) != len(in)/2 {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(in)/2)
	}
	for i := range got {
		want := int16((int32(in[2*i]) + int32(in[2*i+1])) / 2)
		if got[i] != want {
			t.Fatalf("sample %d: got %d, want %d", i, got[i], want)
		}
	}
}

func TestDownmix_MonoCopies(t *testing.T) {
	t.Parallel()

	in := samplesToBytes([]int16{1, 2, 3})
	out, err := audio.Downmix(in, 1)
	if err != nil {
		t.Fatalf("Downmix: %v", err)
	}
	out[0] = 99
	if in[0] == 99 {
		t.Error("Downmix returned the input slice for mono, want a copy")
	}
}

func TestDownmix_Misaligned(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name     string
		bytes    int
		channels int
	}{
		{"odd byte count mono", 5, 1},
		{"half stereo frame", 6, 2},
		{"partial 4ch frame", 12, 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := audio.Downmix(make([]byte, tc.bytes), tc.channels)
			if !errors.Is(err, audio.ErrMisaligned) {
				t.Errorf("err = %v, want ErrMisaligned", err)
			}
		})
	}
}

func TestResample_LengthLaw(t *testing.T) {
	t.Parallel()

	rates := []int{8000, 11025, 16000, 22050, 44100, 48000}
	for _, n := range []int{0, 1, 2, 3, 441, 960, 4801} {
		pcm := samplesToBytes(ramp(n))
		for _, sr := range rates {
			for _, tr := range rates {
				out := audio.Resample(pcm, sr, tr)
				want := n * tr / sr
				if got := len(out) / 2; got != want {
					t.Errorf("n=%d %d->%d: got %d samples, want %d", n, sr, tr, got, want)
				}
			}
		}
	}
}

func TestResample_Identity(t *testing.T) {
	t.Parallel()

	in := ramp(4096)
	in = append(in, 32767, -32768, 0, -1, 1)
	pcm := samplesToBytes(in)
	for _, r := range []int{8000, 16000, 44100, 48000} {
		got := bytesToSamples(audio.Resample(pcm, r, r))
		if len(got) != len(in) {
			t.Fatalf("rate %d: length mismatch: got %d, want %d", r, len(got), len(in))
		}
		for i := range in {
			if got[i] != in[i] {
				t.Fatalf("rate %d sample %d: got %d, want %d", r, i, got[i], in[i])
			}
		}
	}
}

func TestResample_Downsample(t *testing.T) {
	t.Parallel()

	// 48k -> 16k picks every third sample exactly (fractional part is zero).
	in := []int16{0, 100, 200, 300, 400, 500, 600, 700, 800}
	got := bytesToSamples(audio.Resample(samplesToBytes(in), 48000, 16000))
	want := []int16{0, 300, 600}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResample_UpsampleInterpolates(t *testing.T) {
	t.Parallel()

	// 8k -> 16k inserts midpoints; the final position clamps to the last sample.
	in := []int16{0, 1024, 2048}
	got := bytesToSamples(audio.Resample(samplesToBytes(in), 8000, 16000))
	want := []int16{0, 512, 1024, 1536, 2048, 2048}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResample_Deterministic(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes(ramp(3000))
	a := audio.Resample(pcm, 44100, 16000)
	b := audio.Resample(pcm, 44100, 16000)
	if string(a) != string(b) {
		t.Error("two runs over the same input differ")
	}
}

func TestResample_InvalidRates(t *testing.T) {
	t.Parallel()

	if out := audio.Resample(samplesToBytes([]int16{1, 2}), 0, 16000); out != nil {
		t.Errorf("got %v, want nil for zero source rate", out)
	}
}

func TestConditioner_StereoToTarget(t *testing.T) {
	t.Parallel()

	// 48 kHz stereo, 30 frames -> 10 mono samples at 16 kHz.
	in := make([]int16, 60)
	for i := range 30 {
		in[2*i] = int16(i * 10)
		in[2*i+1] = int16(i * 30)
	}
	var c audio.Conditioner
	out, err := c.Condition(audio.AudioFrame{
		Data:          samplesToBytes(in),
		SampleRate:    48000,
		Channels:      2,
		BitsPerSample: 16,
	})
	if err != nil {
		t.Fatalf("Condition: %v", err)
	}
	got := bytesToSamples(out)
	if len(got) != 10 {
		t.Fatalf("length mismatch: got %d, want 10", len(got))
	}
	for i, s := range got {
		// Downmix frame 3i: (30i + 90i)/2 = 60i.
		if want := int16(60 * i); s != want {
			t.Errorf("sample %d: got %d, want %d", i, s, want)
		}
	}
}

func TestConditioner_PassThrough(t *testing.T) {
	t.Parallel()

	in := samplesToBytes(ramp(320))
	var c audio.Conditioner
	out, err := c.Condition(audio.AudioFrame{Data: in, SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("Condition: %v", err)
	}
	if string(out) != string(in) {
		t.Error("16 kHz mono input was altered")
	}
}

func TestConditioner_MisalignedDropped(t *testing.T) {
	t.Parallel()

	var reasons []string
	c := audio.Conditioner{OnDrop: func(r string) { reasons = append(reasons, r) }}
	for range 3 {
		_, err := c.Condition(audio.AudioFrame{Data: make([]byte, 7), SampleRate: 48000, Channels: 2})
		if !errors.Is(err, audio.ErrMisaligned) {
			t.Fatalf("err = %v, want ErrMisaligned", err)
		}
	}
	if got := c.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
	if len(reasons) != 3 || reasons[0] != "misaligned" {
		t.Errorf("drop reasons = %v, want 3x misaligned", reasons)
	}
}

func TestConditioner_RejectsOtherBitDepths(t *testing.T) {
	t.Parallel()

	var c audio.Conditioner
	_, err := c.Condition(audio.AudioFrame{Data: make([]byte, 6), SampleRate: 16000, Channels: 1, BitsPerSample: 24})
	if !errors.Is(err, audio.ErrUnsupportedDepth) {
		t.Errorf("err = %v, want ErrUnsupportedDepth", err)
	}
}

func TestFormat_Duration(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 48000, Channels: 2}
	if got := f.Duration(48000 * 4); got.Seconds() != 1 {
		t.Errorf("Duration = %v, want 1s", got)
	}
	if got := f.String(); got != "48000Hz stereo" {
		t.Errorf("String() = %q", got)
	}
}
