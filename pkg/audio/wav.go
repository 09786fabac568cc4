package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVHeaderSize is the length of the canonical RIFF/WAVE header written by
// [EncodeWAV].
const WAVHeaderSize = 44

// ErrInvalidWAV is returned when a stream is not a decodable PCM WAV file.
var ErrInvalidWAV = errors.New("audio: invalid wav stream")

// EncodeWAV wraps 16-bit PCM in a canonical 44-byte RIFF/WAVE header:
// chunk IDs RIFF, WAVE, "fmt ", data; fmt chunk size 16; format tag 1;
// RIFF size 36 + len(pcm).
func EncodeWAV(pcm []byte, f Format) []byte {
	byteRate := f.SampleRate * f.Channels * bytesPerSample
	blockAlign := f.Channels * bytesPerSample
	dataSize := len(pcm)

	buf := make([]byte, WAVHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], BitDepth)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[WAVHeaderSize:], pcm)

	return buf
}

// WriteWAVFile writes pcm as a canonical WAV file at path, creating parent
// directories as needed.
func WriteWAVFile(path string, pcm []byte, f Format) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("audio: create wav dir: %w", err)
	}
	if err := os.WriteFile(path, EncodeWAV(pcm, f), 0o644); err != nil {
		return fmt.Errorf("audio: write wav %q: %w", path, err)
	}
	return nil
}

// DecodeWAV reads a PCM WAV stream and returns its sample data as 16-bit
// little-endian PCM together with its format. 8, 24 and 32-bit integer
// sources are rescaled to 16 bits.
func DecodeWAV(r io.ReadSeeker) ([]byte, Format, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, Format{}, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: decode wav: %w", err)
	}

	f := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	return intBufferToPCM(buf, int(dec.BitDepth)), f, nil
}

// DecodeWAVBytes is [DecodeWAV] over an in-memory file.
func DecodeWAVBytes(data []byte) ([]byte, Format, error) {
	return DecodeWAV(bytes.NewReader(data))
}

// ReadWAVFile decodes the WAV file at path.
func ReadWAVFile(path string) ([]byte, Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: open wav %q: %w", path, err)
	}
	defer f.Close()
	return DecodeWAV(f)
}

func intBufferToPCM(buf *goaudio.IntBuffer, bitDepth int) []byte {
	out := make([]byte, len(buf.Data)*bytesPerSample)
	for i, v := range buf.Data {
		switch bitDepth {
		case 8:
			// 8-bit WAV is unsigned.
			v = (v - 128) << 8
		case 24:
			v >>= 8
		case 32:
			v >>= 16
		}
		s := int16(max(min(v, 32767), -32768))
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
