// Package subtitle materializes transcript segments as numbered subtitle
// lines and writes them as SRT or plain text.
package subtitle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// ErrEmpty is returned when exporting a transcript without lines.
var ErrEmpty = errors.New("subtitle: nothing to export")

// Format selects an export serialization.
type Format string

const (
	FormatSRT  Format = "srt"
	FormatText Format = "txt"
)

// ParseFormat maps a file extension or format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "srt", "":
		return FormatSRT, nil
	case "txt", "text":
		return FormatText, nil
	default:
		return "", fmt.Errorf("subtitle: unknown format %q", s)
	}
}

// Line is one numbered subtitle cue. Index starts at 1.
type Line struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string

	// Confidence is the recognizer's mean token probability, 0 if unknown.
	Confidence float64
}

// FromSegments numbers segments in the order given, trimming text and
// skipping blank segments.
func FromSegments(segs []stt.Segment) []Line {
	lines := make([]Line, 0, len(segs))
	for _, s := range segs {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		lines = append(lines, Line{
			Index: len(lines) + 1,
			Start: s.Start,
			End:   s.End,
			Text:  text,

			Confidence: s.Probability,
		})
	}
	return lines
}

// Timestamp formats d as HH:MM:SS,mmm. Negative durations clamp to zero.
func Timestamp(d time.Duration) string {
	d = max(d, 0)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, d/time.Millisecond)
}

// WriteSRT writes lines in SubRip format.
func WriteSRT(w io.Writer, lines []Line) error {
	if len(lines) == 0 {
		return ErrEmpty
	}
	bw := bufio.NewWriter(w)
	for i, l := range lines {
		if i > 0 {
			bw.WriteString("\n")
		}
		fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n", l.Index, Timestamp(l.Start), Timestamp(l.End), l.Text)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("subtitle: write srt: %w", err)
	}
	return nil
}

// WriteText writes one line of text per cue.
func WriteText(w io.Writer, lines []Line) error {
	if len(lines) == 0 {
		return ErrEmpty
	}
	bw := bufio.NewWriter(w)
	for _, l := range lines {
		bw.WriteString(l.Text)
		bw.WriteString("\n")
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("subtitle: write text: %w", err)
	}
	return nil
}

// Write serializes lines in format f.
func Write(w io.Writer, f Format, lines []Line) error {
	switch f {
	case FormatSRT:
		return WriteSRT(w, lines)
	case FormatText:
		return WriteText(w, lines)
	default:
		return fmt.Errorf("subtitle: unknown format %q", f)
	}
}

// WriteFile exports lines to path, choosing the format from its extension.
// Nothing is created when lines is empty.
func WriteFile(path string, lines []Line) error {
	if len(lines) == 0 {
		return ErrEmpty
	}
	f, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("subtitle: create dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("subtitle: create %s: %w", path, err)
	}
	if err := Write(out, f, lines); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("subtitle: close %s: %w", path, err)
	}
	return nil
}
