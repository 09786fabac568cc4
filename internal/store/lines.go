package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrWong99/livescribe/internal/subtitle"
)

// lineRecord is the serialized form of a subtitle line.
type lineRecord struct {
	Index      int     `json:"index"`
	StartMS    int64   `json:"start_ms"`
	EndMS      int64   `json:"end_ms"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// EncodeLines serializes lines as a JSON array. A nil slice encodes as "[]".
func EncodeLines(lines []subtitle.Line) ([]byte, error) {
	recs := make([]lineRecord, len(lines))
	for i, l := range lines {
		recs[i] = lineRecord{
			Index:      l.Index,
			StartMS:    l.Start.Milliseconds(),
			EndMS:      l.End.Milliseconds(),
			Text:       l.Text,
			Confidence: l.Confidence,
		}
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return nil, fmt.Errorf("store: encode lines: %w", err)
	}
	return b, nil
}

// DecodeLines is the inverse of EncodeLines.
func DecodeLines(data []byte) ([]subtitle.Line, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var recs []lineRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("store: decode lines: %w", err)
	}
	lines := make([]subtitle.Line, len(recs))
	for i, r := range recs {
		lines[i] = subtitle.Line{
			Index:      r.Index,
			Start:      time.Duration(r.StartMS) * time.Millisecond,
			End:        time.Duration(r.EndMS) * time.Millisecond,
			Text:       r.Text,
			Confidence: r.Confidence,
		}
	}
	return lines, nil
}
