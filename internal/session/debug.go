package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrWong99/livescribe/internal/buffer"
	"github.com/MrWong99/livescribe/pkg/audio"
)

// DebugPaths returns the raw and conditioned WAV paths for session id.
func DebugPaths(dir, id string) (raw, processed string) {
	return filepath.Join(dir, id+"-raw.wav"), filepath.Join(dir, id+"-processed.wav")
}

// writeDebugWAVs saves both sequences of snap when a debug directory is
// configured. Empty sequences are skipped.
func (c *Controller) writeDebugWAVs(id string, snap buffer.Snapshot) error {
	if c.debugDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.debugDir, 0o755); err != nil {
		return fmt.Errorf("session: debug dir: %w", err)
	}
	rawPath, processedPath := DebugPaths(c.debugDir, id)

	var errs []error
	if len(snap.Raw) > 0 {
		if err := audio.WriteWAVFile(rawPath, snap.Raw, snap.RawFormat); err != nil {
			errs = append(errs, fmt.Errorf("session: write raw wav: %w", err))
		}
	}
	if len(snap.Processed) > 0 {
		if err := audio.WriteWAVFile(processedPath, snap.Processed, audio.Conditioned); err != nil {
			errs = append(errs, fmt.Errorf("session: write processed wav: %w", err))
		}
	}
	return errors.Join(errs...)
}
