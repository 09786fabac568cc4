package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only the log
// level and the vocabulary are applied at runtime; every other changed
// section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VocabularyChanged bool
	Vocabulary        []string

	// RestartRequired names the top-level sections whose change only takes
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VocabularyChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !slices.Equal(old.Transcript.Vocabulary, new.Transcript.Vocabulary) {
		d.VocabularyChanged = true
		d.Vocabulary = slices.Clone(new.Transcript.Vocabulary)
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	sections := []struct {
		name     string
		old, new any
	}{
		{"recognizer", old.Recognizer, new.Recognizer},
		{"capture", old.Capture, new.Capture},
		{"session", old.Session, new.Session},
		{"transcode", old.Transcode, new.Transcode},
		{"transcript.polish", old.Transcript.Polish, new.Transcript.Polish},
		{"transcript.phonetic_threshold", old.Transcript.PhoneticThreshold, new.Transcript.PhoneticThreshold},
		{"store", old.Store, new.Store},
		{"observe", old.Observe, new.Observe},
		{"bot", old.Bot, new.Bot},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
