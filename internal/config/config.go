// Package config provides the configuration schema, loader, provider
// registry and file watcher for livescribe.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StoreDriver selects the session store backend.
type StoreDriver string

const (
	StoreNone     StoreDriver = ""
	StorePostgres StoreDriver = "postgres"
	StoreSQLite   StoreDriver = "sqlite"
)

// IsValid reports whether d is a recognised driver.
func (d StoreDriver) IsValid() bool {
	switch d {
	case StoreNone, StorePostgres, StoreSQLite:
		return true
	}
	return false
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr         = ":8080"
	DefaultLanguage           = "auto"
	DefaultQueueSize          = 64
	DefaultWindowSeconds      = 30
	DefaultSilenceThresholdDB = -40.0
	DefaultPhoneticThreshold  = 0.70
)

// Config is the root configuration, typically loaded with [Load] or
// [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Capture    ProviderEntry    `yaml:"capture"`
	Session    SessionConfig    `yaml:"session"`
	Transcode  TranscodeConfig  `yaml:"transcode"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Store      StoreConfig      `yaml:"store"`
	Observe    ObserveConfig    `yaml:"observe"`
	Bot        BotConfig        `yaml:"bot"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP API (e.g. ":8080").
	ListenAddr string   `yaml:"listen_addr"`
	LogLevel   LogLevel `yaml:"log_level"`
}

// ProviderEntry is the common block for every pluggable backend. Name
// selects the factory in the [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider. For whisper-native it is
	// the path of the ggml model file.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// IsZero reports whether no provider was configured.
func (e ProviderEntry) IsZero() bool { return e.Name == "" }

// RecognizerConfig configures speech recognition.
type RecognizerConfig struct {
	ProviderEntry `yaml:",inline"`

	// Language is "auto" or an ISO 639-1 code.
	Language string `yaml:"language"`

	// Threads is the native inference thread count. 0 uses min(8, NumCPU).
	Threads int `yaml:"threads"`

	// Fallback is tried when the primary backend fails.
	Fallback *ProviderEntry `yaml:"fallback"`
}

// SessionConfig tunes the session controller.
type SessionConfig struct {
	// Live enables live reconciliation while recording; otherwise the
	// recording is transcribed in one batch on stop.
	Live bool `yaml:"live"`

	// DebugDir, when set, receives raw and processed WAVs of every session.
	DebugDir string `yaml:"debug_dir"`

	QueueSize          int     `yaml:"queue_size"`
	WindowSeconds      int     `yaml:"window_seconds"`
	SilenceThresholdDB float64 `yaml:"silence_threshold_db"`
}

// TranscodeConfig locates ffmpeg.
type TranscodeConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
	WorkDir    string `yaml:"work_dir"`
}

// TranscriptConfig configures post-processing of finished transcripts.
type TranscriptConfig struct {
	// Vocabulary lists names and jargon misheard words are corrected to.
	// It is hot-reloaded by the [Watcher].
	Vocabulary []string `yaml:"vocabulary"`

	PhoneticThreshold float64 `yaml:"phonetic_threshold"`

	// Polish is an optional LLM used for a second correction pass.
	Polish *ProviderEntry `yaml:"polish"`
}

// StoreConfig selects where finished sessions are persisted.
type StoreConfig struct {
	Driver StoreDriver `yaml:"driver"`

	// DSN is a PostgreSQL connection string or an SQLite file path.
	DSN string `yaml:"dsn"`
}

// ObserveConfig toggles telemetry.
type ObserveConfig struct {
	// Metrics installs the Prometheus exporter and serves /metrics.
	Metrics bool `yaml:"metrics"`
}

// BotConfig enables the Discord slash command control surface.
type BotConfig struct {
	// Token is the Discord bot token. An empty token disables the bot.
	Token   string `yaml:"token"`
	GuildID string `yaml:"guild_id"`

	// ControlRoleID restricts /transcribe start and stop to members with
	// this role. Empty allows everyone.
	ControlRoleID string `yaml:"control_role_id"`
}

// Enabled reports whether the bot is configured.
func (b BotConfig) Enabled() bool { return b.Token != "" }

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Recognizer.Language == "" {
		c.Recognizer.Language = DefaultLanguage
	}
	if c.Session.QueueSize == 0 {
		c.Session.QueueSize = DefaultQueueSize
	}
	if c.Session.WindowSeconds == 0 {
		c.Session.WindowSeconds = DefaultWindowSeconds
	}
	if c.Session.SilenceThresholdDB == 0 {
		c.Session.SilenceThresholdDB = DefaultSilenceThresholdDB
	}
	if c.Transcript.PhoneticThreshold == 0 {
		c.Transcript.PhoneticThreshold = DefaultPhoneticThreshold
	}
}

// Option helpers read typed values from ProviderEntry.Options. YAML
// decodes numbers as int or float64, so both are accepted.

// StringOption returns Options[key] as a string.
func (e ProviderEntry) StringOption(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// IntOption returns Options[key] as an int, or def.
func (e ProviderEntry) IntOption(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// StringsOption returns Options[key] as a string list. A single string is
// a one-element list.
func (e ProviderEntry) StringsOption(key string) []string {
	switch v := e.Options[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// DurationOption parses Options[key] with time.ParseDuration, or returns
// def.
func (e ProviderEntry) DurationOption(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(e.StringOption(key)); err == nil {
		return d
	}
	return def
}
