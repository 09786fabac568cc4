package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// KnownProviders lists the built-in provider names per kind. [Validate]
// warns about names outside this list; third-party factories may still
// register them.
var KnownProviders = map[string][]string{
	"recognizer": {"whisper", "whisper-native", "openai", "deepgram"},
	"capture":    {"portaudio", "discord"},
	"polish":     {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads, defaults and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, applies defaults and validates. An
// empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate returns every problem in cfg joined into one error.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	warnUnknown("recognizer", cfg.Recognizer.Name)
	if fb := cfg.Recognizer.Fallback; fb != nil {
		if fb.Name == "" {
			errs = append(errs, errors.New("recognizer.fallback.name is required"))
		}
		warnUnknown("recognizer", fb.Name)
	}
	if cfg.Recognizer.Threads < 0 {
		errs = append(errs, fmt.Errorf("recognizer.threads %d must not be negative", cfg.Recognizer.Threads))
	}
	if l := cfg.Recognizer.Language; l != DefaultLanguage && len(l) != 2 {
		errs = append(errs, fmt.Errorf("recognizer.language %q must be %q or a two-letter ISO 639-1 code", l, DefaultLanguage))
	}

	warnUnknown("capture", cfg.Capture.Name)
	if cfg.Capture.Name == "discord" {
		for _, key := range []string{"token", "guild_id", "channel_id"} {
			// The capture shares the bot's gateway session when one is configured.
			if key == "token" && cfg.Bot.Enabled() {
				continue
			}
			if cfg.Capture.StringOption(key) == "" {
				errs = append(errs, fmt.Errorf("capture.options.%s is required for discord", key))
			}
		}
	}

	if cfg.Session.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("session.queue_size %d must not be negative", cfg.Session.QueueSize))
	}
	if cfg.Session.WindowSeconds < 1 {
		errs = append(errs, fmt.Errorf("session.window_seconds %d must be at least 1", cfg.Session.WindowSeconds))
	}
	if db := cfg.Session.SilenceThresholdDB; db >= 0 {
		errs = append(errs, fmt.Errorf("session.silence_threshold_db %.1f must be negative", db))
	}

	if th := cfg.Transcript.PhoneticThreshold; th <= 0 || th > 1 {
		errs = append(errs, fmt.Errorf("transcript.phonetic_threshold %.2f is out of range (0, 1]", th))
	}
	for i, term := range cfg.Transcript.Vocabulary {
		if strings.TrimSpace(term) == "" {
			errs = append(errs, fmt.Errorf("transcript.vocabulary[%d] is blank", i))
		}
	}
	if p := cfg.Transcript.Polish; p != nil {
		warnUnknown("polish", p.Name)
		if p.Model == "" {
			errs = append(errs, errors.New("transcript.polish.model is required"))
		}
		if len(cfg.Transcript.Vocabulary) == 0 {
			slog.Warn("transcript.polish is configured without a vocabulary; it will never run")
		}
	}

	if !cfg.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: postgres, sqlite", cfg.Store.Driver))
	} else if cfg.Store.Driver != StoreNone && cfg.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", cfg.Store.Driver))
	}

	if cfg.Bot.Enabled() && cfg.Bot.GuildID == "" {
		errs = append(errs, errors.New("bot.guild_id is required when bot.token is set"))
	}

	return errors.Join(errs...)
}

func warnUnknown(kind, name string) {
	if name == "" || slices.Contains(KnownProviders[kind], name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", KnownProviders[kind],
	)
}
