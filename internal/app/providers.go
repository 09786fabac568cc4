package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/pkg/capture"
	"github.com/MrWong99/livescribe/pkg/capture/discord"
	"github.com/MrWong99/livescribe/pkg/capture/portaudio"
	"github.com/MrWong99/livescribe/pkg/provider/llm"
	"github.com/MrWong99/livescribe/pkg/provider/llm/anyllm"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
	"github.com/MrWong99/livescribe/pkg/provider/stt/deepgram"
	"github.com/MrWong99/livescribe/pkg/provider/stt/openai"
	"github.com/MrWong99/livescribe/pkg/provider/stt/whisper"
)

// RegisterBuiltins wires every provider that ships with livescribe into
// reg. Windowed recognizer factories read "stream_window" and
// "stream_step" durations from their options; zero keeps the recognizer
// default. deepgram streams natively and reads "keywords" instead.
func RegisterBuiltins(reg *config.Registry) {
	// ── Recognizers ───────────────────────────────────────────────────────────

	reg.RegisterRecognizer("whisper", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		window, step := streamOptions(entry)
		return whisper.New(entry.BaseURL, whisper.WithStream(window, step))
	})

	reg.RegisterRecognizer("whisper-native", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		window, step := streamOptions(entry)
		opts := []whisper.NativeOption{whisper.WithNativeStream(window, step)}
		if n := entry.IntOption("threads", 0); n > 0 {
			opts = append(opts, whisper.WithThreads(n))
		}
		return whisper.NewNative(opts...), nil
	})

	reg.RegisterRecognizer("openai", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		window, step := streamOptions(entry)
		opts := []openai.Option{openai.WithStream(window, step)}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.StringOption("organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d := entry.DurationOption("timeout", 0); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(entry.APIKey, opts...)
	})

	reg.RegisterRecognizer("deepgram", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []deepgram.Option
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		if kws := entry.StringsOption("keywords"); len(kws) > 0 {
			opts = append(opts, deepgram.WithKeywords(kws...))
		}
		if d := entry.DurationOption("timeout", 0); d > 0 {
			opts = append(opts, deepgram.WithHTTPClient(&http.Client{Timeout: d}))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterSource("portaudio", func(entry config.ProviderEntry) (capture.Source, error) {
		var opts []portaudio.Option
		if v := entry.IntOption("sample_rate", 0); v > 0 {
			opts = append(opts, portaudio.WithSampleRate(v))
		}
		if v := entry.IntOption("channels", 0); v > 0 {
			opts = append(opts, portaudio.WithChannels(v))
		}
		if v := entry.IntOption("frames_per_buffer", 0); v > 0 {
			opts = append(opts, portaudio.WithFramesPerBuffer(v))
		}
		if dev := entry.StringOption("device"); dev != "" {
			opts = append(opts, portaudio.WithDevice(dev))
		}
		return portaudio.New(opts...), nil
	})

	reg.RegisterSource("discord", func(entry config.ProviderEntry) (capture.Source, error) {
		var opts []discord.Option
		if user := entry.StringOption("user_id"); user != "" {
			opts = append(opts, discord.WithUser(user))
		}
		return discord.New(
			entry.StringOption("token"),
			entry.StringOption("guild_id"),
			entry.StringOption("channel_id"),
			opts...,
		)
	})

	// ── Polish LLMs ───────────────────────────────────────────────────────────
	// All any-llm backends share the same shape: optional APIKey and
	// optional BaseURL. ollama is local and never needs a key.
	for _, providerName := range config.KnownProviders["polish"] {
		reg.RegisterPolisher(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" && providerName != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, fmt.Errorf("polish %q: %w", providerName, err)
			}
			return p, nil
		})
	}

	slog.Debug("registered providers",
		"recognizers", reg.Recognizers(),
		"sources", reg.Sources(),
	)
}

func streamOptions(entry config.ProviderEntry) (window, step time.Duration) {
	return entry.DurationOption("stream_window", 0), entry.DurationOption("stream_step", 0)
}
