package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/session"
	"github.com/MrWong99/livescribe/internal/subtitle"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile     string
	logLevel    string
	cfg         *config.Config
	cfgFromFile bool
	levelVar    slog.LevelVar
)

var rootCmd = &cobra.Command{
	Use:   "livescribe",
	Short: "Live and batch speech transcription",
	Long: `livescribe captures audio from a microphone or a Discord voice channel,
transcribes it with whisper.cpp or a hosted recognizer and exports the
transcript as SRT subtitles or plain text.

Commands:
  serve       HTTP API with a WebSocket live transcript feed
  record      record from the configured capture source until Ctrl+C
  transcribe  transcribe an audio or video file or URL
  export      export a stored session`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")
}

// loadConfig loads the config file and installs the logger. A missing
// default config file falls back to the built-in defaults.
func loadConfig(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	switch {
	case err == nil:
		cfgFromFile = true
	case errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config"):
		cfg, err = config.LoadFromReader(strings.NewReader(""))
		if err != nil {
			return err
		}
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("config file %q not found; see configs/example.yaml", cfgFile)
	default:
		return err
	}

	if logLevel != "" {
		lvl := config.LogLevel(logLevel)
		if !lvl.IsValid() {
			return fmt.Errorf("--log-level %q is invalid; valid values: debug, info, warn, error", logLevel)
		}
		cfg.Server.LogLevel = lvl
	}
	levelVar.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &levelVar})))

	if !cfgFromFile {
		slog.Warn("no config file found, using defaults", "path", cfgFile)
	}
	slog.Debug("configuration loaded", "path", cfgFile, "recognizer", cfg.Recognizer.Name, "capture", cfg.Capture.Name)
	return nil
}

// writeLines exports lines to output, or to w when output is empty or
// "-". format only applies to w; files use their extension.
func writeLines(w io.Writer, output, format string, lines []subtitle.Line) error {
	if output != "" && output != "-" {
		if err := subtitle.WriteFile(output, lines); err != nil {
			return err
		}
		slog.Info("transcript written", "path", output, "lines", len(lines))
		return nil
	}
	f, err := subtitle.ParseFormat(format)
	if err != nil {
		return err
	}
	return subtitle.Write(w, f, lines)
}

// printEvents reports session events on w until events is closed.
func printEvents(w io.Writer, events <-chan session.Event) {
	for e := range events {
		switch e.Type {
		case session.EventLive:
			fmt.Fprintf(w, "> %s\n", e.Live)
		case session.EventProgress:
			fmt.Fprintf(w, "progress: %d%%\n", e.Progress)
		case session.EventError:
			fmt.Fprintf(w, "error: %s\n", e.Error)
		}
	}
}
