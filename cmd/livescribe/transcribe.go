package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livescribe/internal/app"
)

var (
	transcribeOutput string
	transcribeFormat string
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file|url>",
	Short: "Transcribe an audio or video file",
	Long: `Transcribe converts the input with ffmpeg to 16 kHz mono, skips
silent stretches and recognizes the rest window by window. http(s) URLs
are read by ffmpeg directly.`,
	Args: cobra.ExactArgs(1),
	RunE: runTranscribe,
}

func init() {
	transcribeCmd.Flags().StringVarP(&transcribeOutput, "output", "o", "", "output file (.srt or .txt); stdout when empty")
	transcribeCmd.Flags().StringVarP(&transcribeFormat, "format", "f", "srt", "stdout format: srt or txt")
	rootCmd.AddCommand(transcribeCmd)
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.WithoutCapture(), app.WithLevelVar(&levelVar))
	if err != nil {
		return err
	}
	defer a.Shutdown(cmd.Context())

	ctrl := a.Controller()
	events, cancel := ctrl.Listen(64)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(cmd.ErrOrStderr(), events)
	}()

	res, err := ctrl.TranscribeFile(ctx, args[0])
	cancel()
	<-printed
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s of audio, %d windows, %d silent, %d lines\n",
		args[0], res.Duration, res.Windows, res.Silent, len(res.Lines))

	return writeLines(cmd.OutOrStdout(), transcribeOutput, transcribeFormat, res.Lines)
}
