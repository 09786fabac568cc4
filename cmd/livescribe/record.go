package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livescribe/internal/app"
)

var (
	recordOutput string
	recordFormat string
	recordLive   bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record from the capture source until Ctrl+C and export the transcript",
	Long: `Record captures audio from the configured capture source. With --live
the transcript is shown while speaking; otherwise the recording is
transcribed in one pass after Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "", "output file (.srt or .txt); stdout when empty")
	recordCmd.Flags().StringVarP(&recordFormat, "format", "f", "srt", "stdout format: srt or txt")
	recordCmd.Flags().BoolVar(&recordLive, "live", false, "override session.live")
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, _ []string) error {
	if cmd.Flags().Changed("live") {
		cfg.Session.Live = recordLive
	}

	a, err := app.New(cmd.Context(), cfg, app.WithLevelVar(&levelVar))
	if err != nil {
		return err
	}
	defer a.Shutdown(context.Background())

	ctrl := a.Controller()
	events, cancel := ctrl.Listen(64)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(cmd.ErrOrStderr(), events)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, err := ctrl.StartRecording(ctx)
	if err != nil {
		cancel()
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "recording session %s, press Ctrl+C to stop\n", id)
	<-ctx.Done()

	if err := ctrl.StopRecording(context.Background()); err != nil {
		cancel()
		return err
	}
	ctrl.Wait()
	cancel()
	<-printed

	return writeLines(cmd.OutOrStdout(), recordOutput, recordFormat, ctrl.Lines())
}
