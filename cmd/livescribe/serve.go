package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livescribe/internal/app"
	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/observe"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and the live transcript feed",
	Long: `Serve starts the HTTP API on server.listen_addr. Recording is
controlled with POST /api/session/start and /api/session/stop; live text is
pushed to WebSocket clients on /ws. The config file is watched and the
log level and transcript vocabulary are applied without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The OTel provider must exist before the app creates its metrics.
	if cfg.Observe.Metrics {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Warn("telemetry shutdown", "error", err)
			}
		}()
	}

	a, err := app.New(ctx, cfg, app.WithLevelVar(&levelVar))
	if err != nil {
		return err
	}

	if cfgFromFile {
		w, err := config.NewWatcher(cfgFile, a.ApplyConfig)
		if err != nil {
			slog.Warn("config watcher disabled", "error", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("livescribe serving", "version", version, "listen_addr", cfg.Server.ListenAddr)
	runErr := a.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("shutting down")
	if err := a.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
