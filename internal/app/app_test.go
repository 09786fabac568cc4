package app_test

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/livescribe/internal/app"
	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/resilience"
	"github.com/MrWong99/livescribe/pkg/audio"
	capmock "github.com/MrWong99/livescribe/pkg/capture/mock"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/livescribe/pkg/provider/stt/mock"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server:     config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Recognizer: config.RecognizerConfig{ProviderEntry: config.ProviderEntry{Name: "stub", Model: "base"}},
		Session:    config.SessionConfig{Live: true},
		Transcript: config.TranscriptConfig{Vocabulary: []string{"Eldrinax"}},
	}
	cfg.ApplyDefaults()
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_RecordsAndPersists(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store = config.StoreConfig{Driver: config.StoreSQLite, DSN: ":memory:"}

	rec := &sttmock.Recognizer{
		Initialized:    true,
		StreamSegments: [][]stt.Segment{{{Start: 0, End: time.Second, Text: "elder nacks waves"}}},
	}
	src := &capmock.Source{NativeFormat: audio.Conditioned}
	a := newApp(t, cfg, app.WithRecognizer(rec), app.WithSource(src))

	ctrl := a.Controller()
	id, err := ctrl.StartRecording(context.Background())
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	src.EmitPCM(make([]byte, 640))
	if err := ctrl.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	if a.Store() == nil {
		t.Fatal("sqlite store not opened")
	}
	sess, err := a.Store().Session(context.Background(), id)
	if err != nil {
		t.Fatalf("Session(%q): %v", id, err)
	}
	if len(sess.Lines) != 1 || sess.Lines[0].Text != "Eldrinax waves" {
		t.Errorf("stored lines = %+v, want the corrected line", sess.Lines)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
	}{
		{
			name:    "unknown recognizer",
			mutate:  func(c *config.Config) { c.Recognizer.Name = "bogus" },
			wantErr: config.ErrProviderNotRegistered,
		},
		{
			name:    "unknown capture source",
			mutate:  func(c *config.Config) { c.Recognizer.Name = "whisper-native"; c.Capture.Name = "tape" },
			wantErr: config.ErrProviderNotRegistered,
		},
		{
			name: "unknown polish provider",
			mutate: func(c *config.Config) {
				c.Recognizer.Name = "whisper-native"
				c.Transcript.Polish = &config.ProviderEntry{Name: "oracle"}
			},
			wantErr: config.ErrProviderNotRegistered,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := app.New(context.Background(), cfg, app.WithMetrics(testMetrics(t)))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	cfg := testConfig(t)
	cfg.Recognizer.Name = ""
	if _, err := app.New(context.Background(), cfg, app.WithMetrics(testMetrics(t))); err == nil {
		t.Error("New without a recognizer succeeded")
	}
}

func TestNew_RecognizerFallback(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Recognizer{}
	backup := &sttmock.Recognizer{}
	reg := config.NewRegistry()
	reg.RegisterRecognizer("primary", func(config.ProviderEntry) (stt.Recognizer, error) { return primary, nil })
	reg.RegisterRecognizer("backup", func(config.ProviderEntry) (stt.Recognizer, error) { return backup, nil })

	cfg := testConfig(t)
	cfg.Recognizer.Name = "primary"
	cfg.Recognizer.Language = "de"
	cfg.Recognizer.Fallback = &config.ProviderEntry{Name: "backup", Model: "backup-model"}

	a, err := app.New(context.Background(), cfg, app.WithRegistry(reg), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, ok := a.Controller().Recognizer().(*resilience.Recognizer); !ok {
		t.Fatalf("recognizer = %T, want *resilience.Recognizer", a.Controller().Recognizer())
	}
	if len(backup.InitCalls) != 1 || backup.InitCalls[0].Source.Path != "backup-model" || backup.InitCalls[0].Language != "de" {
		t.Errorf("backup init calls = %+v", backup.InitCalls)
	}
	if len(primary.InitCalls) != 0 {
		t.Errorf("primary initialized eagerly: %+v", primary.InitCalls)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !primary.Closed || !backup.Closed {
		t.Errorf("closed primary/backup = %v/%v", primary.Closed, backup.Closed)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()

	var lv slog.LevelVar
	cfg := testConfig(t)
	a := newApp(t, cfg, app.WithRecognizer(&sttmock.Recognizer{}), app.WithLevelVar(&lv))

	updated := testConfig(t)
	updated.Server.LogLevel = config.LogDebug
	updated.Transcript.Vocabulary = []string{"Eldrinax", "Mordenkai"}
	updated.Session.Live = false
	a.ApplyConfig(cfg, updated)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
	if got := a.Processor().Vocabulary(); !slices.Equal(got, updated.Transcript.Vocabulary) {
		t.Errorf("vocabulary = %v", got)
	}
}

func TestApp_RunStopsRecordingOnCancel(t *testing.T) {
	t.Parallel()

	rec := &sttmock.Recognizer{Initialized: true}
	src := &capmock.Source{NativeFormat: audio.Conditioned}
	a := newApp(t, testConfig(t), app.WithRecognizer(rec), app.WithSource(src))

	if _, err := a.Controller().StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if a.Controller().IsRecording() || src.IsRecording() {
		t.Error("recording still active after Run returned")
	}
}
