// Package app wires all livescribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the recognizer,
// capture source, transcript processor, session store, optional Discord
// bot and session controller from the config; Run serves the HTTP API and
// the slash commands; Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithRecognizer, WithSource, WithStore). When an option is not provided,
// New creates the real implementation named in the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/discord"
	"github.com/MrWong99/livescribe/internal/health"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/resilience"
	"github.com/MrWong99/livescribe/internal/server"
	"github.com/MrWong99/livescribe/internal/session"
	"github.com/MrWong99/livescribe/internal/store"
	"github.com/MrWong99/livescribe/internal/store/postgres"
	"github.com/MrWong99/livescribe/internal/store/sqlite"
	"github.com/MrWong99/livescribe/internal/transcode"
	"github.com/MrWong99/livescribe/internal/transcript"
	"github.com/MrWong99/livescribe/internal/transcript/phonetic"
	"github.com/MrWong99/livescribe/internal/transcript/polish"
	"github.com/MrWong99/livescribe/pkg/capture"
	discordcapture "github.com/MrWong99/livescribe/pkg/capture/discord"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	reg *config.Registry

	rec     stt.Recognizer
	src     capture.Source
	store   store.Store
	proc    *transcript.Processor
	metrics *observe.Metrics
	level   *slog.LevelVar
	ctrl    *session.Controller
	bot     *discord.Bot

	// noCapture skips building the configured capture source.
	noCapture bool

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry replaces the provider registry. Default: a registry with
// [RegisterBuiltins] applied.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.reg = r }
}

// WithRecognizer injects a recognizer instead of creating one from config.
func WithRecognizer(r stt.Recognizer) Option {
	return func(a *App) { a.rec = r }
}

// WithSource injects a capture source instead of creating one from config.
func WithSource(s capture.Source) Option {
	return func(a *App) { a.src = s }
}

// WithoutCapture skips the configured capture source. File transcription
// and export do not need one.
func WithoutCapture() Option {
	return func(a *App) { a.noCapture = true }
}

// WithStore injects a session store instead of opening the configured one.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level of the handler
// that reads lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// New creates an App by wiring all subsystems together. On error every
// subsystem created so far is closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.reg == nil {
		a.reg = config.NewRegistry()
		RegisterBuiltins(a.reg)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			_ = a.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	if err := a.initRecognizer(ctx); err != nil {
		return nil, fmt.Errorf("app: init recognizer: %w", err)
	}
	if err := a.initBot(ctx); err != nil {
		return nil, fmt.Errorf("app: init discord bot: %w", err)
	}
	if err := a.initSource(); err != nil {
		return nil, fmt.Errorf("app: init capture: %w", err)
	}
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initProcessor(); err != nil {
		return nil, fmt.Errorf("app: init transcript processor: %w", err)
	}

	sc := cfg.Session
	sopts := []session.Option{
		session.WithModel(stt.ModelSource{Path: cfg.Recognizer.Model}, cfg.Recognizer.Language),
		session.WithLive(sc.Live),
		session.WithDebugDir(sc.DebugDir),
		session.WithQueueSize(sc.QueueSize),
		session.WithGate(sc.WindowSeconds, sc.SilenceThresholdDB),
		session.WithTranscoder(transcode.New(
			transcode.WithFFmpegPath(cfg.Transcode.FFmpegPath),
			transcode.WithWorkDir(cfg.Transcode.WorkDir),
		)),
		session.WithProcessor(a.proc),
		session.WithMetrics(a.metrics),
	}
	if a.src != nil {
		sopts = append(sopts, session.WithSource(a.src))
	}
	if a.store != nil {
		sopts = append(sopts, session.WithStore(a.store))
	}
	a.ctrl = session.New(a.rec, sopts...)
	if a.bot != nil {
		discord.NewTranscribeCommands(a.bot, a.ctrl)
	}

	slog.Info("app initialised",
		"recognizer", cfg.Recognizer.Name,
		"capture", cfg.Capture.Name,
		"live", sc.Live,
		"store", cfg.Store.Driver,
		"vocabulary", len(cfg.Transcript.Vocabulary),
		"discord_bot", a.bot != nil,
	)
	return a, nil
}

func (a *App) initRecognizer(ctx context.Context) error {
	if a.rec != nil {
		return nil
	}
	rc := a.cfg.Recognizer
	if rc.Name == "" {
		return errors.New("recognizer.name is required")
	}

	entry := rc.ProviderEntry
	if rc.Threads > 0 {
		entry.Options = withOption(entry.Options, "threads", rc.Threads)
	}
	if vocab := a.cfg.Transcript.Vocabulary; len(vocab) > 0 && entry.Options["keywords"] == nil {
		entry.Options = withOption(entry.Options, "keywords", vocab)
	}
	primary, err := a.reg.CreateRecognizer(entry)
	if err != nil {
		return err
	}
	if rc.Fallback == nil {
		a.rec = primary
		a.closers = append(a.closers, primary.Close)
		return nil
	}

	fallback, err := a.reg.CreateRecognizer(*rc.Fallback)
	if err != nil {
		_ = primary.Close()
		return fmt.Errorf("fallback: %w", err)
	}

	// The fallback may use a different model than the primary, so it is
	// loaded up front. A failure leaves it to the shared model load.
	if rc.Fallback.Model != "" {
		src := stt.ModelSource{Path: rc.Fallback.Model}
		if err := fallback.InitModel(ctx, src, rc.Language); err != nil {
			slog.Warn("fallback recognizer model not loaded", "name", rc.Fallback.Name, "error", err)
		}
	}

	group := resilience.NewRecognizer(primary, rc.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "recognizer"},
	})
	group.AddFallback(rc.Fallback.Name, fallback)
	// Closing the group closes both backends.
	a.closers = append(a.closers, group.Close)
	a.rec = group
	slog.Info("recognizer fallback enabled", "primary", rc.Name, "fallback", rc.Fallback.Name)
	return nil
}

func (a *App) initBot(ctx context.Context) error {
	bc := a.cfg.Bot
	if a.noCapture || !bc.Enabled() {
		return nil
	}
	bot, err := discord.New(ctx, discord.Config{
		Token:         bc.Token,
		GuildID:       bc.GuildID,
		ControlRoleID: bc.ControlRoleID,
	})
	if err != nil {
		return err
	}
	a.bot = bot
	a.closers = append(a.closers, bot.Close)
	return nil
}

func (a *App) initSource() error {
	if a.src != nil || a.noCapture || a.cfg.Capture.IsZero() {
		return nil
	}
	// A Discord capture joins voice through the bot's gateway session.
	if c := a.cfg.Capture; c.Name == "discord" && a.bot != nil {
		var opts []discordcapture.Option
		if user := c.StringOption("user_id"); user != "" {
			opts = append(opts, discordcapture.WithUser(user))
		}
		a.src = discordcapture.NewWithSession(a.bot.Session(), c.StringOption("guild_id"), c.StringOption("channel_id"), opts...)
		return nil
	}
	src, err := a.reg.CreateSource(a.cfg.Capture)
	if err != nil {
		return err
	}
	a.src = src
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	st, err := OpenStore(ctx, a.cfg.Store)
	if err != nil || st == nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	return nil
}

// OpenStore opens the session store selected by sc. It returns nil and no
// error when no driver is configured.
func OpenStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case config.StoreNone:
		return nil, nil
	case config.StorePostgres:
		st, err := postgres.Open(ctx, sc.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StoreSQLite:
		st, err := sqlite.Open(sc.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
	}
}

func (a *App) initProcessor() error {
	tc := a.cfg.Transcript
	opts := []transcript.Option{
		transcript.WithPhoneticMatcher(phonetic.New(phonetic.WithPhoneticThreshold(tc.PhoneticThreshold))),
	}
	if tc.Polish != nil {
		p, err := a.reg.CreatePolisher(*tc.Polish)
		if err != nil {
			return fmt.Errorf("polish: %w", err)
		}
		opts = append(opts, transcript.WithPolisher(polish.New(p)))
	}
	a.proc = transcript.NewProcessor(transcript.NewPipeline(opts...), tc.Vocabulary)
	return nil
}

// Controller returns the session controller.
func (a *App) Controller() *session.Controller { return a.ctrl }

// Store returns the session store, or nil when none is configured.
func (a *App) Store() store.Store { return a.store }

// Processor returns the transcript processor.
func (a *App) Processor() *transcript.Processor { return a.proc }

// ApplyConfig applies the hot-reloadable parts of updated. It is the
// [config.Watcher] callback.
func (a *App) ApplyConfig(old, updated *config.Config) {
	d := config.Diff(old, updated)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VocabularyChanged {
		a.proc.SetVocabulary(d.Vocabulary)
		slog.Info("vocabulary reloaded", "terms", len(d.Vocabulary))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

func (a *App) newServer() *server.Server {
	checks := []health.Checker{health.Recognizer(a.rec)}
	if p, ok := a.store.(health.Pinger); ok {
		checks = append(checks, health.Store(p))
	}
	opts := []server.Option{
		server.WithCheckers(checks...),
		server.WithMetrics(a.metrics),
	}
	if a.store != nil {
		opts = append(opts, server.WithStore(a.store))
	}
	if !a.cfg.Observe.Metrics {
		opts = append(opts, server.WithScrapeHandler(nil))
	}
	return server.New(a.cfg.Server.ListenAddr, a.ctrl, opts...)
}

// Run serves the HTTP API until ctx is cancelled. An active recording is
// stopped, and thereby persisted, before Run returns.
func (a *App) Run(ctx context.Context) error {
	srv := a.newServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	if a.bot != nil {
		g.Go(func() error {
			return a.bot.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		if !a.ctrl.IsRecording() {
			return nil
		}
		slog.Info("stopping active recording before shutdown")
		err := a.ctrl.StopRecording(context.WithoutCancel(gctx))
		if errors.Is(err, session.ErrNotRecording) {
			return nil
		}
		return err
	})

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr)
	return g.Wait()
}

// Shutdown stops the controller and closes every subsystem in reverse
// creation order. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		if a.ctrl != nil {
			if err := a.ctrl.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("controller: %w", err))
			}
		}
		for _, c := range slices.Backward(a.closers) {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func withOption(opts map[string]any, key string, v any) map[string]any {
	out := make(map[string]any, len(opts)+1)
	for k, val := range opts {
		out[k] = val
	}
	out[key] = v
	return out
}
