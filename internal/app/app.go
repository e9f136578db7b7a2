// Package app wires all glyphlens subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject implementations via functional options
// (WithFrameSource, WithJournal, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/glyphlens/internal/analysis"
	"github.com/MrWong99/glyphlens/internal/camera"
	"github.com/MrWong99/glyphlens/internal/config"
	"github.com/MrWong99/glyphlens/internal/controller"
	"github.com/MrWong99/glyphlens/internal/health"
	"github.com/MrWong99/glyphlens/internal/journal"
	pgjournal "github.com/MrWong99/glyphlens/internal/journal/postgres"
	redisjournal "github.com/MrWong99/glyphlens/internal/journal/redis"
	"github.com/MrWong99/glyphlens/internal/narration"
	"github.com/MrWong99/glyphlens/internal/observe"
	"github.com/MrWong99/glyphlens/internal/server"
	"github.com/MrWong99/glyphlens/internal/stream"
	"github.com/MrWong99/glyphlens/pkg/audio"
	"github.com/MrWong99/glyphlens/pkg/provider/detect"
	"github.com/MrWong99/glyphlens/pkg/provider/translate"
	"github.com/MrWong99/glyphlens/pkg/provider/tts"
	"github.com/MrWong99/glyphlens/pkg/types"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// writeTimeout bounds non-streaming responses. The MJPEG feed lifts it per
// connection.
const writeTimeout = 30 * time.Second

// Providers holds one interface value per collaborator slot. Populated by
// main.go via the config registry.
type Providers struct {
	Detector   detect.Provider
	Translator translate.Provider
	TTS        tts.Provider
	Audio      audio.Sink
}

// FrameSource is the camera as the application uses it. [camera.Source]
// implements it.
type FrameSource interface {
	Acquire(ctx context.Context) (camera.Frame, error)
	Check(ctx context.Context) error
	Close() error
}

// App owns all subsystem lifetimes and serves the narration service.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	source         FrameSource
	opener         camera.Opener
	journal        journal.Journal
	speaker        narration.Speaker
	throttle       *narration.Throttle
	ctrl           *controller.Controller
	handler        http.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	breakers       map[string]server.BreakerStates

	// base is the parent of every HTTP request context; cancelling it ends
	// long-lived MJPEG streams so that the server can shut down.
	base       context.Context
	baseCancel context.CancelFunc

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithFrameSource injects a frame source instead of opening the configured camera.
func WithFrameSource(src FrameSource) Option {
	return func(a *App) { a.source = src }
}

// WithCameraOpener sets how the configured camera is opened. It is ignored
// when a frame source is injected with WithFrameSource.
func WithCameraOpener(opener camera.Opener) Option {
	return func(a *App) { a.opener = opener }
}

// WithJournal injects a narration journal instead of creating one from config.
func WithJournal(j journal.Journal) Option {
	return func(a *App) { a.journal = j }
}

// WithSpeaker injects a speaker instead of combining Providers.TTS and
// Providers.Audio.
func WithSpeaker(s narration.Speaker) Option {
	return func(a *App) { a.speaker = s }
}

// WithMetrics sets the metrics recorder (default [observe.DefaultMetrics]).
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at the configured metrics path.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithBreakers publishes the circuit breaker states of a provider kind on
// /status.
func WithBreakers(kind string, states server.BreakerStates) Option {
	return func(a *App) { a.breakers[kind] = states }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: camera open, journal
// connection, pipeline and controller construction, and HTTP routing. A camera
// that cannot be opened is a startup error.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		breakers:  make(map[string]server.BreakerStates),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.base, a.baseCancel = context.WithCancel(context.Background())

	// ── 1. Camera ────────────────────────────────────────────────────────
	if err := a.initCamera(); err != nil {
		return nil, a.abort(fmt.Errorf("app: init camera: %w", err))
	}

	// ── 2. Journal ───────────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		return nil, a.abort(fmt.Errorf("app: init journal: %w", err))
	}

	// ── 3. Speaker ───────────────────────────────────────────────────────
	if err := a.initSpeaker(); err != nil {
		return nil, a.abort(fmt.Errorf("app: init speaker: %w", err))
	}

	// ── 4. Pipeline + controller ─────────────────────────────────────────
	if err := a.initController(); err != nil {
		return nil, a.abort(fmt.Errorf("app: init controller: %w", err))
	}

	// ── 5. HTTP routes ───────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// abort releases whatever New acquired before failing.
func (a *App) abort(err error) error {
	a.baseCancel()
	a.runClosers()
	return err
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCamera opens the capture device through the opener unless a source was
// injected.
func (a *App) initCamera() error {
	if a.source == nil {
		if a.opener == nil {
			return errors.New("no frame source or camera opener configured")
		}
		cam := a.cfg.Camera
		opener := a.opener
		opts := []camera.Option{camera.WithMetrics(a.metrics)}
		if cam.ReopenAfter > 0 {
			opts = append(opts, camera.WithReopen(opener, cam.ReopenAfter, cam.ReopenBackoff.Std(), cam.ReopenMaxBackoff.Std()))
		}
		src, err := camera.Open(opener, opts...)
		if err != nil {
			return err
		}
		slog.Info("camera opened", "device", cam.Device)
		a.source = src
		a.closers = append(a.closers, src.Close)
	}
	return nil
}

// initJournal connects the configured journal backend unless one was injected.
func (a *App) initJournal(ctx context.Context) error {
	if a.journal != nil {
		return nil
	}

	jc := a.cfg.Journal
	switch jc.Backend {
	case config.JournalRedis:
		j, err := redisjournal.Open(ctx, jc.RedisURL, jc.RedisKey, jc.Capacity)
		if err != nil {
			return err
		}
		a.journal = j
	case config.JournalPostgres:
		j, err := pgjournal.Open(ctx, jc.PostgresDSN, jc.Capacity)
		if err != nil {
			return err
		}
		a.journal = j
	default:
		a.journal = journal.NewMemory(jc.Capacity)
	}
	slog.Info("narration journal ready", "backend", jc.Backend, "capacity", jc.Capacity)
	a.closers = append(a.closers, a.journal.Close)
	return nil
}

// initSpeaker combines the TTS provider and audio sink unless a speaker was
// injected.
func (a *App) initSpeaker() error {
	if a.speaker != nil {
		return nil
	}
	if a.providers.TTS == nil || a.providers.Audio == nil {
		return errors.New("a TTS provider and an audio sink are required")
	}
	profile := types.VoiceProfile{
		ID:       a.cfg.Narration.VoiceID,
		Name:     a.cfg.Narration.VoiceName,
		Language: a.cfg.Analysis.TargetLanguage,
	}
	v, err := narration.NewVoice(a.providers.TTS, a.providers.Audio, profile, narration.WithVoiceMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.speaker = v
	a.closers = append(a.closers, a.providers.Audio.Close)
	return nil
}

// initController builds the analysis pipeline and the worker controller.
func (a *App) initController() error {
	if c, ok := a.providers.Detector.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	pipeline, err := analysis.NewPipeline(a.source, a.providers.Detector, a.providers.Translator,
		analysis.Config{
			SourceLanguage: a.cfg.Analysis.SourceLanguage,
			TargetLanguage: a.cfg.Analysis.TargetLanguage,
			ObjectsPhrase:  a.cfg.Narration.ObjectsPhrase,
		},
		analysis.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}

	a.throttle = narration.NewThrottle(a.cfg.Narration.Interval.Std())
	a.ctrl = controller.New(pipeline, a.throttle, a.speaker,
		controller.WithJournal(a.journal),
		controller.WithCycleInterval(a.cfg.Analysis.CycleInterval.Std()),
		controller.WithMetrics(a.metrics),
	)
	return nil
}

// initServer builds the HTTP handler tree.
func (a *App) initServer() {
	checks := health.New(
		health.Checker{Name: "camera", Check: a.source.Check},
		health.Checker{Name: "journal", Check: a.journal.Ping},
	)
	opts := []server.Option{
		server.WithMetrics(a.metrics),
		server.WithJournal(a.journal),
		server.WithHealth(checks),
	}
	if a.metricsHandler != nil {
		opts = append(opts, server.WithMetricsHandler(a.cfg.Server.MetricsPath, a.metricsHandler))
	}
	for kind, states := range a.breakers {
		opts = append(opts, server.WithBreakers(kind, states))
	}
	feed := stream.Handler(a.source, stream.WithMetrics(a.metrics))
	a.handler = server.New(feed, a.ctrl, opts...).Handler()
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the application's HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Controller returns the worker controller.
func (a *App) Controller() *controller.Controller { return a.ctrl }

// Addr returns the address the server listens on, or nil before Run has
// bound its listener.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// ApplyConfig applies the hot-reloadable part of a configuration change.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.NarrationIntervalChanged {
		a.throttle.SetInterval(d.NewNarrationInterval)
		slog.Info("narration interval updated", "interval", d.NewNarrationInterval)
	}
	if d.CycleIntervalChanged {
		a.ctrl.SetCycleInterval(d.NewCycleInterval)
		slog.Info("cycle interval updated", "interval", d.NewCycleInterval)
	}
	if d.RestartRequired {
		slog.Warn("configuration changed in fields that need a restart; ignoring them until then")
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the server fails. When ctx is done, Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		BaseContext:       func(net.Listener) context.Context { return a.base },
	}
	a.mu.Lock()
	a.srv, a.ln = srv, ln
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if tls := a.cfg.Server.TLS; tls != nil {
			errCh <- srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()
	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends open streams, stops the HTTP server, stops the worker and
// closes all subsystems in init order. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.baseCancel()

		a.mu.Lock()
		srv := a.srv
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
			}
		}

		if err := a.ctrl.Shutdown(ctx); err != nil {
			slog.Warn("analysis worker did not stop in time", "err", err)
			shutdownErr = err
			return
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
