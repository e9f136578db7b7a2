// Command glyphlens serves a live camera feed and, on request, narrates what
// the camera sees: recognised text and objects, translated and spoken aloud.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/glyphlens/internal/app"
	"github.com/MrWong99/glyphlens/internal/camera/gocvcam"
	"github.com/MrWong99/glyphlens/internal/config"
	"github.com/MrWong99/glyphlens/internal/observe"
	"github.com/MrWong99/glyphlens/internal/resilience"
	"github.com/MrWong99/glyphlens/pkg/audio"
	"github.com/MrWong99/glyphlens/pkg/audio/speaker"
	"github.com/MrWong99/glyphlens/pkg/audio/wavfile"
	"github.com/MrWong99/glyphlens/pkg/provider/detect"
	"github.com/MrWong99/glyphlens/pkg/provider/detect/ocr"
	"github.com/MrWong99/glyphlens/pkg/provider/detect/vision"
	"github.com/MrWong99/glyphlens/pkg/provider/detect/yolo"
	"github.com/MrWong99/glyphlens/pkg/provider/llm"
	"github.com/MrWong99/glyphlens/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/glyphlens/pkg/provider/llm/openai"
	"github.com/MrWong99/glyphlens/pkg/provider/translate"
	"github.com/MrWong99/glyphlens/pkg/provider/translate/llmtranslate"
	"github.com/MrWong99/glyphlens/pkg/provider/translate/passthrough"
	"github.com/MrWong99/glyphlens/pkg/provider/tts"
	"github.com/MrWong99/glyphlens/pkg/provider/tts/coqui"
	"github.com/MrWong99/glyphlens/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/glyphlens/pkg/types"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload hot-reloadable settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "glyphlens: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "glyphlens: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("glyphlens starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	serviceVersion := cfg.Telemetry.ServiceVersion
	if serviceVersion == "" {
		serviceVersion = version
	}
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:      cfg.Telemetry.ServiceName,
		ServiceVersion:   serviceVersion,
		CameraDevice:     cfg.Camera.Device,
		TraceSampleRatio: cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	w := &wiring{metrics: metrics}
	reg := config.NewRegistry()
	w.registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := w.buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithCameraOpener(gocvcam.Opener(gocvcam.Config{
			Device:      cfg.Camera.Device,
			Width:       cfg.Camera.Width,
			Height:      cfg.Camera.Height,
			JPEGQuality: cfg.Camera.JPEGQuality,
		})),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(observe.MetricsHandler()),
	}
	if w.llm != nil {
		opts = append(opts, app.WithBreakers("llm", stateNames(w.llm.States)))
	}
	if w.tts != nil {
		opts = append(opts, app.WithBreakers("tts", stateNames(w.tts.States)))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		watcher, err := config.NewWatcher(*configPath, func(d config.ConfigDiff, _ *config.Config) {
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level updated", "level", d.NewLogLevel)
			}
			application.ApplyConfig(d)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
			go reloadOnHangup(ctx, watcher)
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	code := 0
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with glyphlens. Used for startup logging.
var builtinProviders = map[string][]string{
	"detection":   {"ocr", "yolo", "vision"},
	"translation": {"llm", "passthrough"},
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":         {"elevenlabs", "coqui"},
	"audio":       {"speaker", "wavfile"},
}

// wiring holds the providers shared between registry factories. The LLM
// chain is built before detectors and translators, which may depend on it.
type wiring struct {
	metrics *observe.Metrics
	llm     *resilience.LLMFallback
	tts     *resilience.TTSFallback
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func (w *wiring) registerBuiltinProviders(reg *config.Registry) {
	// ── Detection ─────────────────────────────────────────────────────────────

	reg.RegisterDetection("ocr", func(entry config.ProviderEntry) (detect.Provider, error) {
		var opts []ocr.Option
		if langs := optStrings(entry.Options, "languages"); len(langs) > 0 {
			opts = append(opts, ocr.WithLanguages(langs...))
		}
		if c := optFloat(entry.Options, "min_confidence"); c > 0 {
			opts = append(opts, ocr.WithMinConfidence(c))
		}
		return ocr.New(opts...)
	})

	reg.RegisterDetection("yolo", func(entry config.ProviderEntry) (detect.Provider, error) {
		weights := entry.Model
		if weights == "" {
			weights = optString(entry.Options, "weights")
		}
		var opts []yolo.Option
		if c := optFloat(entry.Options, "min_confidence"); c > 0 {
			opts = append(opts, yolo.WithMinConfidence(c))
		}
		if size := optInt(entry.Options, "input_size"); size > 0 {
			opts = append(opts, yolo.WithInputSize(size))
		}
		return yolo.New(weights, optString(entry.Options, "config"), optString(entry.Options, "names"), opts...)
	})

	reg.RegisterDetection("vision", func(entry config.ProviderEntry) (detect.Provider, error) {
		if w.llm == nil {
			return nil, errors.New("vision detection requires providers.llm")
		}
		var opts []vision.Option
		if p := optString(entry.Options, "prompt"); p != "" {
			opts = append(opts, vision.WithPrompt(p))
		}
		if n := optInt(entry.Options, "max_labels"); n > 0 {
			opts = append(opts, vision.WithMaxLabels(n))
		}
		return vision.New(w.llm, opts...)
	})

	// ── Translation ───────────────────────────────────────────────────────────

	reg.RegisterTranslation("llm", func(entry config.ProviderEntry) (translate.Provider, error) {
		if w.llm == nil {
			return nil, errors.New("llm translation requires providers.llm")
		}
		var opts []llmtranslate.Option
		if n := optInt(entry.Options, "cache_size"); n > 0 {
			opts = append(opts, llmtranslate.WithCacheSize(n))
		}
		return llmtranslate.New(w.llm, opts...)
	})

	reg.RegisterTranslation("passthrough", func(config.ProviderEntry) (translate.Provider, error) {
		return passthrough.New(), nil
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile all share
	// the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		p, err := elevenlabs.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return withEntryVoice(p, entry), nil
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, coqui.WithOutputSampleRate(rate))
		}
		p, err := coqui.New(entry.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return withEntryVoice(p, entry), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("speaker", func(entry config.ProviderEntry) (audio.Sink, error) {
		var opts []speaker.Option
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, speaker.WithSampleRate(rate))
		}
		if ms := optInt(entry.Options, "buffer_ms"); ms > 0 {
			opts = append(opts, speaker.WithBuffer(time.Duration(ms)*time.Millisecond))
		}
		return speaker.New(opts...)
	})

	reg.RegisterAudio("wavfile", func(entry config.ProviderEntry) (audio.Sink, error) {
		dir := optString(entry.Options, "dir")
		if dir == "" {
			dir = "narrations"
		}
		return wavfile.New(dir)
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// withEntryVoice pins the voice configured in the entry's options, so that each
// backend in a fallback chain speaks with its own voice id.
func withEntryVoice(p tts.Provider, entry config.ProviderEntry) tts.Provider {
	return tts.WithVoice(p, types.VoiceProfile{
		ID:       optString(entry.Options, "voice_id"),
		Provider: entry.Name,
	})
}

// breakerConfig returns the circuit breaker settings shared by every fallback
// group, reporting transitions to the metrics.
func (w *wiring) breakerConfig() resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
				w.metrics.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
			},
		},
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func (w *wiring) buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	// LLM chain first: vision detection and LLM translation use it.
	if name := cfg.Providers.LLM.Name; name != "" {
		primary, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		w.llm = resilience.NewLLMFallback(primary, entryName(cfg.Providers.LLM, 0), w.breakerConfig())
		slog.Info("provider created", "kind", "llm", "name", name)
		for i, fb := range cfg.Providers.LLMFallbacks {
			p, err := reg.CreateLLM(fb)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
			}
			w.llm.AddFallback(entryName(fb, i+1), p)
			slog.Info("provider created", "kind", "llm_fallback", "name", fb.Name)
		}
	}

	members := make([]detect.Named, 0, len(cfg.Providers.Detection))
	for i, entry := range cfg.Providers.Detection {
		p, err := reg.CreateDetection(entry)
		if err != nil {
			for _, m := range members {
				closeIfCloser(m.Provider)
			}
			return nil, fmt.Errorf("create detector %q: %w", entry.Name, err)
		}
		members = append(members, detect.Named{Name: entryName(entry, i), Provider: p})
		slog.Info("provider created", "kind", "detection", "name", entry.Name)
	}
	multi, err := detect.NewMulti(members...)
	if err != nil {
		return nil, err
	}
	ps.Detector = multi

	translator, err := reg.CreateTranslation(cfg.Providers.Translation)
	if err != nil {
		return nil, fmt.Errorf("create translator %q: %w", cfg.Providers.Translation.Name, err)
	}
	ps.Translator = translator
	slog.Info("provider created", "kind", "translation", "name", cfg.Providers.Translation.Name)

	primaryTTS, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	w.tts = resilience.NewTTSFallback(primaryTTS, entryName(cfg.Providers.TTS, 0), w.breakerConfig())
	verifyVoice(ctx, "providers.tts.options.voice_id", cfg.Providers.TTS.Name, primaryTTS, optString(cfg.Providers.TTS.Options, "voice_id"))
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)
	for i, fb := range cfg.Providers.TTSFallbacks {
		p, err := reg.CreateTTS(fb)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
		}
		w.tts.AddFallback(entryName(fb, i+1), p)
		verifyVoice(ctx, fmt.Sprintf("providers.tts_fallbacks[%d].options.voice_id", i), fb.Name, p, optString(fb.Options, "voice_id"))
		slog.Info("provider created", "kind", "tts_fallback", "name", fb.Name)
	}
	verifyVoice(ctx, "narration.voice_id", cfg.Providers.TTS.Name, w.tts, cfg.Narration.VoiceID)
	ps.TTS = w.tts

	sink, err := reg.CreateAudio(cfg.Providers.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio sink %q: %w", cfg.Providers.Audio.Name, err)
	}
	ps.Audio = sink
	slog.Info("provider created", "kind", "audio", "name", cfg.Providers.Audio.Name)

	return ps, nil
}

// voiceCheckTimeout bounds each startup ListVoices call.
const voiceCheckTimeout = 5 * time.Second

// verifyVoice warns when p does not offer voice. A provider whose voice list
// cannot be fetched is not reported as a mismatch. It returns false only for a
// confirmed mismatch.
func verifyVoice(ctx context.Context, setting, provider string, p tts.Provider, voice string) bool {
	if voice == "" {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, voiceCheckTimeout)
	defer cancel()
	ok, err := tts.HasVoice(ctx, p, voice)
	if err != nil {
		slog.Warn("could not verify tts voice", "setting", setting, "provider", provider, "err", err)
		return true
	}
	if !ok {
		slog.Warn("configured voice is not offered by the tts provider", "setting", setting, "provider", provider, "voice", voice)
	}
	return ok
}

// entryName labels a provider in logs, metrics and /status. Position keeps
// names unique when the same backend appears twice.
func entryName(entry config.ProviderEntry, pos int) string {
	name := entry.Name
	if entry.Model != "" {
		name += "/" + entry.Model
	}
	if pos > 0 {
		name = fmt.Sprintf("%s#%d", name, pos)
	}
	return name
}

func stateNames(states func() map[string]resilience.State) func() map[string]string {
	return func() map[string]string {
		raw := states()
		out := make(map[string]string, len(raw))
		for name, s := range raw {
			out[name] = s.String()
		}
		return out
	}
}

func closeIfCloser(v any) {
	if c, ok := v.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        glyphlens: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	detectors := make([]string, len(cfg.Providers.Detection))
	for i, d := range cfg.Providers.Detection {
		detectors[i] = d.Name
	}
	printProvider("Detection", strings.Join(detectors, ","), "")
	printProvider("Translation", cfg.Providers.Translation.Name, "")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Audio", cfg.Providers.Audio.Name, "")
	fmt.Printf("║  Camera          : %-19s ║\n", truncate(cfg.Camera.Device))
	fmt.Printf("║  Languages       : %-19s ║\n", cfg.Analysis.SourceLanguage+" -> "+cfg.Analysis.TargetLanguage)
	fmt.Printf("║  Narrate every   : %-19s ║\n", cfg.Narration.Interval.String())
	fmt.Printf("║  Journal         : %-19s ║\n", string(cfg.Journal.Backend))
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value))
}

func truncate(s string) string {
	if len(s) > 19 {
		return s[:16] + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option. YAML decodes whole numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optFloat extracts a numeric option as float64.
func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// optStrings accepts either a list of strings or a comma-separated string.
func optStrings(opts map[string]any, key string) []string {
	var out []string
	switch v := opts[key].(type) {
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := w.Reload(); err != nil {
				slog.Warn("config reload on SIGHUP failed", "err", err)
			}
		}
	}
}
