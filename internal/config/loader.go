package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"detection":   {"ocr", "yolo", "vision"},
	"translation": {"llm", "passthrough"},
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":         {"elevenlabs", "coqui"},
	"audio":       {"speaker", "wavfile"},
}

// reservedPaths are served by the application and cannot host metrics.
var reservedPaths = []string{"/video_feed", "/start_process", "/stop_process", "/status", "/narrations", "/healthz", "/readyz"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if p := cfg.Server.MetricsPath; p != "" {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("server.metrics_path %q must start with /", p))
		} else if slices.Contains(reservedPaths, p) {
			errs = append(errs, fmt.Errorf("server.metrics_path %q collides with an application route", p))
		}
	}

	// Camera
	if q := cfg.Camera.JPEGQuality; q < 0 || q > 100 {
		errs = append(errs, fmt.Errorf("camera.jpeg_quality %d is out of range [1, 100]", q))
	}
	if cfg.Camera.Width < 0 || cfg.Camera.Height < 0 {
		errs = append(errs, fmt.Errorf("camera resolution %dx%d must not be negative", cfg.Camera.Width, cfg.Camera.Height))
	}
	if cfg.Camera.ReopenAfter < 0 {
		errs = append(errs, fmt.Errorf("camera.reopen_after %d must not be negative", cfg.Camera.ReopenAfter))
	}
	if cfg.Camera.ReopenBackoff < 0 || cfg.Camera.ReopenMaxBackoff < 0 {
		errs = append(errs, errors.New("camera reopen backoff must not be negative"))
	}

	// Loop timing
	if cfg.Analysis.CycleInterval < 0 {
		errs = append(errs, fmt.Errorf("analysis.cycle_interval %s must be positive", cfg.Analysis.CycleInterval))
	}
	if cfg.Narration.Interval < 0 {
		errs = append(errs, fmt.Errorf("narration.interval %s must be positive", cfg.Narration.Interval))
	}

	// Providers
	if len(cfg.Providers.Detection) == 0 {
		errs = append(errs, errors.New("providers.detection requires at least one detector"))
	}
	needsLLM := false
	for i, e := range cfg.Providers.Detection {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.detection[%d].name is required", i))
			continue
		}
		validateProviderName("detection", e.Name)
		if e.Name == "vision" {
			needsLLM = true
		}
	}
	validateProviderName("translation", cfg.Providers.Translation.Name)
	if cfg.Providers.Translation.Name == "llm" {
		needsLLM = true
	}
	if needsLLM && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("vision detection and llm translation require providers.llm"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	errs = append(errs, validateFallbacks("llm", cfg.Providers.LLM, cfg.Providers.LLMFallbacks)...)

	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	validateProviderName("tts", cfg.Providers.TTS.Name)
	errs = append(errs, validateFallbacks("tts", cfg.Providers.TTS, cfg.Providers.TTSFallbacks)...)

	if cfg.Providers.Audio.Name == "" {
		errs = append(errs, errors.New("providers.audio.name is required"))
	}
	validateProviderName("audio", cfg.Providers.Audio.Name)

	// Journal
	if cfg.Journal.Backend != "" && !cfg.Journal.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("journal.backend %q is invalid; valid values: memory, redis, postgres", cfg.Journal.Backend))
	}
	if cfg.Journal.Capacity < 0 {
		errs = append(errs, fmt.Errorf("journal.capacity %d must not be negative", cfg.Journal.Capacity))
	}
	if cfg.Journal.Backend == JournalRedis && cfg.Journal.RedisURL == "" {
		errs = append(errs, errors.New("journal.redis_url is required when backend is redis"))
	}
	if cfg.Journal.Backend == JournalPostgres && cfg.Journal.PostgresDSN == "" {
		errs = append(errs, errors.New("journal.postgres_dsn is required when backend is postgres"))
	}
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %v is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateFallbacks checks that every fallback entry is named and warns when
// a fallback repeats the primary.
func validateFallbacks(kind string, primary ProviderEntry, fallbacks []ProviderEntry) []error {
	var errs []error
	for i, fb := range fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", kind, i))
			continue
		}
		if primary.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s_fallbacks is set but providers.%s is not configured", kind, kind))
			return errs
		}
		validateProviderName(kind, fb.Name)
		if fb.Name == primary.Name && fb.Model == primary.Model && fb.BaseURL == primary.BaseURL {
			slog.Warn("fallback provider duplicates the primary", "kind", kind, "name", fb.Name)
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
