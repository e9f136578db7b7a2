package config

import (
	"fmt"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	NarrationIntervalChanged bool
	NewNarrationInterval     time.Duration

	CycleIntervalChanged bool
	NewCycleInterval     time.Duration

	// RestartRequired is true when anything outside the hot-reloadable fields
	// changed. Such changes are ignored until the process restarts.
	RestartRequired bool
}

// Changed reports whether any hot-reloadable field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.NarrationIntervalChanged || d.CycleIntervalChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Narration.Interval != new.Narration.Interval {
		d.NarrationIntervalChanged = true
		d.NewNarrationInterval = new.Narration.Interval.Std()
	}
	if old.Analysis.CycleInterval != new.Analysis.CycleInterval {
		d.CycleIntervalChanged = true
		d.NewCycleInterval = new.Analysis.CycleInterval.Std()
	}

	// Blank out the reloadable fields on copies and compare the rest.
	o, n := stripReloadable(*old), stripReloadable(*new)
	d.RestartRequired = !restartEqual(&o, &n)
	return d
}

func stripReloadable(c Config) Config {
	c.Server.LogLevel = ""
	c.Narration.Interval = 0
	c.Analysis.CycleInterval = 0
	return c
}

// restartEqual compares the fields that need a restart to take effect.
func restartEqual(a, b *Config) bool {
	if a.Server.ListenAddr != b.Server.ListenAddr || a.Server.MetricsPath != b.Server.MetricsPath {
		return false
	}
	if (a.Server.TLS == nil) != (b.Server.TLS == nil) || (a.Server.TLS != nil && *a.Server.TLS != *b.Server.TLS) {
		return false
	}
	if a.Camera != b.Camera || a.Analysis != b.Analysis || a.Narration != b.Narration {
		return false
	}
	if a.Journal != b.Journal || a.Telemetry != b.Telemetry {
		return false
	}
	return providersEqual(a.Providers, b.Providers)
}

func providersEqual(a, b ProvidersConfig) bool {
	return entriesEqual(a.Detection, b.Detection) &&
		entryEqual(a.Translation, b.Translation) &&
		entryEqual(a.LLM, b.LLM) && entriesEqual(a.LLMFallbacks, b.LLMFallbacks) &&
		entryEqual(a.TTS, b.TTS) && entriesEqual(a.TTSFallbacks, b.TTSFallbacks) &&
		entryEqual(a.Audio, b.Audio)
}

func entriesEqual(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !entryEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || !optionEqual(v, w) {
			return false
		}
	}
	return true
}

// optionEqual compares decoded YAML option values. Nested maps and lists are
// compared by their formatted form.
func optionEqual(a, b any) bool {
	switch a.(type) {
	case map[string]any, []any:
		return formatOption(a) == formatOption(b)
	}
	return a == b
}

func formatOption(v any) string {
	return fmt.Sprintf("%v", v)
}
