package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] checks the file's
// modification time.
const DefaultWatchInterval = 5 * time.Second

// ReloadFunc receives what changed between the previous and the newly loaded
// configuration, together with the new configuration.
type ReloadFunc func(d ConfigDiff, cfg *Config)

// Watcher polls a config file and reports valid edits as a [ConfigDiff].
// An edit that fails to parse or validate is logged and ignored; the last
// valid configuration stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc

	reloadMu sync.Mutex // serialises Reload between the poller and callers

	mu      sync.Mutex
	current fileState

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// fileState is one successfully loaded version of the file.
type fileState struct {
	cfg *Config
	sum [sha256.Size]byte
	mod time.Time
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval (default [DefaultWatchInterval]).
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onReload may be nil. It is
// called from the polling goroutine, or from the goroutine calling
// [Watcher.Reload], and only when something actually changed.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onReload: onReload,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	st, err := readState(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current = st

	go w.run()
	return w, nil
}

// Current returns the most recently loaded valid configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current.cfg
}

// Stop ends polling and waits for the poller to exit. It must not be called
// from a ReloadFunc.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	<-w.stopped
}

// Reload reads the file now, whatever its modification time, and returns the
// diff against the previous configuration. An identical file yields a zero
// diff and no callback. An invalid file keeps the current configuration and
// returns the error.
func (w *Watcher) Reload() (ConfigDiff, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	st, err := readState(w.path)
	if err != nil {
		return ConfigDiff{}, fmt.Errorf("config: reload %q: %w", w.path, err)
	}

	w.mu.Lock()
	prev := w.current
	if st.sum == prev.sum {
		w.current.mod = st.mod
		w.mu.Unlock()
		return ConfigDiff{}, nil
	}
	w.current = st
	w.mu.Unlock()

	d := Diff(prev.cfg, st.cfg)
	if !d.Changed() && !d.RestartRequired {
		slog.Debug("config file rewritten without effective changes", "path", w.path)
		return d, nil
	}
	slog.Info("configuration reloaded", "path", w.path,
		"narration_interval_changed", d.NarrationIntervalChanged,
		"cycle_interval_changed", d.CycleIntervalChanged,
		"log_level_changed", d.LogLevelChanged,
		"restart_required", d.RestartRequired,
	)
	if w.onReload != nil {
		w.onReload(d, st.cfg)
	}
	return d, nil
}

func (w *Watcher) run() {
	defer close(w.stopped)

	// mtime of the last rejected edit, so it is reported once.
	var rejected time.Time

	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			mod, ok := w.modified()
			if !ok || mod.Equal(rejected) {
				continue
			}
			if _, err := w.Reload(); err != nil {
				rejected = mod
				slog.Warn("config reload rejected, keeping current config", "err", err)
			}
		}
	}
}

// modified returns the file's modification time and whether it moved since
// the last load.
func (w *Watcher) modified() (time.Time, bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return time.Time{}, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return info.ModTime(), !info.ModTime().Equal(w.current.mod)
}

func readState(path string) (fileState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileState{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return fileState{}, err
	}
	return fileState{cfg: cfg, sum: sha256.Sum256(data), mod: info.ModTime()}, nil
}
