// Package narration turns analysis results into spoken sentences: it composes
// the sentence, rate-limits how often one may be spoken, and hands admitted
// sentences to a speech backend.
package narration

import (
	"sync"
	"time"

	"github.com/MrWong99/glyphlens/pkg/types"
)

// DefaultInterval is the minimum spacing between two spoken narrations.
const DefaultInterval = 3 * time.Second

// Decision is the outcome of [Throttle.Admit].
type Decision int

const (
	// Suppress means the event is discarded.
	Suppress Decision = iota
	// Emit means the event should be spoken.
	Emit
)

// String returns "emit" or "suppress".
func (d Decision) String() string {
	if d == Emit {
		return "emit"
	}
	return "suppress"
}

// ThrottleOption is a functional option for configuring a Throttle.
type ThrottleOption func(*Throttle)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) ThrottleOption {
	return func(t *Throttle) { t.now = now }
}

// Throttle admits at most one narration per interval. Suppressed events are
// dropped, never queued. Safe for concurrent use.
type Throttle struct {
	now func() time.Time

	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewThrottle creates a throttle. A non-positive interval uses DefaultInterval.
func NewThrottle(interval time.Duration, opts ...ThrottleOption) *Throttle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := &Throttle{now: time.Now, interval: interval}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Admit decides whether ev may be spoken. The first event is always emitted;
// afterwards an event is emitted iff at least interval has passed since the
// last emitted one.
func (t *Throttle) Admit(ev types.NarrationEvent) Decision {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return Suppress
	}
	t.last = now
	return Emit
}

// SetInterval changes the interval for subsequent decisions.
func (t *Throttle) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	t.interval = d
	t.mu.Unlock()
}

// Interval returns the current interval.
func (t *Throttle) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// LastNarrationAt returns when the last event was emitted, or the zero time.
func (t *Throttle) LastNarrationAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Reset forgets the last emission so that the next event is emitted.
func (t *Throttle) Reset() {
	t.mu.Lock()
	t.last = time.Time{}
	t.mu.Unlock()
}
