// Package camera provides the shared frame source: exclusive access to a
// single capture device that several consumers (MJPEG stream clients and the
// analysis worker) read from concurrently.
//
// Every [Source.Acquire] call performs one physical read under a mutex and
// returns a freshly allocated JPEG buffer, so no two callers ever observe
// interleaved bytes. Read failures are reported as [ErrUnavailable], which
// callers treat as retryable. Optionally the source reopens the device after a
// run of consecutive failures, backing off exponentially between attempts.
package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/glyphlens/internal/observe"
)

var (
	// ErrUnavailable is returned when the device could not produce a frame.
	ErrUnavailable = errors.New("camera: frame unavailable")

	// ErrClosed is returned by Acquire after Close. It also matches
	// ErrUnavailable.
	ErrClosed = fmt.Errorf("camera: source closed: %w", ErrUnavailable)
)

// Frame is one JPEG-encoded image read from the device. Frames are never
// shared between callers and must not be modified.
type Frame struct {
	// Data holds the JPEG bytes.
	Data []byte

	// CapturedAt is when the read completed.
	CapturedAt time.Time

	// Seq increases by one for every successful read across all callers.
	Seq uint64
}

// Device is a single physical capture device. Implementations need not be
// safe for concurrent use; Source serializes all calls.
type Device interface {
	// ReadJPEG grabs the next frame and returns it JPEG-encoded.
	ReadJPEG() ([]byte, error)

	// Close releases the device.
	Close() error
}

// Opener opens a Device. It is used at startup and for reopening.
type Opener func() (Device, error)

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithReopen enables reopening the device through opener after `after`
// consecutive failed reads. Failed reopen attempts are spaced by backoff,
// doubling up to maxBackoff.
func WithReopen(opener Opener, after int, backoff, maxBackoff time.Duration) Option {
	return func(s *Source) {
		s.opener = opener
		s.reopenAfter = after
		s.backoff = backoff
		s.maxBackoff = maxBackoff
	}
}

// WithMetrics sets the metrics recorder (default [observe.DefaultMetrics]).
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Source) { s.metrics = m }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// Source serializes access to a Device.
type Source struct {
	opener      Opener
	reopenAfter int
	backoff     time.Duration
	maxBackoff  time.Duration
	metrics     *observe.Metrics
	now         func() time.Time

	mu          sync.Mutex
	dev         Device
	closed      bool
	seq         uint64
	failures    int
	nextBackoff time.Duration
	nextReopen  time.Time
	reopens     int

	healthy atomic.Bool
}

// NewSource wraps an already opened device.
func NewSource(dev Device, opts ...Option) *Source {
	s := &Source{dev: dev, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.backoff <= 0 {
		s.backoff = time.Second
	}
	if s.maxBackoff < s.backoff {
		s.maxBackoff = s.backoff
	}
	s.nextBackoff = s.backoff
	s.healthy.Store(true)
	return s
}

// Open opens the device through opener and wraps it. A failure here is fatal
// for the caller: neither streaming nor analysis can start without a camera.
func Open(opener Opener, opts ...Option) (*Source, error) {
	dev, err := opener()
	if err != nil {
		return nil, fmt.Errorf("camera: open device: %w", err)
	}
	return NewSource(dev, opts...), nil
}

// Acquire reads one frame. It blocks while another caller is reading.
// Device failures return an error matching ErrUnavailable.
func (s *Source) Acquire(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	frame, err := s.readLocked()
	status := "ok"
	if err != nil {
		status = "unavailable"
	}
	s.metrics.RecordFrame(ctx, status, time.Since(start))
	s.healthy.Store(err == nil)
	return frame, err
}

func (s *Source) readLocked() (Frame, error) {
	if s.closed {
		return Frame{}, ErrClosed
	}
	if s.dev == nil {
		if !s.tryReopenLocked() {
			return Frame{}, fmt.Errorf("%w: device not open", ErrUnavailable)
		}
	}

	data, err := s.dev.ReadJPEG()
	if err == nil && len(data) == 0 {
		err = errors.New("empty frame")
	}
	if err != nil {
		s.failures++
		if s.opener != nil && s.reopenAfter > 0 && s.failures >= s.reopenAfter {
			slog.Warn("camera read failing, reopening device", "consecutive_failures", s.failures, "err", err)
			_ = s.dev.Close()
			s.dev = nil
			s.tryReopenLocked()
		}
		return Frame{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.failures = 0
	s.seq++
	return Frame{
		Data:       append([]byte(nil), data...),
		CapturedAt: s.now(),
		Seq:        s.seq,
	}, nil
}

// tryReopenLocked attempts one reopen if the backoff has elapsed.
func (s *Source) tryReopenLocked() bool {
	if s.opener == nil {
		return false
	}
	now := s.now()
	if now.Before(s.nextReopen) {
		return false
	}
	s.reopens++
	dev, err := s.opener()
	if err != nil {
		s.nextReopen = now.Add(s.nextBackoff)
		slog.Warn("camera reopen failed", "attempt", s.reopens, "retry_in", s.nextBackoff, "err", err)
		s.nextBackoff = min(s.nextBackoff*2, s.maxBackoff)
		return false
	}
	slog.Info("camera reopened", "attempt", s.reopens)
	s.dev = dev
	s.failures = 0
	s.nextBackoff = s.backoff
	s.nextReopen = time.Time{}
	return true
}

// Healthy reports whether the most recent acquisition succeeded.
func (s *Source) Healthy() bool {
	return s.healthy.Load()
}

// Check implements a readiness probe.
func (s *Source) Check(context.Context) error {
	if !s.Healthy() {
		return ErrUnavailable
	}
	return nil
}

// Close releases the device. Subsequent Acquire calls return ErrClosed.
// Safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.healthy.Store(false)
	if s.dev == nil {
		return nil
	}
	err := s.dev.Close()
	s.dev = nil
	return err
}
