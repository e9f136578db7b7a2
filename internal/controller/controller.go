// Package controller owns the lifecycle of the background analysis worker.
//
// At most one worker loops at any time. [Controller.Start] atomically checks
// the running flag, flips it and spawns the worker; concurrent callers see
// exactly one [Started]. [Controller.Stop] cancels the worker's run token and
// returns without waiting: the worker notices at its next check, after any
// in-flight collaborator call has completed. Stopping is therefore eventual,
// not immediate.
package controller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/glyphlens/internal/analysis"
	"github.com/MrWong99/glyphlens/internal/journal"
	"github.com/MrWong99/glyphlens/internal/narration"
	"github.com/MrWong99/glyphlens/internal/observe"
	"github.com/MrWong99/glyphlens/pkg/types"
)

// DefaultCycleInterval is the pause between two analysis cycles.
const DefaultCycleInterval = time.Second

// StartResult is the outcome of [Controller.Start].
type StartResult int

const (
	// Started means a new worker was launched.
	Started StartResult = iota
	// AlreadyRunning means a worker was running and nothing changed.
	AlreadyRunning
	// ShuttingDown means [Controller.Shutdown] was called and no new worker
	// will be launched.
	ShuttingDown
)

// Message returns the user-facing status text.
func (r StartResult) Message() string {
	switch r {
	case Started:
		return "process started, wait to hear the results"
	case ShuttingDown:
		return "process is shutting down"
	default:
		return "process is already running"
	}
}

// StopResult is the outcome of [Controller.Stop].
type StopResult int

const (
	// Stopped means a running worker was signalled to stop.
	Stopped StopResult = iota
	// NotRunning means no worker was running.
	NotRunning
)

// Message returns the user-facing status text. Both results read the same.
func (StopResult) Message() string {
	return "process stopped"
}

// Cycler runs one analysis iteration. [analysis.Pipeline] implements it.
type Cycler interface {
	Cycle(ctx context.Context) (analysis.Outcome, *types.NarrationEvent)
}

// Status is a snapshot of the controller state.
type Status struct {
	Running           bool      `json:"running"`
	RunID             string    `json:"run_id,omitempty"`
	StartedAt         time.Time `json:"started_at,omitzero"`
	Cycles            uint64    `json:"cycles"`
	Narrations        uint64    `json:"narrations"`
	LastNarrationAt   time.Time `json:"last_narration_at,omitzero"`
	LastNarrationText string    `json:"last_narration_text,omitempty"`
	CycleInterval     string    `json:"cycle_interval"`
	NarrationInterval string    `json:"narration_interval"`
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithJournal records every emitted narration in j.
func WithJournal(j journal.Journal) Option {
	return func(c *Controller) { c.journal = j }
}

// WithCycleInterval sets the pause between cycles (default 1s).
func WithCycleInterval(d time.Duration) Option {
	return func(c *Controller) { c.interval.Store(int64(d)) }
}

// WithSleep overrides how the worker waits between cycles. fn must return a
// non-nil error once ctx is done. Intended for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

// WithMetrics sets the metrics recorder (default [observe.DefaultMetrics]).
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller starts and stops the analysis worker.
type Controller struct {
	cycler   Cycler
	throttle *narration.Throttle
	speaker  narration.Speaker
	journal  journal.Journal
	metrics  *observe.Metrics
	sleep    func(ctx context.Context, d time.Duration) error
	interval atomic.Int64

	// base is cancelled only by Shutdown. Collaborator calls use it so that
	// Stop never interrupts a call already in flight.
	base       context.Context
	baseCancel context.CancelFunc
	workers    sync.WaitGroup

	mu        sync.Mutex
	running   bool
	runID     string
	startedAt time.Time
	cancel    context.CancelFunc

	cycles     atomic.Uint64
	narrations atomic.Uint64
	lastText   atomic.Pointer[string]
}

// New creates an idle Controller.
func New(cycler Cycler, throttle *narration.Throttle, speaker narration.Speaker, opts ...Option) *Controller {
	c := &Controller{
		cycler:   cycler,
		throttle: throttle,
		speaker:  speaker,
		sleep:    sleepCtx,
	}
	c.interval.Store(int64(DefaultCycleInterval))
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.base, c.baseCancel = context.WithCancel(context.Background())
	return c
}

// Start launches the worker unless one is already running.
func (c *Controller) Start() StartResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return AlreadyRunning
	}
	if c.base.Err() != nil {
		return ShuttingDown
	}

	token, cancel := context.WithCancel(c.base)
	c.running = true
	c.runID = uuid.NewString()
	c.startedAt = time.Now()
	c.cancel = cancel

	c.workers.Add(1)
	go c.run(token, c.runID)
	return Started
}

// Stop signals the running worker to exit and returns immediately. Calling
// it while idle has no effect.
func (c *Controller) Stop() StopResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return NotRunning
	}
	c.cancel()
	c.clearLocked()
	return Stopped
}

func (c *Controller) clearLocked() {
	c.running = false
	c.runID = ""
	c.startedAt = time.Time{}
	c.cancel = nil
}

// Running reports whether a worker is running.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SetCycleInterval changes the pause between cycles for running and future
// workers.
func (c *Controller) SetCycleInterval(d time.Duration) {
	if d > 0 {
		c.interval.Store(int64(d))
	}
}

// CycleInterval returns the current pause between cycles.
func (c *Controller) CycleInterval() time.Duration {
	return time.Duration(c.interval.Load())
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	s := Status{Running: c.running, RunID: c.runID, StartedAt: c.startedAt}
	c.mu.Unlock()

	s.Cycles = c.cycles.Load()
	s.Narrations = c.narrations.Load()
	s.CycleInterval = c.CycleInterval().String()
	if c.throttle != nil {
		s.LastNarrationAt = c.throttle.LastNarrationAt()
		s.NarrationInterval = c.throttle.Interval().String()
	}
	if p := c.lastText.Load(); p != nil {
		s.LastNarrationText = *p
	}
	return s
}

// Wait blocks until every worker goroutine has exited or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the worker, cancels in-flight collaborator calls and waits
// for the worker to exit. No worker can be started afterwards.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.cancel()
		c.clearLocked()
	}
	c.baseCancel()
	c.mu.Unlock()
	return c.Wait(ctx)
}

func (c *Controller) run(token context.Context, runID string) {
	defer c.workers.Done()

	c.metrics.RunningWorkers.Add(c.base, 1)
	defer c.metrics.RunningWorkers.Add(context.Background(), -1)

	log := observe.Logger(observe.WithRunID(c.base, runID))
	log.Info("analysis worker started", "cycle_interval", c.CycleInterval())
	defer func() {
		c.mu.Lock()
		if c.runID == runID {
			c.clearLocked()
		}
		c.mu.Unlock()
		log.Info("analysis worker stopped")
	}()

	for token.Err() == nil {
		c.iterate(token, runID, log)
		if err := c.sleep(token, c.CycleInterval()); err != nil {
			return
		}
	}
}

// iterate runs one cycle and, if admitted, speaks and journals the result.
func (c *Controller) iterate(token context.Context, runID string, log *slog.Logger) {
	ctx, span := observe.StartCycle(c.base, runID)
	defer span.End()

	outcome, ev := c.cycler.Cycle(ctx)
	c.cycles.Add(1)
	c.metrics.RecordCycle(ctx, outcome.String())
	span.SetAttributes(observe.AttrOutcome.String(outcome.String()))
	if ev == nil || token.Err() != nil {
		return
	}

	decision := c.throttle.Admit(*ev)
	c.metrics.RecordNarration(ctx, decision.String())
	if decision == narration.Suppress {
		log.Debug("narration suppressed", "text", ev.Text)
		return
	}

	log.Info("narrating", "text", ev.Text)
	speakCtx, speakSpan := observe.StartStage(ctx, observe.SpanSpeak)
	speakErr := c.speaker.Speak(speakCtx, ev.Text)
	observe.EndSpan(speakSpan, speakErr)
	if speakErr != nil {
		log.Warn("speech failed", "err", speakErr)
	}
	c.narrations.Add(1)
	text := ev.Text
	c.lastText.Store(&text)

	if c.journal == nil {
		return
	}
	entry := journal.Entry{
		ID:         uuid.NewString(),
		RunID:      runID,
		Text:       ev.Text,
		ProducedAt: ev.ProducedAt,
		Spoken:     speakErr == nil,
	}
	if speakErr != nil {
		entry.SpeechError = speakErr.Error()
	}
	if err := c.journal.Record(ctx, entry); err != nil {
		log.Warn("journal record failed", "err", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
