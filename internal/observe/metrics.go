// Package observe provides application-wide observability primitives for
// glyphlens: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all glyphlens metrics.
const meterName = "github.com/MrWong99/glyphlens"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// FrameAcquireDuration tracks how long a camera read plus JPEG encode takes.
	FrameAcquireDuration metric.Float64Histogram

	// DetectionDuration tracks detection collaborator latency.
	DetectionDuration metric.Float64Histogram

	// TranslationDuration tracks the latency of translating one cycle's units.
	TranslationDuration metric.Float64Histogram

	// SpeechDuration tracks synthesis plus playback latency of one narration.
	SpeechDuration metric.Float64Histogram

	// --- Counters ---

	// Frames counts frame acquisitions. Use with attribute:
	//   attribute.String("status", "ok"|"unavailable")
	Frames metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// AnalysisCycles counts worker iterations. Use with attribute:
	//   attribute.String("outcome", ...)
	AnalysisCycles metric.Int64Counter

	// NarrationDecisions counts throttle decisions. Use with attribute:
	//   attribute.String("decision", "emit"|"suppress")
	NarrationDecisions metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveStreamClients tracks the number of open /video_feed connections.
	ActiveStreamClients metric.Int64UpDownCounter

	// RunningWorkers tracks the number of analysis workers (0 or 1).
	RunningWorkers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// local camera reads up to slow remote vision calls.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.FrameAcquireDuration, "glyphlens.camera.acquire.duration", "Latency of reading and encoding one camera frame."},
		{&met.DetectionDuration, "glyphlens.detection.duration", "Latency of frame detection."},
		{&met.TranslationDuration, "glyphlens.translation.duration", "Latency of translating one analysis cycle."},
		{&met.SpeechDuration, "glyphlens.speech.duration", "Latency of speech synthesis and playback."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	// Counters.
	if met.Frames, err = m.Int64Counter("glyphlens.camera.frames",
		metric.WithDescription("Total frame acquisitions by status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("glyphlens.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.AnalysisCycles, err = m.Int64Counter("glyphlens.analysis.cycles",
		metric.WithDescription("Total analysis worker iterations by outcome."),
	); err != nil {
		return nil, err
	}
	if met.NarrationDecisions, err = m.Int64Counter("glyphlens.narration.decisions",
		metric.WithDescription("Total narration throttle decisions."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("glyphlens.breaker.transitions",
		metric.WithDescription("Total circuit breaker state transitions."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("glyphlens.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreamClients, err = m.Int64UpDownCounter("glyphlens.stream.clients",
		metric.WithDescription("Number of open MJPEG stream connections."),
	); err != nil {
		return nil, err
	}
	if met.RunningWorkers, err = m.Int64UpDownCounter("glyphlens.analysis.workers",
		metric.WithDescription("Number of running analysis workers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("glyphlens.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame records one frame acquisition and its latency.
func (m *Metrics) RecordFrame(ctx context.Context, status string, d time.Duration) {
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.FrameAcquireDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCycle records the outcome of one analysis iteration.
func (m *Metrics) RecordCycle(ctx context.Context, outcome string) {
	m.AnalysisCycles.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordNarration records one throttle decision.
func (m *Metrics) RecordNarration(ctx context.Context, decision string) {
	m.NarrationDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}

// RecordBreakerTransition records a circuit breaker moving into state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, from, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}
