package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/glyphlens"

// Span names of one analysis cycle. [SpanCycle] is the root; the others are
// its children.
const (
	SpanCycle     = "analysis.cycle"
	SpanDetect    = "analysis.detect"
	SpanTranslate = "analysis.translate"
	SpanSpeak     = "narration.speak"
)

// Span attribute keys.
const (
	AttrRunID    = attribute.Key("glyphlens.run_id")
	AttrOutcome  = attribute.Key("glyphlens.cycle.outcome")
	AttrFrameSeq = attribute.Key("glyphlens.frame.seq")
	AttrUnits    = attribute.Key("glyphlens.translate.units")
)

// Tracer returns the glyphlens tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

type runIDKey struct{}

// WithRunID tags ctx with the id of the analysis worker it belongs to.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID returns the worker id set by [WithRunID], or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// StartCycle tags ctx with runID and starts the root span of one analysis
// cycle. The caller ends the span.
func StartCycle(ctx context.Context, runID string) (context.Context, trace.Span) {
	ctx = WithRunID(ctx, runID)
	return Tracer().Start(ctx, SpanCycle,
		trace.WithNewRoot(),
		trace.WithAttributes(AttrRunID.String(runID)),
	)
}

// StartStage starts a child span for one stage of the current cycle.
func StartStage(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan marks span failed if err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace id of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with the run_id, trace_id and span_id
// found in ctx. Missing values are left out.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if id := RunID(ctx); id != "" {
		attrs = append(attrs, slog.String("run_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
