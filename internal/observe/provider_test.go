package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{-2, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		got := sampler(tt.ratio).Description()
		if !strings.HasPrefix(got, "ParentBased") || !strings.Contains(got, tt.want) {
			t.Errorf("sampler(%v) = %s, want parent based %s", tt.ratio, got, tt.want)
		}
	}
}

func TestNewResource(t *testing.T) {
	res, err := newResource(ProviderConfig{ServiceVersion: "1.2.3", CameraDevice: "/dev/video2"})
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	want := map[attribute.Key]string{
		semconv.ServiceNameKey:    DefaultServiceName,
		semconv.ServiceVersionKey: "1.2.3",
		AttrCameraDevice:          "/dev/video2",
	}
	set := res.Set()
	for k, v := range want {
		got, ok := set.Value(k)
		if !ok || got.AsString() != v {
			t.Errorf("resource %s = %q, want %q", k, got.AsString(), v)
		}
	}

	res, err = newResource(ProviderConfig{})
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	if _, ok := res.Set().Value(AttrCameraDevice); ok {
		t.Error("camera device recorded although none was configured")
	}
}

func TestInitProvider_ExportsCyclesToPrometheus(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	reg := prometheus.NewRegistry()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceName:  "glyphlens-test",
		CameraDevice: "0",
		Registerer:   reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordCycle(context.Background(), "composed")

	ctx, span := StartCycle(context.Background(), "run-1")
	if !span.SpanContext().IsSampled() {
		t.Error("cycle span not sampled with the default ratio")
	}
	if CorrelationID(ctx) == "" {
		t.Error("global tracer provider not installed")
	}
	span.End()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var cycles, target bool
	for _, f := range families {
		switch name := f.GetName(); {
		case strings.HasPrefix(name, "glyphlens_analysis_cycles"):
			cycles = true
		case name == "target_info":
			for _, l := range f.GetMetric()[0].GetLabel() {
				if l.GetName() == "glyphlens_camera_device" && l.GetValue() == "0" {
					target = true
				}
			}
		}
	}
	if !cycles {
		t.Error("analysis cycle counter not exported")
	}
	if !target {
		t.Error("target_info lacks the camera device label")
	}
}
