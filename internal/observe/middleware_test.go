package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func middlewareSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader, useTracer(t)
}

// durationPoint returns the single request duration sample recorded for path.
func durationPoint(t *testing.T, reader *sdkmetric.ManualReader, path string) metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "glyphlens.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("request duration is %T, want a histogram", met.Data)
	}
	for _, dp := range hist.DataPoints {
		if v, ok := dp.Attributes.Value("path"); ok && v.AsString() == path {
			return dp
		}
	}
	t.Fatalf("no sample for path %s", path)
	return metricdata.HistogramDataPoint[float64]{}
}

func spanAttr(s *tracetest.SpanStub, key attribute.Key) (attribute.Value, bool) {
	for _, a := range s.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestMiddleware_CorrelationID(t *testing.T) {
	const incoming = "4bf92f3577b34da6a3ce929d0e0e4736"
	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{name: "new trace"},
		{name: "continued trace", traceparent: "00-" + incoming + "-00f067aa0ba902b7-01", want: incoming},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := middlewareSetup(t)
			var inHandler string
			h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				inHandler = CorrelationID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodPost, "/start_process", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if len(inHandler) != 32 {
				t.Fatalf("correlation id %q is not a trace id", inHandler)
			}
			if tt.want != "" && inHandler != tt.want {
				t.Errorf("correlation id = %q, want %q", inHandler, tt.want)
			}
			if got := rec.Header().Get(CorrelationHeader); got != inHandler {
				t.Errorf("%s = %q, want %q", CorrelationHeader, got, inHandler)
			}
		})
	}
}

func TestMiddleware_APIRequest(t *testing.T) {
	m, reader, exp := middlewareSetup(t)
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"degraded"}`))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}

	spans := exp.GetSpans()
	span := spanByName(spans, "HTTP GET /readyz")
	if span == nil {
		t.Fatalf("no request span in %d spans", len(spans))
	}
	if v, ok := spanAttr(span, "http.response.status_code"); !ok || v.AsInt64() != 503 {
		t.Errorf("status code attribute = %v, want 503", v)
	}
	if v, ok := spanAttr(span, "http.response.body.size"); !ok || v.AsInt64() != int64(len(`{"status":"degraded"}`)) {
		t.Errorf("body size attribute = %v", v)
	}

	dp := durationPoint(t, reader, "/readyz")
	if dp.Count != 1 {
		t.Errorf("samples = %d, want 1", dp.Count)
	}
	if v, _ := dp.Attributes.Value("method"); v.AsString() != http.MethodGet {
		t.Errorf("method attribute = %q", v.AsString())
	}
	if v, ok := dp.Attributes.Value("streamed"); !ok || v.AsBool() {
		t.Errorf("streamed attribute = %v, want false", v)
	}
}

// TestMiddleware_VideoFeed drives a handler shaped like the MJPEG feed: it
// lifts the write deadline and flushes once per part through a
// ResponseController, which only works if the middleware forwards Flush and
// exposes the underlying writer.
func TestMiddleware_VideoFeed(t *testing.T) {
	m, reader, _ := middlewareSetup(t)
	buf := captureLog(t)

	const parts = 3
	var deadlineErr error
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		rc := http.NewResponseController(w)
		deadlineErr = rc.SetWriteDeadline(time.Time{})
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		for range parts {
			_, _ = w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n\xff\xd8\xff\xd9\r\n\r\n"))
			if err := rc.Flush(); err != nil {
				t.Errorf("Flush through middleware: %v", err)
			}
		}
	}))

	// A real connection so that the deadline can be set.
	srv := httptest.NewServer(h)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/video_feed")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	srv.Close()

	if deadlineErr != nil {
		t.Errorf("SetWriteDeadline through middleware: %v", deadlineErr)
	}
	dp := durationPoint(t, reader, "/video_feed")
	if v, ok := dp.Attributes.Value("streamed"); !ok || !v.AsBool() {
		t.Errorf("streamed attribute = %v, want true", v)
	}
	if out := buf.String(); !strings.Contains(out, "flushes=3") {
		t.Errorf("completion log %q lacks flushes=3", out)
	}
}

func TestMiddleware_FlushOnRecorder(t *testing.T) {
	m, _, _ := middlewareSetup(t)
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("wrapped writer is not an http.Flusher")
		}
		_, _ = w.Write([]byte("part"))
		f.Flush()
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/video_feed", nil))
	if !rec.Flushed {
		t.Error("Flush was not forwarded")
	}
}
