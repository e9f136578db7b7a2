package stream_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/glyphlens/internal/camera"
	"github.com/MrWong99/glyphlens/internal/camera/mock"
	"github.com/MrWong99/glyphlens/internal/observe"
	"github.com/MrWong99/glyphlens/internal/stream"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// sourceFunc adapts a function to stream.FrameSource.
type sourceFunc func(ctx context.Context) (camera.Frame, error)

func (f sourceFunc) Acquire(ctx context.Context) (camera.Frame, error) { return f(ctx) }

func TestWritePart(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := stream.WritePart(&buf, []byte{0xff, 0xd8, 0xff, 0xd9}); err != nil {
		t.Fatalf("WritePart: %v", err)
	}
	want := "--frame\r\nContent-Type: image/jpeg\r\n\r\n\xff\xd8\xff\xd9\r\n\r\n"
	if got := buf.String(); got != want {
		t.Errorf("WritePart = %q, want %q", got, want)
	}
}

func TestHandler_StreamsUntilUnavailable(t *testing.T) {
	t.Parallel()

	frames := [][]byte{[]byte("jpeg-1"), []byte("jpeg-2"), []byte("jpeg-3")}
	dev := &mock.Device{ReadFunc: func(n int) ([]byte, error) {
		if n < len(frames) {
			return frames[n], nil
		}
		return nil, errors.New("unplugged")
	}}
	src := camera.NewSource(dev, camera.WithMetrics(testMetrics(t)))

	rec := httptest.NewRecorder()
	stream.Handler(src, stream.WithMetrics(testMetrics(t))).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/video_feed", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	ct := rec.Header().Get("Content-Type")
	if ct != stream.ContentType {
		t.Fatalf("Content-Type = %q, want %q", ct, stream.ContentType)
	}
	if !rec.Flushed {
		t.Error("response was never flushed")
	}

	var got [][]byte
	for _, part := range bytes.Split(rec.Body.Bytes(), []byte("--frame\r\n"))[1:] {
		header, body, ok := bytes.Cut(part, []byte("\r\n\r\n"))
		if !ok || string(header) != "Content-Type: image/jpeg" {
			t.Fatalf("malformed part %q", part)
		}
		if !bytes.HasSuffix(body, []byte("\r\n\r\n")) {
			t.Fatalf("part %q lacks trailing delimiter", part)
		}
		got = append(got, bytes.TrimSuffix(body, []byte("\r\n\r\n")))
	}
	if len(got) != len(frames) {
		t.Fatalf("parts = %d, want %d", len(got), len(frames))
	}
	for i := range frames {
		if !bytes.Equal(got[i], frames[i]) {
			t.Errorf("part %d = %q, want %q", i, got[i], frames[i])
		}
	}
}

func TestHandler_StopsOnDisconnect(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	reads := 0
	src := sourceFunc(func(ctx context.Context) (camera.Frame, error) {
		if err := ctx.Err(); err != nil {
			return camera.Frame{}, err
		}
		reads++
		if reads == 5 {
			cancel()
		}
		return camera.Frame{Data: []byte("x")}, nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest(http.MethodGet, "/video_feed", nil).WithContext(ctx)
		stream.Handler(src, stream.WithMetrics(testMetrics(t))).ServeHTTP(httptest.NewRecorder(), req)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after client disconnect")
	}
	if reads != 5 {
		t.Errorf("reads = %d, want 5", reads)
	}
}

func TestFrames_Interval(t *testing.T) {
	t.Parallel()

	src := sourceFunc(func(context.Context) (camera.Frame, error) {
		return camera.Frame{Data: []byte("x")}, nil
	})

	start := time.Now()
	n := 0
	for range stream.Frames(context.Background(), src, 20*time.Millisecond, nil) {
		n++
		if n == 3 {
			break
		}
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("3 frames took %v, want >= 40ms with a 20ms interval", elapsed)
	}
}

func TestFrames_ReportsStopError(t *testing.T) {
	t.Parallel()

	src := sourceFunc(func(context.Context) (camera.Frame, error) {
		return camera.Frame{}, camera.ErrUnavailable
	})
	var stop error
	for range stream.Frames(context.Background(), src, 0, &stop) {
		t.Fatal("unexpected frame")
	}
	if !errors.Is(stop, camera.ErrUnavailable) {
		t.Errorf("stop = %v, want ErrUnavailable", stop)
	}
}
