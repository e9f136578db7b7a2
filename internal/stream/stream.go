// Package stream serves camera frames as an MJPEG multipart HTTP stream.
//
// Each connection lazily pulls frames from the shared source for as long as
// the client stays connected. The stream ends as soon as the source reports a
// frame as unavailable, the client disconnects, or a write fails. Frames are
// never buffered or replayed.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"

	"github.com/MrWong99/glyphlens/internal/camera"
	"github.com/MrWong99/glyphlens/internal/observe"
)

// ContentType is the media type of the stream response.
const ContentType = "multipart/x-mixed-replace; boundary=frame"

const partHeader = "--frame\r\nContent-Type: image/jpeg\r\n\r\n"

// FrameSource produces frames on demand. [camera.Source] implements it.
type FrameSource interface {
	Acquire(ctx context.Context) (camera.Frame, error)
}

// WritePart writes one multipart part carrying jpeg to w.
func WritePart(w io.Writer, jpeg []byte) error {
	if _, err := io.WriteString(w, partHeader); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n\r\n")
	return err
}

// Frames returns a lazy sequence of frames from src. The sequence ends when ctx
// is cancelled or src fails; the error that ended it is reported through
// *stop when stop is non-nil. interval, if positive, is the minimum spacing
// between two reads.
func Frames(ctx context.Context, src FrameSource, interval time.Duration, stop *error) iter.Seq[camera.Frame] {
	return func(yield func(camera.Frame) bool) {
		for {
			start := time.Now()
			f, err := src.Acquire(ctx)
			if err != nil {
				if stop != nil {
					*stop = err
				}
				return
			}
			if !yield(f) {
				return
			}
			if interval > 0 {
				if err := sleep(ctx, interval-time.Since(start)); err != nil {
					if stop != nil {
						*stop = err
					}
					return
				}
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Option is a functional option for configuring the Handler.
type Option func(*handler)

// WithFrameInterval caps the per-connection frame rate. Zero streams as fast
// as the device delivers.
func WithFrameInterval(d time.Duration) Option {
	return func(h *handler) { h.interval = d }
}

// WithMetrics sets the metrics recorder (default [observe.DefaultMetrics]).
func WithMetrics(m *observe.Metrics) Option {
	return func(h *handler) { h.metrics = m }
}

type handler struct {
	src      FrameSource
	interval time.Duration
	metrics  *observe.Metrics
}

// Handler returns an http.Handler that streams frames from src.
func Handler(src FrameSource, opts ...Option) http.Handler {
	h := &handler{src: src}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	h.metrics.ActiveStreamClients.Add(ctx, 1)
	defer h.metrics.ActiveStreamClients.Add(context.WithoutCancel(ctx), -1)

	// The feed outlives the server's write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Debug("could not lift write deadline", "err", err)
	}

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	var (
		stop   error
		frames int
	)
	for f := range Frames(ctx, h.src, h.interval, &stop) {
		if err := WritePart(w, f.Data); err != nil {
			stop = fmt.Errorf("write part: %w", err)
			break
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			stop = fmt.Errorf("flush: %w", err)
			break
		}
		frames++
	}

	switch {
	case stop == nil, errors.Is(stop, context.Canceled):
		log.Debug("stream client disconnected", "frames", frames)
	case errors.Is(stop, camera.ErrUnavailable):
		log.Warn("stream ended, camera unavailable", "frames", frames, "err", stop)
	default:
		log.Info("stream ended", "frames", frames, "err", stop)
	}
}
