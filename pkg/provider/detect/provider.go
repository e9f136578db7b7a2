// Package detect defines the Provider interface for frame detection backends.
//
// A detection provider inspects one JPEG-encoded camera frame and reports the
// text it recognised and the objects it labelled. Backends range from local
// OCR (Tesseract) and object detection (YOLO via OpenCV DNN) to a remote
// vision-capable LLM.
//
// Implementations must be safe for concurrent use.
package detect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/glyphlens/pkg/types"
)

// ErrNoDetector is returned by [NewMulti] when no member is supplied.
var ErrNoDetector = errors.New("detect: no detector configured")

// Provider is the abstraction over any detection backend.
type Provider interface {
	// Detect analyses a JPEG-encoded frame. An empty result with a nil error
	// means nothing was found. Errors mean the backend could not analyse the
	// frame at all; callers treat them as "no detection this cycle".
	Detect(ctx context.Context, jpeg []byte) (types.DetectionResult, error)
}

// Named pairs a provider with the name it was configured under.
type Named struct {
	Name     string
	Provider Provider
}

// Multi fans a frame out to several providers in configuration order and merges
// their results. Texts are joined by newline; labels are concatenated.
type Multi struct {
	members []Named
}

// Compile-time interface assertion.
var _ Provider = (*Multi)(nil)

// NewMulti combines members into a single Provider.
func NewMulti(members ...Named) (*Multi, error) {
	if len(members) == 0 {
		return nil, ErrNoDetector
	}
	return &Multi{members: members}, nil
}

// Detect implements Provider. A failing member only drops its own
// contribution. The call fails only when every member fails.
func (m *Multi) Detect(ctx context.Context, jpeg []byte) (types.DetectionResult, error) {
	var (
		texts  []string
		labels []string
		errs   []error
	)
	for _, member := range m.members {
		res, err := member.Provider.Detect(ctx, jpeg)
		if err != nil {
			slog.Warn("detector failed", "detector", member.Name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", member.Name, err))
			continue
		}
		if t := strings.TrimSpace(res.Text); t != "" {
			texts = append(texts, t)
		}
		labels = append(labels, res.Labels...)
	}
	if len(errs) == len(m.members) {
		return types.DetectionResult{}, fmt.Errorf("detect: all detectors failed: %w", errors.Join(errs...))
	}
	return types.DetectionResult{Text: strings.Join(texts, "\n"), Labels: labels}, nil
}

// Names returns the member names in order.
func (m *Multi) Names() []string {
	out := make([]string, len(m.members))
	for i, member := range m.members {
		out[i] = member.Name
	}
	return out
}

// Close closes every member that implements [io.Closer].
func (m *Multi) Close() error {
	var errs []error
	for _, member := range m.members {
		if c, ok := member.Provider.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", member.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}
