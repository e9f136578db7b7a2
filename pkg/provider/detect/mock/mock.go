// Package mock provides a test double for the detect.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/glyphlens/pkg/provider/detect"
	"github.com/MrWong99/glyphlens/pkg/types"
)

// Provider is a mock implementation of detect.Provider.
type Provider struct {
	mu sync.Mutex

	// DetectFunc, if set, takes precedence over Result / Err.
	DetectFunc func(ctx context.Context, jpeg []byte) (types.DetectionResult, error)

	// Result is returned by Detect.
	Result types.DetectionResult

	// Err, if non-nil, is returned by Detect.
	Err error

	// Frames records the bytes of every frame passed to Detect.
	Frames [][]byte
}

// Compile-time interface assertion.
var _ detect.Provider = (*Provider)(nil)

// Detect records the frame and returns the configured result.
func (p *Provider) Detect(ctx context.Context, jpeg []byte) (types.DetectionResult, error) {
	p.mu.Lock()
	p.Frames = append(p.Frames, append([]byte(nil), jpeg...))
	fn, res, err := p.DetectFunc, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, jpeg)
	}
	return res, err
}

// CallCount returns the number of Detect calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Frames)
}
