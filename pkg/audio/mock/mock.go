// Package mock provides an in-memory [audio.Sink] for unit tests.
//
// The mock is safe for concurrent use. It records every played utterance and
// exposes exported fields the test can set to control behaviour.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/glyphlens/pkg/audio"
)

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// PlayErr is returned by every Play call when non-nil.
	PlayErr error

	// PlayFunc, when set, is called instead of the default behaviour.
	PlayFunc func(ctx context.Context, u audio.Utterance) error

	// Played records every utterance passed to Play.
	Played []audio.Utterance

	// CloseCount records how many times Close was called.
	CloseCount int
}

// Compile-time interface assertion.
var _ audio.Sink = (*Sink)(nil)

// Play implements [audio.Sink].
func (s *Sink) Play(ctx context.Context, u audio.Utterance) error {
	s.mu.Lock()
	s.Played = append(s.Played, u)
	fn, err := s.PlayFunc, s.PlayErr
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, u)
	}
	return err
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	return nil
}

// Texts returns the text of every played utterance in order.
func (s *Sink) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Played))
	for i, u := range s.Played {
		out[i] = u.Text
	}
	return out
}
