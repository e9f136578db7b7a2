// Package wavfile provides an [audio.Sink] that writes every utterance to its
// own WAV file. It is useful on headless hosts and for auditing narration.
package wavfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gopxl/beep/wav"

	"github.com/MrWong99/glyphlens/pkg/audio"
)

// Sink implements [audio.Sink] by encoding utterances into a directory.
type Sink struct {
	dir string
	now func() time.Time

	mu      sync.Mutex
	written []string
}

// Compile-time interface assertion.
var _ audio.Sink = (*Sink)(nil)

// Option is a functional option for [New].
type Option func(*Sink)

// WithClock overrides the clock used for file names.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// New creates dir if needed and returns a Sink writing into it.
func New(dir string, opts ...Option) (*Sink, error) {
	if dir == "" {
		return nil, fmt.Errorf("wavfile: dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wavfile: create dir: %w", err)
	}
	s := &Sink{dir: dir, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Play implements [audio.Sink].
func (s *Sink) Play(ctx context.Context, u audio.Utterance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := u.Format.Validate(); err != nil {
		return fmt.Errorf("wavfile: %w", err)
	}

	name := fmt.Sprintf("narration-%s-%s.wav",
		s.now().UTC().Format("20060102T150405.000"), uuid.NewString()[:8])
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wavfile: create %s: %w", name, err)
	}
	streamer := audio.NewPCMStreamer(u.PCM, u.Format.Channels)
	if err := wav.Encode(f, streamer, audio.BeepFormat(u.Format)); err != nil {
		f.Close()
		return fmt.Errorf("wavfile: encode %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("wavfile: close %s: %w", name, err)
	}

	s.mu.Lock()
	s.written = append(s.written, path)
	s.mu.Unlock()
	return nil
}

// Written returns the paths of all files written so far.
func (s *Sink) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

// Close implements [audio.Sink].
func (s *Sink) Close() error { return nil }
