// Package speaker renders narration on the local sound card through
// github.com/gopxl/beep/speaker.
//
// The beep speaker is a process-wide singleton; create at most one Sink.
package speaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"

	"github.com/MrWong99/glyphlens/pkg/audio"
)

const (
	defaultSampleRate = 44100
	defaultBuffer     = 100 * time.Millisecond
)

// Option is a functional option for [New].
type Option func(*Sink)

// WithSampleRate sets the device sample rate. Utterances are resampled to it.
func WithSampleRate(rate int) Option {
	return func(s *Sink) {
		if rate > 0 {
			s.format.SampleRate = rate
		}
	}
}

// WithBuffer sets the device buffer length. Larger buffers trade latency for
// fewer underruns.
func WithBuffer(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.buffer = d
		}
	}
}

// Sink implements [audio.Sink] on the default output device. Utterances are
// played one at a time in call order.
type Sink struct {
	mu     sync.Mutex
	format audio.Format
	buffer time.Duration
	closed bool
}

// Compile-time interface assertion.
var _ audio.Sink = (*Sink)(nil)

// New initialises the output device and returns a Sink.
func New(opts ...Option) (*Sink, error) {
	s := &Sink{
		format: audio.Format{SampleRate: defaultSampleRate, Channels: 2},
		buffer: defaultBuffer,
	}
	for _, o := range opts {
		o(s)
	}
	sr := beep.SampleRate(s.format.SampleRate)
	if err := speaker.Init(sr, sr.N(s.buffer)); err != nil {
		return nil, fmt.Errorf("speaker: init: %w", err)
	}
	return s, nil
}

// Play implements [audio.Sink]. It returns once the utterance has finished
// playing, or with ctx.Err() after cutting playback short.
func (s *Sink) Play(ctx context.Context, u audio.Utterance) error {
	if err := u.Format.Validate(); err != nil {
		return fmt.Errorf("speaker: %w", err)
	}
	pcm := audio.Convert(u.PCM, u.Format, s.format)
	if len(pcm) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("speaker: sink closed")
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(
		audio.NewPCMStreamer(pcm, s.format.Channels),
		beep.Callback(func() { close(done) }),
	))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// Close implements [audio.Sink] and releases the output device.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	speaker.Close()
	return nil
}
