package narration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/glyphlens/internal/observe"
	"github.com/MrWong99/glyphlens/pkg/audio"
	"github.com/MrWong99/glyphlens/pkg/provider/tts"
	"github.com/MrWong99/glyphlens/pkg/types"
)

// Speaker renders a narration sentence as audio.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// SpeakerFunc adapts an ordinary function to the Speaker interface.
type SpeakerFunc func(ctx context.Context, text string) error

// Speak calls f.
func (f SpeakerFunc) Speak(ctx context.Context, text string) error { return f(ctx, text) }

// Voice synthesises text with a TTS provider and plays it on an audio sink.
type Voice struct {
	tts     tts.Provider
	sink    audio.Sink
	voice   types.VoiceProfile
	metrics *observe.Metrics
}

// Compile-time interface assertion.
var _ Speaker = (*Voice)(nil)

// VoiceOption is a functional option for configuring a Voice.
type VoiceOption func(*Voice)

// WithVoiceMetrics sets the metrics recorder (default [observe.DefaultMetrics]).
func WithVoiceMetrics(m *observe.Metrics) VoiceOption {
	return func(v *Voice) { v.metrics = m }
}

// NewVoice creates a Voice speaking with profile.
func NewVoice(p tts.Provider, sink audio.Sink, profile types.VoiceProfile, opts ...VoiceOption) (*Voice, error) {
	if p == nil {
		return nil, errors.New("narration: tts provider must not be nil")
	}
	if sink == nil {
		return nil, errors.New("narration: audio sink must not be nil")
	}
	v := &Voice{tts: p, sink: sink, voice: profile}
	for _, o := range opts {
		o(v)
	}
	if v.metrics == nil {
		v.metrics = observe.DefaultMetrics()
	}
	return v, nil
}

// Speak synthesises text and blocks until playback finished.
func (v *Voice) Speak(ctx context.Context, text string) error {
	start := time.Now()
	defer func() {
		v.metrics.SpeechDuration.Record(ctx, time.Since(start).Seconds())
	}()

	pcm, err := tts.Synthesize(ctx, v.tts, text, v.voice)
	if err != nil {
		v.metrics.RecordProviderError(ctx, "voice", "tts")
		return fmt.Errorf("narration: synthesize: %w", err)
	}
	if err := v.sink.Play(ctx, audio.Utterance{Text: text, PCM: pcm, Format: v.tts.OutputFormat()}); err != nil {
		return fmt.Errorf("narration: play: %w", err)
	}
	return nil
}
