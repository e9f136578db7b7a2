package resilience

import (
	"context"
	"log/slog"

	"github.com/MrWong99/glyphlens/pkg/audio"
	"github.com/MrWong99/glyphlens/pkg/provider/tts"
	"github.com/MrWong99/glyphlens/pkg/types"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
//
// The output format is always the primary's. Audio from a fallback with a
// different format is converted on the fly.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// SynthesizeStream returns audio from the first healthy provider. Only the
// stream setup is covered by failover; mid-stream errors are the caller's
// responsibility.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	var chosen tts.Provider
	ch, err := ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		chosen = p
		return p.SynthesizeStream(ctx, text, voice)
	})
	if err != nil {
		return nil, err
	}

	want := f.OutputFormat()
	if got := chosen.OutputFormat(); got != want {
		slog.Debug("tts fallback: converting audio", "from", got.String(), "to", want.String())
		return audio.ConvertStream(ch, got, want), nil
	}
	return ch, nil
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// OutputFormat returns the primary's format.
func (f *TTSFallback) OutputFormat() audio.Format {
	return f.group.entries[0].value.OutputFormat()
}

// States reports the breaker state of every backend by name.
func (f *TTSFallback) States() map[string]State { return f.group.States() }
