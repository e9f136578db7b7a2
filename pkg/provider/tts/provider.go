// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (ElevenLabs, a local Coqui
// server) and presents a uniform streaming interface: text fragments go in,
// raw 16-bit PCM chunks come out in [Provider.OutputFormat].
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/glyphlens/pkg/audio"
	"github.com/MrWong99/glyphlens/pkg/types"
)

// ErrNoAudio is returned by [Synthesize] when the provider closed its stream
// without producing any PCM.
var ErrNoAudio = errors.New("tts: no audio produced")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and returns
	// a channel that emits raw PCM chunks as they are synthesised.
	//
	// The returned channel is closed when all text has been synthesised or when
	// ctx is cancelled. The caller must drain it to avoid blocking the provider's
	// goroutines. Errors during synthesis close the channel early; callers should
	// check ctx.Err() to distinguish cancellation from provider errors.
	//
	// Returns a non-nil error only if the stream cannot be started. A failure
	// that ends the stream early is passed to [ReportError] before the
	// channel is closed.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)

	// OutputFormat describes the PCM emitted by SynthesizeStream.
	OutputFormat() audio.Format
}

// Synthesize runs a single sentence through p and collects the whole PCM
// buffer.
func Synthesize(ctx context.Context, p Provider, text string, voice types.VoiceProfile) ([]byte, error) {
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	ctx, streamErr := WithErrorRecorder(ctx)
	audioCh, err := p.SynthesizeStream(ctx, textCh, voice)
	if err != nil {
		return nil, fmt.Errorf("tts: start synthesis: %w", err)
	}

	var pcm []byte
	for chunk := range audioCh {
		if ctx.Err() != nil {
			audio.Drain(audioCh)
			break
		}
		pcm = append(pcm, chunk...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := streamErr(); err != nil {
		return nil, fmt.Errorf("tts: synthesis: %w", err)
	}
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}
	return pcm, nil
}

// ── Stream errors ────────────────────────────────────────────────────────────

type errorRecorderKey struct{}

type errorRecorder struct {
	mu  sync.Mutex
	err error
}

// WithErrorRecorder returns a context that collects stream failures reported
// with [ReportError], and a function returning the first of them. Call it
// after the audio channel has been closed.
func WithErrorRecorder(ctx context.Context) (context.Context, func() error) {
	rec := &errorRecorder{}
	return context.WithValue(ctx, errorRecorderKey{}, rec), func() error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.err
	}
}

// ReportError records err as the reason a synthesis stream started with ctx
// ended early. Only the first error is kept. Errors caused by ctx itself
// being cancelled are ignored, as is a ctx without a recorder.
func ReportError(ctx context.Context, err error) {
	if err == nil || ctx.Err() != nil {
		return
	}
	rec, ok := ctx.Value(errorRecorderKey{}).(*errorRecorder)
	if !ok {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.err == nil {
		rec.err = err
	}
}

// ── Voices ───────────────────────────────────────────────────────────────────

// HasVoice reports whether p lists a voice whose ID or Name equals id.
func HasVoice(ctx context.Context, p Provider, id string) (bool, error) {
	voices, err := p.ListVoices(ctx)
	if err != nil {
		return false, fmt.Errorf("tts: list voices: %w", err)
	}
	for _, v := range voices {
		if v.ID == id || v.Name == id {
			return true, nil
		}
	}
	return false, nil
}

// WithVoice wraps p so that every synthesis uses voice instead of the voice the
// caller passed. An empty Language in voice inherits the caller's language.
// Fallback chains use it to give each backend a voice id it understands.
func WithVoice(p Provider, voice types.VoiceProfile) Provider {
	if voice.ID == "" {
		return p
	}
	return &fixedVoice{Provider: p, voice: voice}
}

type fixedVoice struct {
	Provider
	voice types.VoiceProfile
}

func (f *fixedVoice) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	v := f.voice
	if v.Language == "" {
		v.Language = voice.Language
	}
	return f.Provider.SynthesizeStream(ctx, text, v)
}
