// Package audio holds the PCM helpers and output sinks used to render spoken
// narration. All PCM in this package is signed 16-bit little-endian.
package audio

import (
	"context"
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of a PCM buffer.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "22050Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Validate reports whether f can describe 16-bit PCM.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("audio: channels must be 1 or 2, got %d", f.Channels)
	}
	return nil
}

// Duration returns how long pcm plays at format f.
func (f Format) Duration(pcm []byte) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := len(pcm) / (2 * f.Channels)
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Utterance is one synthesised narration ready for playback.
type Utterance struct {
	// Text is the sentence that was synthesised.
	Text string

	// PCM holds the complete audio.
	PCM []byte

	// Format describes PCM.
	Format Format
}

// Sink renders utterances. Play blocks until the utterance has been rendered
// or ctx is cancelled. Implementations must be safe for concurrent use.
type Sink interface {
	Play(ctx context.Context, u Utterance) error
	Close() error
}
