package audio

import (
	"github.com/gopxl/beep"
)

// PCMStreamer plays a 16-bit PCM buffer as a [beep.Streamer]. Mono input is
// duplicated onto both output channels.
type PCMStreamer struct {
	pcm      []byte
	channels int
	pos      int
}

// Compile-time interface assertion.
var _ beep.StreamSeeker = (*PCMStreamer)(nil)

// NewPCMStreamer wraps pcm recorded with the given channel count (1 or 2).
func NewPCMStreamer(pcm []byte, channels int) *PCMStreamer {
	if channels != 2 {
		channels = 1
	}
	return &PCMStreamer{pcm: pcm, channels: channels}
}

// BeepFormat converts f to the equivalent beep format at 16-bit precision.
func BeepFormat(f Format) beep.Format {
	return beep.Format{
		SampleRate:  beep.SampleRate(f.SampleRate),
		NumChannels: f.Channels,
		Precision:   2,
	}
}

// Stream implements [beep.Streamer].
func (s *PCMStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	total := s.Len()
	if s.pos >= total {
		return 0, false
	}
	for n < len(samples) && s.pos < total {
		base := s.pos * s.channels
		l := float64(sampleAt(s.pcm, base)) / 32768
		r := l
		if s.channels == 2 {
			r = float64(sampleAt(s.pcm, base+1)) / 32768
		}
		samples[n][0], samples[n][1] = l, r
		n++
		s.pos++
	}
	return n, true
}

// Err implements [beep.Streamer].
func (s *PCMStreamer) Err() error { return nil }

// Len returns the number of frames in the buffer.
func (s *PCMStreamer) Len() int { return len(s.pcm) / (2 * s.channels) }

// Position returns the current frame index.
func (s *PCMStreamer) Position() int { return s.pos }

// Seek moves to frame p, clamped to the buffer bounds.
func (s *PCMStreamer) Seek(p int) error {
	s.pos = max(0, min(p, s.Len()))
	return nil
}
