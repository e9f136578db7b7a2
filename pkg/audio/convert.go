package audio

import (
	"fmt"
	"log/slog"
)

// Convert returns pcm converted from one format to another. Resampling runs
// before channel conversion. A buffer with an odd byte count is dropped.
func Convert(pcm []byte, from, to Format) []byte {
	if len(pcm)%2 != 0 {
		slog.Warn("audio: odd byte count in PCM data, dropping buffer",
			"bytes", len(pcm),
			"format", from.String(),
		)
		return nil
	}
	if from == to {
		return pcm
	}

	if from.SampleRate != to.SampleRate {
		if from.Channels == 2 {
			pcm = ResampleStereo16(pcm, from.SampleRate, to.SampleRate)
		} else {
			pcm = ResampleMono16(pcm, from.SampleRate, to.SampleRate)
		}
	}

	switch {
	case from.Channels == 1 && to.Channels == 2:
		pcm = MonoToStereo(pcm)
	case from.Channels == 2 && to.Channels == 1:
		pcm = StereoToMono(pcm)
	}
	return pcm
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages L and R per frame, clamped to the int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, i*2))
		r := int32(sampleAt(pcm, i*2+1))
		putSample(out, i, clamp16((l+r)/2))
	}
	return out
}

// ResampleMono16 resamples mono PCM from srcRate to dstRate using linear
// interpolation. Equal or non-positive rates return the input unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample(pcm, 1, srcRate, dstRate)
}

// ResampleStereo16 is ResampleMono16 for interleaved stereo PCM.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample(pcm, 2, srcRate, dstRate)
}

func resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	frameBytes := 2 * channels
	srcFrames := len(pcm) / frameBytes
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameBytes)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

// sampleAt returns the n-th int16 sample of pcm.
func sampleAt(pcm []byte, n int) int16 {
	return int16(pcm[n*2]) | int16(pcm[n*2+1])<<8
}

func putSample(pcm []byte, n int, s int16) {
	pcm[n*2] = byte(s)
	pcm[n*2+1] = byte(s >> 8)
}

func clamp16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}

// formatString returns a human-readable string for a sample rate and channel
// count, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}

// ConvertStream converts every PCM chunk read from in and forwards it on the
// returned channel, which is closed when in closes. Odd trailing bytes are
// carried over to the next chunk so samples are never split.
func ConvertStream(in <-chan []byte, from, to Format) <-chan []byte {
	out := make(chan []byte, cap(in))
	go func() {
		defer close(out)
		var carry []byte
		for chunk := range in {
			if len(carry) > 0 {
				chunk = append(carry, chunk...)
				carry = nil
			}
			if len(chunk)%2 != 0 {
				carry = []byte{chunk[len(chunk)-1]}
				chunk = chunk[:len(chunk)-1]
			}
			if converted := Convert(chunk, from, to); len(converted) > 0 {
				out <- converted
			}
		}
	}()
	return out
}
