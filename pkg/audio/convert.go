package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Converter normalises Frames to a target format. It logs a warning on the
// first format mismatch and validates PCM alignment. Create one per stream;
// not designed for shared use across goroutines.
type Converter struct {
	Target Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a frame to the target format. If the source already
// matches the target, the frame is returned unchanged with zero allocation.
// Resampling happens before channel conversion so stereo input is never
// resampled twice. Frames with misaligned PCM produce an empty Data slice;
// callers drop those.
func (c *Converter) Convert(frame Frame) Frame {
	if len(frame.Data)%BytesPerSample != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sampleRate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return Frame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels}
	}

	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", describeFormat(frame.SampleRate, frame.Channels),
			"to", describeFormat(c.Target.SampleRate, c.Target.Channels),
		)
	})

	pcm := frame.Data
	rate := frame.SampleRate
	channels := frame.Channels

	if rate != c.Target.SampleRate {
		pcm = Resample16(pcm, channels, rate, c.Target.SampleRate)
		rate = c.Target.SampleRate
	}

	if channels == 2 && c.Target.Channels == 1 {
		pcm = StereoToMono(pcm)
		channels = 1
	} else if channels == 1 && c.Target.Channels == 2 {
		pcm = MonoToStereo(pcm)
		channels = 2
	}

	return Frame{Data: pcm, SampleRate: rate, Channels: channels}
}

// StereoToMono averages the L+R pair of each stereo frame into a single mono
// sample. Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// Resample16 resamples interleaved PCM16 from srcRate to dstRate using linear
// interpolation, preserving the channel count. If srcRate == dstRate or the
// input is shorter than one frame, the input is returned unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if channels <= 0 || srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	stride := channels * BytesPerSample
	if srcRate == dstRate || len(pcm) < stride {
		return pcm
	}

	srcFrames := len(pcm) / stride
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*stride)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		for ch := range channels {
			off := srcIdx*stride + ch*BytesPerSample
			s0 := int16(pcm[off]) | int16(pcm[off+1])<<8
			s1 := s0
			if srcIdx+1 < srcFrames {
				next := off + stride
				s1 = int16(pcm[next]) | int16(pcm[next+1])<<8
			}

			v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
			dst := i*stride + ch*BytesPerSample
			out[dst] = byte(v)
			out[dst+1] = byte(v >> 8)
		}
	}
	return out
}

// describeFormat returns a human-readable label for a sample rate and channel
// count, e.g. "48000Hz stereo".
func describeFormat(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
