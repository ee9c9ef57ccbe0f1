// Package encoder turns the raw capture stream into the fixed-duration
// transport frames the interpretation backend expects: PCM16 little-endian,
// 16 kHz mono, base64-encoded, with a VU reading published alongside so a
// meter can show that the microphone is alive.
package encoder

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxlate/voxlate/internal/event"
	"github.com/voxlate/voxlate/internal/observe"
	"github.com/voxlate/voxlate/pkg/audio"
	"github.com/voxlate/voxlate/pkg/interp"
)

// DefaultFrameDuration is the transport frame length when none is configured.
const DefaultFrameDuration = 100 * time.Millisecond

// Chunk is one encoded transport frame.
type Chunk struct {
	// MIME identifies the payload encoding, e.g. "audio/pcm;rate=16000".
	MIME string

	// Data is the base64-encoded PCM16 payload.
	Data string
}

// Config configures a Pipeline.
type Config struct {
	// FrameDuration is the fixed length of emitted frames.
	// Default: DefaultFrameDuration.
	FrameDuration time.Duration

	// Metrics is optional; nil disables recording.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Pipeline re-chunks capture audio into fixed-duration encoded frames.
// Input blocks may arrive in any size, rate and channel count; output frames
// are always exactly FrameDuration of 16 kHz mono. A partial frame left in
// the accumulator when the input ends is discarded, never padded.
type Pipeline struct {
	cfg        Config
	log        *slog.Logger
	frameBytes int

	meter  audio.Meter
	frames event.Stream[Chunk]
	levels event.Stream[float64]
}

// New creates an encoding pipeline. Call Consume to process a capture
// stream; subscribers registered on Frames and Levels receive output for
// every stream consumed by this pipeline.
func New(cfg Config) *Pipeline {
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = DefaultFrameDuration
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	samples := int(cfg.FrameDuration.Seconds() * audio.CaptureRate)
	return &Pipeline{
		cfg:        cfg,
		log:        cfg.Logger,
		frameBytes: samples * audio.BytesPerSample,
	}
}

// Frames is the stream of encoded transport frames.
func (p *Pipeline) Frames() *event.Stream[Chunk] { return &p.frames }

// Levels is the stream of capture VU readings, one per input block.
func (p *Pipeline) Levels() *event.Stream[float64] { return &p.levels }

// Level returns the current capture VU reading in [0, 1].
func (p *Pipeline) Level() float64 { return p.meter.Level() }

// Consume processes one capture stream until the channel closes, publishing
// encoded frames and VU readings. It blocks; run it on its own goroutine.
// On return the meter is reset and a zero level is published so meters fall
// back to silence.
func (p *Pipeline) Consume(in <-chan audio.Frame) {
	conv := audio.Converter{Target: audio.Format{
		SampleRate: audio.CaptureRate,
		Channels:   1,
	}}

	var buf []byte
	encoded := 0
	for frame := range in {
		f := conv.Convert(frame)
		if len(f.Data) == 0 {
			continue
		}

		p.levels.Publish(p.meter.Process(f.Data))

		buf = append(buf, f.Data...)
		for len(buf) >= p.frameBytes {
			data := audio.EncodeFrame(buf[:p.frameBytes])
			buf = append(buf[:0], buf[p.frameBytes:]...)

			p.frames.Publish(Chunk{MIME: interp.AudioMIMEType, Data: data})
			encoded++
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.FramesEncoded.Add(context.Background(), 1)
			}
		}
	}

	if len(buf) > 0 {
		p.log.Debug("discarding partial tail frame", "bytes", len(buf))
	}
	p.meter.Reset()
	p.levels.Publish(0)
	p.log.Debug("capture stream drained", "frames_encoded", encoded)
}
