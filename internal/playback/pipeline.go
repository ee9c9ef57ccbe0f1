package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxlate/voxlate/internal/event"
	"github.com/voxlate/voxlate/internal/observe"
	"github.com/voxlate/voxlate/pkg/audio"
)

// DefaultLeadIn is the startup latency applied when scheduling resumes from
// an idle timeline. It gives the device a small head start so the first
// frame of an utterance is not already late by the time it renders.
const DefaultLeadIn = 50 * time.Millisecond

// DefaultBlockSize is the render block size in samples (20ms at the
// playback rate).
const DefaultBlockSize = audio.PlaybackRate / 50

// levelInterval is how often the output VU level is published.
const levelInterval = 100 * time.Millisecond

// Device is the output half of an audio device: it repeatedly invokes the
// render callback to pull blocks of samples. Implementations must stop
// calling render once Stop returns.
type Device interface {
	// Start begins pulling audio through render. Calling Start on a running
	// device is an error.
	Start(render func(out []int16)) error

	// Stop halts rendering. The device may be started again.
	Stop() error

	// Close releases the device. The device must be stopped first.
	Close() error
}

// Config configures a playback [Pipeline]. The zero value is usable: defaults
// are filled in by [New].
type Config struct {
	// SampleRate of the inbound stream and the output device.
	// Default: [audio.PlaybackRate].
	SampleRate int

	// BlockSize is the render block size in samples. Default: DefaultBlockSize.
	BlockSize int

	// LeadIn is the startup latency applied when scheduling from idle.
	// Default: DefaultLeadIn.
	LeadIn time.Duration

	// PadLoop is the ambient bed, as PCM16 at SampleRate. When nil the
	// built-in generated bed is used.
	PadLoop []int16

	// PadVolume is the initial pad gain, clamped to [0, MaxPadVolume].
	PadVolume float64

	// Device is the output device. When nil a PortAudio device is opened
	// lazily on the first Resume.
	Device Device

	// Metrics is optional; nil disables recording.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Pipeline renders the inbound interpreted-speech stream: decoded frames are
// placed on the gapless scheduler, pulled by the device render callback,
// scaled by the master gain, mixed with the ambient pad, and metered.
//
// The pipeline survives capture sessions: Stop suspends the device but keeps
// pad and mute state, and Resume restores rendering exactly as it was.
type Pipeline struct {
	cfg    Config
	log    *slog.Logger
	sched  *Scheduler
	pad    *Pad
	gain   *gainControl
	meter  audio.Meter
	levels event.Stream[float64]

	mu      sync.Mutex
	device  Device
	running bool
	closed  bool

	done     chan struct{}
	tickerWG sync.WaitGroup

	lastUnderruns int64
}

// New creates a playback pipeline. The device is not started; call Resume.
func New(cfg Config) *Pipeline {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.PlaybackRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.LeadIn <= 0 {
		cfg.LeadIn = DefaultLeadIn
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	loop := cfg.PadLoop
	if loop == nil {
		loop = GeneratePad(cfg.SampleRate)
	}

	leadSamples := int(cfg.LeadIn.Seconds() * float64(cfg.SampleRate))
	p := &Pipeline{
		cfg:   cfg,
		log:   cfg.Logger,
		sched: NewScheduler(cfg.SampleRate*2, leadSamples),
		pad:   NewPad(loop, cfg.PadVolume),
		gain:  newGainControl(1),
		done:  make(chan struct{}),
	}

	p.tickerWG.Add(1)
	go p.publishLevels()
	return p
}

// Resume starts (or restarts) the output device. Idempotent: resuming a
// running pipeline is a no-op. Pad and mute state carry across suspensions
// untouched.
func (p *Pipeline) Resume(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("playback pipeline is closed")
	}
	if p.running {
		return nil
	}

	if p.device == nil {
		dev, err := openOutputDevice(ctx, p.cfg.SampleRate, p.cfg.BlockSize)
		if err != nil {
			return fmt.Errorf("opening output device: %w", err)
		}
		p.device = dev
	}
	if err := p.device.Start(p.render); err != nil {
		return fmt.Errorf("starting output device: %w", err)
	}
	p.running = true
	p.log.Debug("playback resumed", "sample_rate", p.cfg.SampleRate, "block_size", p.cfg.BlockSize)
	return nil
}

// Stop suspends the output device without discarding control state. The
// scheduler, pad position, pad enablement and mute setting all survive, so a
// later Resume picks up where Stop left off.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	p.running = false
	if err := p.device.Stop(); err != nil {
		return fmt.Errorf("stopping output device: %w", err)
	}
	p.log.Debug("playback suspended")
	return nil
}

// Close stops the device, releases it and terminates the level publisher.
// The pipeline cannot be used afterwards.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var err error
	if p.running {
		p.running = false
		err = p.device.Stop()
	}
	if p.device != nil {
		if cerr := p.device.Close(); err == nil {
			err = cerr
		}
	}
	p.mu.Unlock()

	close(p.done)
	p.tickerWG.Wait()
	return err
}

// EnqueueEncoded decodes a base64 frame and schedules it. Malformed frames
// are dropped with a warning; the stream itself keeps playing.
func (p *Pipeline) EnqueueEncoded(data string) error {
	pcm, err := audio.DecodeFrame(data)
	if err != nil {
		p.log.Warn("dropping malformed playback frame", "error", err, "len", len(data))
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.FramesDropped.Add(context.Background(), 1)
		}
		return err
	}
	p.EnqueuePCM(pcm)
	return nil
}

// EnqueuePCM schedules raw PCM16 little-endian bytes for gapless playback.
func (p *Pipeline) EnqueuePCM(pcm []byte) {
	samples := audio.BytesToInt16(pcm)
	readPos := p.sched.ReadPos()
	start := p.sched.Enqueue(samples)

	if p.cfg.Metrics != nil {
		ctx := context.Background()
		p.cfg.Metrics.FramesPlayed.Add(ctx, 1)
		latency := float64(start-readPos) / float64(p.cfg.SampleRate)
		if latency >= 0 {
			p.cfg.Metrics.EnqueueLatency.Record(ctx, latency)
		}
	}
}

// Flush discards all scheduled-but-unplayed audio, typically because the
// speaker barged in and the pending interpretation is now stale.
func (p *Pipeline) Flush() {
	p.sched.Flush()
	p.log.Debug("playback flushed")
}

// SetMuted toggles the binary output mute. Unmuting restores the exact gain
// active before the mute.
func (p *Pipeline) SetMuted(muted bool) { p.gain.SetMuted(muted) }

// Muted reports the mute state.
func (p *Pipeline) Muted() bool { return p.gain.Muted() }

// SetPadEnabled enables or disables the ambient pad. Enabling an already
// looping pad is a no-op.
func (p *Pipeline) SetPadEnabled(enabled bool) {
	if enabled {
		p.pad.Start()
	} else {
		p.pad.Stop()
	}
}

// PadEnabled reports whether the pad is mixed into the output.
func (p *Pipeline) PadEnabled() bool { return p.pad.Enabled() }

// SetPadVolume sets the pad gain, clamped to [0, MaxPadVolume].
func (p *Pipeline) SetPadVolume(v float64) { p.pad.SetVolume(v) }

// PadVolume returns the current pad gain.
func (p *Pipeline) PadVolume() float64 { return p.pad.Volume() }

// Level returns the current output VU level in [0, 1], measured after gain
// and pad mixing.
func (p *Pipeline) Level() float64 { return p.meter.Level() }

// Running reports whether the output device is rendering.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Levels returns the stream of periodic output VU readings.
func (p *Pipeline) Levels() *event.Stream[float64] { return &p.levels }

// Buffered returns the amount of scheduled, unplayed audio.
func (p *Pipeline) Buffered() time.Duration {
	samples := p.sched.Buffered()
	return time.Duration(samples) * time.Second / time.Duration(p.cfg.SampleRate)
}

// render is the device callback: scheduled speech, then master gain, then
// the pad, then metering. Runs on the real-time thread.
func (p *Pipeline) render(out []int16) {
	p.sched.ReadBlock(out)
	p.gain.apply(out)
	p.pad.Mix(out)
	p.meter.ProcessInt16(out)
}

// publishLevels periodically publishes the output VU level and drains the
// scheduler's underrun count into metrics, keeping instrument recording off
// the render thread.
func (p *Pipeline) publishLevels() {
	defer p.tickerWG.Done()
	ticker := time.NewTicker(levelInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.levels.Publish(p.meter.Level())

			if p.cfg.Metrics != nil {
				if u := p.sched.Underruns(); u > p.lastUnderruns {
					p.cfg.Metrics.PlaybackUnderruns.Add(context.Background(),
						u-p.lastUnderruns,
						metric.WithAttributes(attribute.String("cause", "late_frame")))
					p.lastUnderruns = u
				}
			}
		}
	}
}
