// Package session coordinates one interpretation session end to end: it
// owns the provider connection, moves encoded capture frames out and
// synthesised speech back in, and keeps playback state consistent across
// capture mode switches, barge-ins and shutdown.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxlate/voxlate/internal/capture"
	"github.com/voxlate/voxlate/internal/encoder"
	"github.com/voxlate/voxlate/internal/observe"
	"github.com/voxlate/voxlate/internal/playback"
	"github.com/voxlate/voxlate/pkg/audio"
	"github.com/voxlate/voxlate/pkg/interp"
)

// ErrNoCapture is returned by operations that need a live capture session
// when none is running.
var ErrNoCapture = errors.New("no active capture session")

// Config carries the per-session settings.
type Config struct {
	// Session is passed to the provider on connect.
	Session interp.SessionConfig

	// FrameDuration is the outbound transport frame length.
	FrameDuration time.Duration

	// InputDevice optionally names the microphone device.
	InputDevice string

	// LoopbackDevice optionally names the system-audio loopback device used
	// for screen shares.
	LoopbackDevice string

	// Display is the display index for screen-share stills.
	Display int
}

// Deps are the coordinator's collaborators. Provider and Playback are
// required.
type Deps struct {
	Provider interp.Provider
	Playback *playback.Pipeline

	// OpenCapture defaults to capture.Open. Tests substitute a fake.
	OpenCapture func(ctx context.Context, opts capture.Options) (capture.Source, error)

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Coordinator runs one interpretation session. At most one capture source is
// live at a time; starting a new one supersedes the old. Stopping capture
// leaves playback running so in-flight interpretation finishes audibly.
//
// All methods are safe for concurrent use.
type Coordinator struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	enc  *encoder.Pipeline
	play *playback.Pipeline

	// opMu serialises the capture lifecycle operations (start, stop, close)
	// so they can wait for the encoder goroutine to drain without holding
	// mu — the outbound frame subscriber takes mu on every publish, so
	// waiting under mu would deadlock against buffered frames.
	opMu sync.Mutex

	// onDucking receives every new source-ducking volume so a host
	// application can lower an embedded media source out of band. This
	// pipeline never mixes that source itself.
	onDucking  func(float64)
	duckingVol float64

	mu      sync.Mutex
	sess    interp.Session
	src     capture.Source
	srcDone chan struct{}
	closed  bool

	reconn *Reconnector
	g      *errgroup.Group
	runCtx context.Context
	cancel context.CancelFunc
}

// New creates a coordinator. Call Connect before starting capture.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("session: provider is required")
	}
	if deps.Playback == nil {
		return nil, fmt.Errorf("session: playback pipeline is required")
	}
	if deps.OpenCapture == nil {
		deps.OpenCapture = capture.Open
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	c := &Coordinator{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger,
		play: deps.Playback,
		enc: encoder.New(encoder.Config{
			FrameDuration: cfg.FrameDuration,
			Metrics:       deps.Metrics,
			Logger:        deps.Logger,
		}),
	}
	return c, nil
}

// OnDuckingChange registers the observer for source-ducking volume changes.
func (c *Coordinator) OnDuckingChange(fn func(volume float64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDucking = fn
}

// SetSourceDuckingVolume stores the volume an externally embedded media
// source should reduce itself to while interpretation plays, and relays it
// to the registered observer. The value is advisory: this pipeline never
// touches the source's audio.
func (c *Coordinator) SetSourceDuckingVolume(v float64) {
	v = min(max(v, 0), 1)
	c.mu.Lock()
	c.duckingVol = v
	fn := c.onDucking
	c.mu.Unlock()
	if fn != nil {
		fn(v)
	}
}

// SourceDuckingVolume returns the last value set.
func (c *Coordinator) SourceDuckingVolume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duckingVol
}

// Connect dials the interpretation provider and wires the inbound path:
// synthesised speech flows to playback, a provider-side barge-in flushes
// pending audio, and connection close suspends the output device. Sessions
// dropped mid-conversation are redialled with backoff; the coordinator
// swaps the fresh session in underneath the running capture.
func (c *Coordinator) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("session: coordinator is closed")
	}
	if c.sess != nil {
		return fmt.Errorf("session: already connected")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, runCtx := errgroup.WithContext(runCtx)
	c.g, c.runCtx, c.cancel = g, runCtx, cancel

	c.reconn = NewReconnector(ReconnectorConfig{
		Provider:  c.deps.Provider,
		Session:   c.cfg.Session,
		OnSession: c.adoptSession,
		Logger:    c.log,
	})

	sess, err := c.reconn.Connect(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("connecting interpretation provider: %w", err)
	}

	// Outbound: every encoded frame goes to whichever session is live.
	// The subscription is permanent; capture sources and redialled sessions
	// come and go underneath it.
	c.enc.Frames().Subscribe(func(chunk encoder.Chunk) {
		c.mu.Lock()
		live := c.sess
		c.mu.Unlock()
		if live == nil {
			return
		}
		if err := live.SendAudio(chunk.Data); err != nil {
			c.log.Debug("dropping outbound frame", "error", err)
		}
	})

	c.adoptSessionLocked(sess)
	c.reconn.Monitor(runCtx)
	return nil
}

// adoptSession installs a (re)dialled session. Used as the reconnector's
// OnSession callback.
func (c *Coordinator) adoptSession(sess interp.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = sess.Close()
		return
	}
	c.adoptSessionLocked(sess)
}

func (c *Coordinator) adoptSessionLocked(sess interp.Session) {
	c.sess = sess

	sess.OnOpen(func() {
		c.log.Info("interpretation session open")
		if err := c.play.Resume(context.Background()); err != nil {
			c.log.Error("resuming playback", "error", err)
		}
	})
	sess.OnInterrupted(func() {
		c.log.Debug("interpretation interrupted, flushing pending playback")
		c.play.Flush()
	})
	sess.OnClose(func(err error) {
		if err != nil {
			c.log.Warn("interpretation session closed", "error", err)
			c.reconn.NotifyDisconnect()
		} else {
			c.log.Info("interpretation session closed")
		}
		if serr := c.play.Stop(); serr != nil {
			c.log.Error("suspending playback", "error", serr)
		}
	})

	// Inbound: decoded PCM from the provider is scheduled gaplessly. The
	// channel is always consumed to close, even after cancellation, so the
	// provider's receive goroutine never stalls on a full buffer mid-close.
	runCtx := c.runCtx
	c.g.Go(func() error {
		defer audio.Drain(sess.Audio())
		for {
			select {
			case <-runCtx.Done():
				return nil
			case pcm, ok := <-sess.Audio():
				if !ok {
					return nil
				}
				c.play.EnqueuePCM(pcm)
			}
		}
	})
}

// StartMicrophone begins streaming the microphone. Any live capture source
// is superseded.
func (c *Coordinator) StartMicrophone(ctx context.Context) error {
	return c.startCapture(ctx, capture.Options{
		Mode:   capture.ModeMicrophone,
		Device: c.cfg.InputDevice,
	})
}

// StartScreenShare begins streaming system audio and makes display stills
// available via SendStill. Any live capture source is superseded.
func (c *Coordinator) StartScreenShare(ctx context.Context) error {
	return c.startCapture(ctx, capture.Options{
		Mode:    capture.ModeDisplay,
		Device:  c.cfg.LoopbackDevice,
		Display: c.cfg.Display,
	})
}

func (c *Coordinator) startCapture(ctx context.Context, opts capture.Options) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	closed, connected := c.closed, c.sess != nil
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("session: coordinator is closed")
	}
	if !connected {
		return fmt.Errorf("session: not connected")
	}

	c.stopCapture()

	opts.Logger = c.log
	opts.Metrics = c.deps.Metrics
	src, err := c.deps.OpenCapture(ctx, opts)
	if err != nil {
		return fmt.Errorf("starting %s capture: %w", opts.Mode, err)
	}
	c.log.Info("capture started", "mode", opts.Mode, "capture_id", src.ID())

	if c.deps.Metrics != nil {
		c.deps.Metrics.ActiveSessions.Add(context.Background(), 1)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.src, c.srcDone = src, done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.enc.Consume(src.Frames())
	}()
	return nil
}

// Stop ends the live capture session. Playback keeps running so already
// delivered interpretation plays out.
func (c *Coordinator) Stop() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.stopCapture()
	return nil
}

// stopCapture releases the capture source and waits for the encoder to
// drain its stream, so a superseding source never interleaves frames with
// the old one. Callers hold opMu, never mu: the drain only finishes once
// the frame subscriber has published every buffered chunk, and each publish
// takes mu.
func (c *Coordinator) stopCapture() {
	c.mu.Lock()
	src, done := c.src, c.srcDone
	c.src, c.srcDone = nil, nil
	c.mu.Unlock()
	if src == nil {
		return
	}

	if err := src.Stop(); err != nil {
		c.log.Error("stopping capture", "error", err)
	}
	<-done

	if c.deps.Metrics != nil {
		c.deps.Metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// SendStill captures a display still from the live screen share and sends
// it to the provider. Returns ErrNoCapture when no source is live; sources
// without video simply send nothing.
func (c *Coordinator) SendStill(ctx context.Context) error {
	c.mu.Lock()
	src, sess := c.src, c.sess
	c.mu.Unlock()
	if src == nil {
		return ErrNoCapture
	}
	if sess == nil {
		return fmt.Errorf("session: not connected")
	}

	img, ok := src.Still(ctx)
	if !ok {
		return nil
	}
	return sess.SendImage(base64.StdEncoding.EncodeToString(img.Data))
}

// SetMuted toggles the playback output mute.
func (c *Coordinator) SetMuted(muted bool) { c.play.SetMuted(muted) }

// SetPadEnabled toggles the ambient pad.
func (c *Coordinator) SetPadEnabled(enabled bool) { c.play.SetPadEnabled(enabled) }

// SetPadVolume sets the ambient pad gain.
func (c *Coordinator) SetPadVolume(v float64) { c.play.SetPadVolume(v) }

// CaptureLevel returns the current outbound VU reading.
func (c *Coordinator) CaptureLevel() float64 { return c.enc.Level() }

// OutputLevel returns the current playback VU reading.
func (c *Coordinator) OutputLevel() float64 { return c.play.Level() }

// Connected reports whether an interpretation session is live and has not
// terminated with an error.
func (c *Coordinator) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil && c.sess.Err() == nil
}

// CaptureActive reports whether a capture source is live and producing
// audio.
func (c *Coordinator) CaptureActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.src != nil && c.src.Active()
}

// Close ends capture, closes the provider session and suspends playback.
// Idempotent.
func (c *Coordinator) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sess := c.sess
	cancel, g, reconn := c.cancel, c.g, c.reconn
	c.mu.Unlock()

	c.stopCapture()

	if reconn != nil {
		reconn.Stop()
	}
	var err error
	if sess != nil {
		err = sess.Close()
	}
	if cancel != nil {
		cancel()
	}
	if g != nil {
		if werr := g.Wait(); err == nil {
			err = werr
		}
	}
	if serr := c.play.Stop(); err == nil {
		err = serr
	}
	return err
}
