package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/voxlate/voxlate/internal/observe"
	"github.com/voxlate/voxlate/pkg/audio"
)

// frameChannelDepth bounds how far capture may run ahead of the encoder
// before blocks are dropped.
const frameChannelDepth = 32

type session struct {
	id      string
	mode    Mode
	log     *slog.Logger
	metrics *observe.Metrics
	grabber *stillGrabber

	frames   chan audio.Frame
	starting chan struct{} // closed once device acquisition settles
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	active  atomic.Bool
	stopped atomic.Bool
}

var _ Source = (*session)(nil)

func (s *session) ID() string                 { return s.id }
func (s *session) Mode() Mode                 { return s.mode }
func (s *session) Frames() <-chan audio.Frame { return s.frames }
func (s *session) Active() bool               { return s.active.Load() }

// run acquires the audio device and pumps blocks into the frames channel.
// The starting channel is closed as soon as acquisition settles, success or
// not, so Stop can always wait for a device handle to exist before tearing
// down.
func (s *session) run(ctx context.Context, opts Options) {
	defer s.wg.Done()
	defer close(s.frames)

	stream, err := opts.openAudio(ctx, opts.Mode, opts.Device)
	close(s.starting)
	if err != nil {
		// Degrade, don't fail: the session continues without outbound
		// audio (a display share still serves stills).
		s.log.Warn("audio capture unavailable", "error", err)
		return
	}
	defer stream.Close()

	if ctx.Err() != nil {
		return
	}

	s.active.Store(true)
	defer s.active.Store(false)
	s.log.Info("audio capture started",
		"device", stream.Name(), "sample_rate", stream.Format().SampleRate,
		"channels", stream.Format().Channels)

	format := stream.Format()
	for ctx.Err() == nil {
		block, err := stream.Read()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Error("audio capture read failed", "error", err)
			}
			return
		}

		frame := audio.Frame{
			Data:       audio.Int16ToBytes(block),
			SampleRate: format.SampleRate,
			Channels:   format.Channels,
		}
		select {
		case s.frames <- frame:
		default:
			// Encoder fell behind; dropping keeps capture realtime.
			s.log.Debug("dropping capture block, encoder backlogged")
		}
	}
}

// Still captures a display still. Audio-only sources and transient capture
// failures return ok=false; the caller simply sends no image this time.
func (s *session) Still(ctx context.Context) (*StillImage, bool) {
	if s.grabber == nil {
		return nil, false
	}
	img, err := s.grabber.Grab(ctx)
	if err != nil {
		s.log.Debug("still capture failed", "error", err)
		s.recordStill("none")
		return nil, false
	}
	s.recordStill("ok")
	return img, true
}

func (s *session) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	<-s.starting // device acquisition settles before we declare it released
	s.wg.Wait()
	s.log.Info("capture stopped")
	return nil
}

func (s *session) recordStill(status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordStill(context.Background(), status)
}
