// Package capture acquires the outbound media for an interpretation session:
// PCM16 audio from the microphone or from a system-audio loopback device,
// plus on-demand JPEG stills of a display when sharing a screen.
//
// Capture degrades instead of failing: a source whose audio device cannot be
// opened still comes up, logs a warning, and simply produces no frames. A
// screen share without a loopback device is video-only. The session keeps
// running either way.
package capture

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/voxlate/voxlate/internal/observe"
	"github.com/voxlate/voxlate/pkg/audio"
)

// Mode selects what a capture source records.
type Mode string

const (
	// ModeMicrophone captures the default (or configured) microphone.
	ModeMicrophone Mode = "microphone"

	// ModeDisplay captures system audio via a loopback device and serves
	// display stills on demand.
	ModeDisplay Mode = "display"
)

// StillImage is a single on-demand video still, JPEG-encoded.
type StillImage struct {
	Data   []byte
	Width  int
	Height int
}

// Source is a live capture session. Frames delivers PCM16 audio as it is
// read from the device; the channel is closed when the source stops. Still
// returns the latest display still, or ok=false for audio-only sources and
// transient capture failures.
type Source interface {
	// ID uniquely identifies this capture session.
	ID() string

	// Mode reports what the source records.
	Mode() Mode

	// Frames is the stream of captured audio. Closed on Stop and on
	// unrecoverable device errors.
	Frames() <-chan audio.Frame

	// Still captures a display still. ok is false when the source has no
	// video or the capture transiently failed.
	Still(ctx context.Context) (img *StillImage, ok bool)

	// Active reports whether audio is flowing.
	Active() bool

	// Stop releases the device and closes Frames. Safe to call while the
	// device is still being acquired; it waits for the acquisition to
	// settle so the device is never leaked. Idempotent.
	Stop() error
}

// Options configures Open.
type Options struct {
	// Mode selects microphone or display capture. Required.
	Mode Mode

	// Device names the audio input device. Empty selects the default
	// microphone (ModeMicrophone) or the first loopback-looking device
	// (ModeDisplay).
	Device string

	// Display is the display index for stills in ModeDisplay.
	Display int

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics is optional; nil disables recording.
	Metrics *observe.Metrics

	// openAudio overrides device acquisition. Tests only.
	openAudio audioOpener
}

// Open starts a capture session. The returned source supersedes nothing by
// itself; arbitration between concurrent sources is the coordinator's job.
//
// Audio device failures do not fail Open: the source comes up inactive with
// a warning so the rest of the session (stills, playback) keeps working.
func Open(ctx context.Context, opts Options) (Source, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.openAudio == nil {
		opts.openAudio = openPortAudioInput
	}

	id := uuid.NewString()
	s := &session{
		id:       id,
		mode:     opts.Mode,
		log:      opts.Logger.With("capture_id", id[:8], "mode", opts.Mode),
		metrics:  opts.Metrics,
		frames:   make(chan audio.Frame, frameChannelDepth),
		starting: make(chan struct{}),
	}

	if opts.Mode == ModeDisplay {
		grab, err := newStillGrabber(opts.Display)
		if err != nil {
			// A screen share with no capturable display has nothing to
			// offer; this one is a hard error.
			return nil, err
		}
		s.grabber = grab
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(runCtx, opts)

	return s, nil
}
