package capture

import (
	"context"
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"

	"github.com/voxlate/voxlate/pkg/audio"
)

// captureBlockSize is the per-read block size in samples (32ms at 16 kHz).
// Small enough that Stop is never far from a loop iteration.
const captureBlockSize = 512

// audioStream is an open audio input delivering fixed-size PCM16 blocks.
// Read blocks until a full block is available. The returned slice is only
// valid until the next Read.
type audioStream interface {
	Read() ([]int16, error)
	Format() audio.Format
	Name() string
	Close() error
}

// audioOpener acquires an audio input for the given mode. Swapped out in
// tests to exercise the session lifecycle without hardware.
type audioOpener func(ctx context.Context, mode Mode, device string) (audioStream, error)

// loopbackMarkers identify input devices that record system output. Naming
// varies by OS and driver; substring matching on the lowercased device name
// is the practical common denominator.
var loopbackMarkers = []string{"monitor", "loopback", "stereo mix", "what u hear", "blackhole"}

type paStream struct {
	stream *portaudio.Stream
	buf    []int16
	format audio.Format
	name   string
}

var _ audioStream = (*paStream)(nil)

func (p *paStream) Read() ([]int16, error) {
	if err := p.stream.Read(); err != nil {
		return nil, err
	}
	return p.buf, nil
}

func (p *paStream) Format() audio.Format { return p.format }
func (p *paStream) Name() string         { return p.name }

func (p *paStream) Close() error {
	err := p.stream.Close()
	portaudio.Terminate()
	return err
}

// openPortAudioInput acquires the capture device for the given mode.
// ModeMicrophone uses the named or default input; ModeDisplay looks for a
// loopback-style device carrying system audio.
func openPortAudioInput(ctx context.Context, mode Mode, device string) (audioStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}

	dev, err := selectInputDevice(mode, device)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	stream, format, buf, err := openInputStream(dev)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("starting input stream: %w", err)
	}

	return &paStream{stream: stream, buf: buf, format: format, name: dev.Name}, nil
}

func selectInputDevice(mode Mode, name string) (*portaudio.DeviceInfo, error) {
	if name != "" {
		devices, err := portaudio.Devices()
		if err != nil {
			return nil, fmt.Errorf("enumerating audio devices: %w", err)
		}
		for _, d := range devices {
			if d.Name == name && d.MaxInputChannels > 0 {
				return d, nil
			}
		}
		return nil, fmt.Errorf("audio input device %q not found", name)
	}

	if mode == ModeDisplay {
		devices, err := portaudio.Devices()
		if err != nil {
			return nil, fmt.Errorf("enumerating audio devices: %w", err)
		}
		for _, d := range devices {
			if d.MaxInputChannels == 0 {
				continue
			}
			lower := strings.ToLower(d.Name)
			for _, marker := range loopbackMarkers {
				if strings.Contains(lower, marker) {
					return d, nil
				}
			}
		}
		return nil, fmt.Errorf("no system-audio loopback device found")
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("resolving default input device: %w", err)
	}
	return dev, nil
}

// openInputStream opens dev mono at the transport rate, falling back to the
// device's native rate (the encoder resamples) when the device refuses.
func openInputStream(dev *portaudio.DeviceInfo) (*portaudio.Stream, audio.Format, []int16, error) {
	for _, rate := range []int{audio.CaptureRate, int(dev.DefaultSampleRate)} {
		buf := make([]int16, captureBlockSize)
		stream, err := portaudio.OpenStream(portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   dev,
				Channels: 1,
				Latency:  dev.DefaultLowInputLatency,
			},
			SampleRate:      float64(rate),
			FramesPerBuffer: len(buf),
		}, buf)
		if err == nil {
			return stream, audio.Format{SampleRate: rate, Channels: 1}, buf, nil
		}
	}
	return nil, audio.Format{}, nil, fmt.Errorf("opening input stream on %q: no supported sample rate", dev.Name)
}

// ListInputDevices enumerates audio inputs for diagnostics and configuration.
func ListInputDevices() ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating audio devices: %w", err)
	}
	var names []string
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			names = append(names, d.Name)
		}
	}
	return names, nil
}
