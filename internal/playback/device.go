package playback

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// portaudioDevice renders through the host's default output device. Streams
// are opened per Start so a suspended device holds no OS audio handle.
type portaudioDevice struct {
	sampleRate int
	blockSize  int
	stream     *portaudio.Stream
}

var _ Device = (*portaudioDevice)(nil)

// openOutputDevice initialises PortAudio and prepares the default output
// device. The ctx bounds only this setup, not the lifetime of the device.
func openOutputDevice(ctx context.Context, sampleRate, blockSize int) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}
	return &portaudioDevice{sampleRate: sampleRate, blockSize: blockSize}, nil
}

func (d *portaudioDevice) Start(render func(out []int16)) error {
	if d.stream != nil {
		return fmt.Errorf("output device already started")
	}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(d.sampleRate), d.blockSize,
		func(out []int16) { render(out) })
	if err != nil {
		return fmt.Errorf("opening output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("starting output stream: %w", err)
	}
	d.stream = stream
	return nil
}

func (d *portaudioDevice) Stop() error {
	if d.stream == nil {
		return nil
	}
	stream := d.stream
	d.stream = nil
	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("stopping output stream: %w", err)
	}
	return stream.Close()
}

func (d *portaudioDevice) Close() error {
	if err := d.Stop(); err != nil {
		portaudio.Terminate()
		return err
	}
	return portaudio.Terminate()
}
