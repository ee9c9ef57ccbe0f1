package capture

import (
	"context"
	"errors"
	"image"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxlate/voxlate/pkg/audio"
)

// fakeStream serves a fixed set of blocks, then io.EOF.
type fakeStream struct {
	blocks [][]int16
	next   int
	closed atomic.Bool
}

func (f *fakeStream) Read() ([]int16, error) {
	if f.closed.Load() || f.next >= len(f.blocks) {
		return nil, io.EOF
	}
	b := f.blocks[f.next]
	f.next++
	return b, nil
}

func (f *fakeStream) Format() audio.Format { return audio.Format{SampleRate: audio.CaptureRate, Channels: 1} }
func (f *fakeStream) Name() string         { return "fake" }
func (f *fakeStream) Close() error         { f.closed.Store(true); return nil }

func fakeOpener(stream audioStream, err error) audioOpener {
	return func(context.Context, Mode, string) (audioStream, error) {
		return stream, err
	}
}

func TestOpen_MicrophoneStreamsFrames(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{blocks: [][]int16{{1, 2}, {3, 4}}}
	src, err := Open(context.Background(), Options{
		Mode:      ModeMicrophone,
		openAudio: fakeOpener(stream, nil),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Stop()

	var got []audio.Frame
	for f := range src.Frames() {
		got = append(got, f)
	}
	if len(got) != 2 {
		t.Fatalf("received %d frames, want 2", len(got))
	}
	if got[0].SampleRate != audio.CaptureRate || got[0].Channels != 1 {
		t.Errorf("frame format = %d Hz %dch, want %d Hz mono",
			got[0].SampleRate, got[0].Channels, audio.CaptureRate)
	}
	want := audio.Int16ToBytes([]int16{1, 2})
	if string(got[0].Data) != string(want) {
		t.Errorf("frame data = %v, want %v", got[0].Data, want)
	}
	if !stream.closed.Load() {
		t.Error("stream not closed after frames drained")
	}
}

func TestOpen_DegradesWhenDeviceUnavailable(t *testing.T) {
	t.Parallel()

	src, err := Open(context.Background(), Options{
		Mode:      ModeMicrophone,
		openAudio: fakeOpener(nil, errors.New("no such device")),
	})
	if err != nil {
		t.Fatalf("Open: %v, want degraded source, not failure", err)
	}
	defer src.Stop()

	// Frames closes without delivering anything.
	if _, ok := <-src.Frames(); ok {
		t.Error("degraded source delivered a frame")
	}
	if src.Active() {
		t.Error("Active = true for degraded source")
	}
	if _, ok := src.Still(context.Background()); ok {
		t.Error("microphone source served a still")
	}
}

func TestStop_WaitsForInflightAcquisition(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{}
	acquiring := make(chan struct{})
	release := make(chan struct{})
	opener := func(context.Context, Mode, string) (audioStream, error) {
		close(acquiring)
		<-release // simulate a slow device open
		return stream, nil
	}

	src, err := Open(context.Background(), Options{Mode: ModeMicrophone, openAudio: opener})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	<-acquiring
	stopped := make(chan struct{})
	go func() {
		src.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while acquisition was still in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after acquisition settled")
	}
	if !stream.closed.Load() {
		t.Error("device acquired during shutdown was not released")
	}
}

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()

	src, err := Open(context.Background(), Options{
		Mode:      ModeMicrophone,
		openAudio: fakeOpener(&fakeStream{}, nil),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for range 3 {
		if err := src.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
}

func TestOpen_AssignsUniqueIDs(t *testing.T) {
	t.Parallel()

	open := func() Source {
		src, err := Open(context.Background(), Options{
			Mode:      ModeMicrophone,
			openAudio: fakeOpener(&fakeStream{}, nil),
		})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { src.Stop() })
		return src
	}

	a, b := open(), open()
	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("IDs not unique: %q vs %q", a.ID(), b.ID())
	}
	if a.Mode() != ModeMicrophone {
		t.Errorf("Mode = %q, want %q", a.Mode(), ModeMicrophone)
	}
}

func TestFitRect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  image.Rectangle
		want image.Rectangle
	}{
		{"16:9 fills exactly", image.Rect(0, 0, 1920, 1080), image.Rect(0, 0, 640, 360)},
		{"ultrawide letterboxed", image.Rect(0, 0, 3840, 1080), image.Rect(0, 90, 640, 270)},
		{"portrait pillarboxed", image.Rect(0, 0, 1080, 1920), image.Rect(219, 0, 421, 360)},
		{"degenerate falls back", image.Rect(0, 0, 0, 0), image.Rect(0, 0, 640, 360)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := fitRect(tc.src, stillWidth, stillHeight); got != tc.want {
				t.Errorf("fitRect(%v) = %v, want %v", tc.src, got, tc.want)
			}
		})
	}
}
