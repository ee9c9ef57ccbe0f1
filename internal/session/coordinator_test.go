package session_test

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxlate/voxlate/internal/capture"
	"github.com/voxlate/voxlate/internal/playback"
	"github.com/voxlate/voxlate/internal/session"
	"github.com/voxlate/voxlate/pkg/audio"
	interpmock "github.com/voxlate/voxlate/pkg/interp/mock"
)

type fakeDevice struct {
	mu      sync.Mutex
	render  func(out []int16)
	started bool
}

func (d *fakeDevice) Start(render func(out []int16)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.render = render
	d.started = true
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	return nil
}

func (d *fakeDevice) Close() error { return nil }

func (d *fakeDevice) running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

type fakeSource struct {
	id     string
	mode   capture.Mode
	frames chan audio.Frame
	still  *capture.StillImage

	stopOnce sync.Once
	stopped  atomic.Bool
}

func newFakeSource(mode capture.Mode) *fakeSource {
	return &fakeSource{
		id:     "src-" + string(mode),
		mode:   mode,
		frames: make(chan audio.Frame, 16),
	}
}

func (f *fakeSource) ID() string                 { return f.id }
func (f *fakeSource) Mode() capture.Mode         { return f.mode }
func (f *fakeSource) Frames() <-chan audio.Frame { return f.frames }
func (f *fakeSource) Active() bool               { return !f.stopped.Load() }

func (f *fakeSource) Still(context.Context) (*capture.StillImage, bool) {
	if f.still == nil {
		return nil, false
	}
	return f.still, true
}

func (f *fakeSource) Stop() error {
	f.stopOnce.Do(func() {
		f.stopped.Store(true)
		close(f.frames)
	})
	return nil
}

type harness struct {
	coord    *session.Coordinator
	provider *interpmock.Provider
	device   *fakeDevice
	play     *playback.Pipeline
	sources  []*fakeSource
	mu       sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		provider: &interpmock.Provider{},
		device:   &fakeDevice{},
	}

	play := playback.New(playback.Config{
		SampleRate: 1000,
		BlockSize:  10,
		LeadIn:     time.Millisecond,
		PadLoop:    make([]int16, 10),
		Device:     h.device,
	})
	t.Cleanup(func() { play.Close() })
	h.play = play

	coord, err := session.New(session.Config{
		FrameDuration: 10 * time.Millisecond,
	}, session.Deps{
		Provider: h.provider,
		Playback: play,
		OpenCapture: func(_ context.Context, opts capture.Options) (capture.Source, error) {
			src := newFakeSource(opts.Mode)
			h.mu.Lock()
			h.sources = append(h.sources, src)
			h.mu.Unlock()
			return src, nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { coord.Close() })
	h.coord = coord
	return h
}

func (h *harness) connect(t *testing.T) *interpmock.Session {
	t.Helper()
	if err := h.coord.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return h.provider.Sessions()[0]
}

func (h *harness) source(i int) *fakeSource {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sources[i]
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

// pcmFrame returns one capture frame of n samples at the transport rate.
func pcmFrame(val int16, n int) audio.Frame {
	data := make([]int16, n)
	for i := range data {
		data[i] = val
	}
	return audio.Frame{Data: audio.Int16ToBytes(data), SampleRate: audio.CaptureRate, Channels: 1}
}

func TestCoordinator_StreamsEncodedFramesToProvider(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sess := h.connect(t)

	if err := h.coord.StartMicrophone(context.Background()); err != nil {
		t.Fatalf("StartMicrophone: %v", err)
	}

	// 10ms frames at 16kHz = 160 samples; 320 samples make exactly two.
	h.source(0).frames <- pcmFrame(100, 320)
	if err := h.coord.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	sent := sess.SentAudio()
	if len(sent) != 2 {
		t.Fatalf("provider received %d chunks, want 2", len(sent))
	}
	pcm, err := audio.DecodeFrame(sent[0])
	if err != nil {
		t.Fatalf("chunk not valid transport encoding: %v", err)
	}
	if len(pcm) != 320 {
		t.Errorf("chunk = %d bytes, want 320", len(pcm))
	}
}

func TestCoordinator_StartRequiresConnect(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.coord.StartMicrophone(context.Background()); err == nil {
		t.Fatal("StartMicrophone before Connect succeeded")
	}
}

func TestCoordinator_NewCaptureSupersedesOld(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)

	ctx := context.Background()
	if err := h.coord.StartMicrophone(ctx); err != nil {
		t.Fatalf("StartMicrophone: %v", err)
	}
	if err := h.coord.StartScreenShare(ctx); err != nil {
		t.Fatalf("StartScreenShare: %v", err)
	}

	if !h.source(0).stopped.Load() {
		t.Error("microphone source not stopped when screen share started")
	}
	if h.source(1).stopped.Load() {
		t.Error("screen share source stopped prematurely")
	}
	if h.source(1).Mode() != capture.ModeDisplay {
		t.Errorf("second source mode = %q, want display", h.source(1).Mode())
	}
}

func TestCoordinator_InboundAudioReachesPlayback(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sess := h.connect(t)

	sess.PushAudio(audio.Int16ToBytes(make([]int16, 100)))
	waitFor(t, "inbound audio scheduled", func() bool {
		return h.play.Buffered() > 0
	})
}

func TestCoordinator_InterruptFlushesPlayback(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sess := h.connect(t)

	sess.PushAudio(audio.Int16ToBytes(make([]int16, 500)))
	waitFor(t, "audio buffered", func() bool { return h.play.Buffered() > 0 })

	sess.FireInterrupted()
	if got := h.play.Buffered(); got != 0 {
		t.Errorf("Buffered = %v after interrupt, want 0", got)
	}
}

func TestCoordinator_OpenResumesAndCloseSuspendsPlayback(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sess := h.connect(t)

	sess.FireOpen()
	if !h.device.running() {
		t.Fatal("playback device not started on session open")
	}

	sess.FireClose(nil)
	if h.device.running() {
		t.Fatal("playback device still running after session close")
	}
}

func TestCoordinator_StopKeepsPlaybackRunning(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sess := h.connect(t)
	sess.FireOpen()

	if err := h.coord.StartMicrophone(context.Background()); err != nil {
		t.Fatalf("StartMicrophone: %v", err)
	}
	if err := h.coord.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if !h.device.running() {
		t.Error("playback suspended by capture stop; should keep playing")
	}
	if h.coord.CaptureActive() {
		t.Error("CaptureActive = true after Stop")
	}
}

func TestCoordinator_SendStill(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sess := h.connect(t)

	if err := h.coord.SendStill(context.Background()); !errors.Is(err, session.ErrNoCapture) {
		t.Fatalf("SendStill without capture = %v, want ErrNoCapture", err)
	}

	if err := h.coord.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("StartScreenShare: %v", err)
	}
	h.source(0).still = &capture.StillImage{Data: []byte{0xff, 0xd8, 0xff}, Width: 640, Height: 360}

	if err := h.coord.SendStill(context.Background()); err != nil {
		t.Fatalf("SendStill: %v", err)
	}
	images := sess.SentImages()
	if len(images) != 1 {
		t.Fatalf("provider received %d stills, want 1", len(images))
	}
	if want := base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff}); images[0] != want {
		t.Errorf("still payload = %q, want %q", images[0], want)
	}
}

func TestCoordinator_StillLessSourceSendsNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sess := h.connect(t)

	if err := h.coord.StartMicrophone(context.Background()); err != nil {
		t.Fatalf("StartMicrophone: %v", err)
	}
	if err := h.coord.SendStill(context.Background()); err != nil {
		t.Fatalf("SendStill on audio-only source = %v, want nil", err)
	}
	if n := len(sess.SentImages()); n != 0 {
		t.Errorf("provider received %d stills from audio-only source, want 0", n)
	}
}

func TestCoordinator_StopWithFramesInFlight(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)

	// Stopping while the encoder still has buffered frames must not block:
	// the drain publishes every remaining chunk through the outbound
	// subscriber before Stop returns.
	for i := range 10 {
		if err := h.coord.StartMicrophone(context.Background()); err != nil {
			t.Fatalf("StartMicrophone: %v", err)
		}
		src := h.source(i)
		for range 4 {
			src.frames <- pcmFrame(100, 320)
		}

		done := make(chan struct{})
		go func() {
			if err := h.coord.Stop(); err != nil {
				t.Errorf("Stop: %v", err)
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Stop blocked with encoded frames in flight")
		}
	}
}

func TestCoordinator_CloseWithBufferedInboundAudio(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sess := h.connect(t)
	for range 64 {
		sess.PushAudio(audio.Int16ToBytes(make([]int16, 10)))
	}

	done := make(chan struct{})
	go func() {
		if err := h.coord.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on buffered inbound audio")
	}

	if _, ok := <-sess.Audio(); ok {
		t.Error("session audio channel not drained to close after Close")
	}
}

func TestCoordinator_SourceDuckingVolumeRelayed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	var mu sync.Mutex
	var seen []float64
	h.coord.OnDuckingChange(func(v float64) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})

	h.coord.SetSourceDuckingVolume(0.3)
	h.coord.SetSourceDuckingVolume(2.0)  // clamped to 1
	h.coord.SetSourceDuckingVolume(-0.5) // clamped to 0

	if got := h.coord.SourceDuckingVolume(); got != 0 {
		t.Errorf("SourceDuckingVolume = %v, want 0", got)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []float64{0.3, 1, 0}
	if len(seen) != len(want) {
		t.Fatalf("observer saw %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("observer saw %v, want %v", seen, want)
		}
	}
}

func TestCoordinator_CloseClosesSessionAndCapture(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sess := h.connect(t)
	if err := h.coord.StartMicrophone(context.Background()); err != nil {
		t.Fatalf("StartMicrophone: %v", err)
	}

	if err := h.coord.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !sess.Closed() {
		t.Error("provider session not closed")
	}
	if !h.source(0).stopped.Load() {
		t.Error("capture source not stopped")
	}

	// Idempotent.
	if err := h.coord.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
