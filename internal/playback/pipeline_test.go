package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxlate/voxlate/pkg/audio"
)

// fakeDevice pulls render blocks on demand instead of from a real-time
// thread, so tests control exactly how much audio the "device" consumes.
type fakeDevice struct {
	mu      sync.Mutex
	render  func(out []int16)
	started bool
	starts  int
	stops   int
	closed  bool
}

var _ Device = (*fakeDevice)(nil)

func (d *fakeDevice) Start(render func(out []int16)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("already started")
	}
	d.render = render
	d.started = true
	d.starts++
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	d.stops++
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// pump renders n samples and returns them.
func (d *fakeDevice) pump(n int) []int16 {
	d.mu.Lock()
	render := d.render
	started := d.started
	d.mu.Unlock()
	out := make([]int16, n)
	if started && render != nil {
		render(out)
	}
	return out
}

func newTestPipeline(t *testing.T, dev *fakeDevice) *Pipeline {
	t.Helper()
	p := New(Config{
		SampleRate: 1000,
		BlockSize:  10,
		LeadIn:     10 * time.Millisecond, // 10 samples at 1 kHz
		PadLoop:    frameOf(1000, 100),
		PadVolume:  0.5,
		Device:     dev,
	})
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPipeline_RendersEnqueuedAudioAfterLeadIn(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	p := newTestPipeline(t, dev)
	if err := p.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	p.EnqueuePCM(audio.Int16ToBytes(frameOf(123, 20)))

	out := dev.pump(30)
	for i := range 10 {
		if out[i] != 0 {
			t.Fatalf("sample %d = %d, want silence during lead-in", i, out[i])
		}
	}
	for i := 10; i < 30; i++ {
		if out[i] != 123 {
			t.Fatalf("sample %d = %d, want 123", i, out[i])
		}
	}
}

func TestPipeline_EnqueueEncodedDropsMalformed(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, &fakeDevice{})

	if err := p.EnqueueEncoded("not@base64!"); !errors.Is(err, audio.ErrMalformedFrame) {
		t.Fatalf("err = %v, want ErrMalformedFrame", err)
	}
	if got := p.Buffered(); got != 0 {
		t.Errorf("Buffered = %v after malformed frame, want 0", got)
	}

	if err := p.EnqueueEncoded(audio.EncodeFrame(audio.Int16ToBytes(frameOf(1, 5)))); err != nil {
		t.Fatalf("EnqueueEncoded valid frame: %v", err)
	}
	if got := p.Buffered(); got == 0 {
		t.Error("valid frame was not scheduled")
	}
}

func TestPipeline_MuteSilencesSpeechNotState(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	p := New(Config{
		SampleRate: 1000,
		BlockSize:  10,
		LeadIn:     time.Millisecond,
		PadLoop:    frameOf(0, 100), // silent pad keeps assertions simple
		Device:     dev,
	})
	defer p.Close()
	if err := p.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	p.SetMuted(true)
	p.EnqueuePCM(audio.Int16ToBytes(frameOf(500, 20)))
	out := dev.pump(25)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("sample %d = %d, want silence while muted", i, v)
		}
	}

	p.SetMuted(false)
	p.EnqueuePCM(audio.Int16ToBytes(frameOf(500, 20)))
	out = dev.pump(30)
	heard := false
	for _, v := range out {
		if v == 500 {
			heard = true
			break
		}
	}
	if !heard {
		t.Error("no audio after unmute")
	}
}

func TestPipeline_PadMixedUnderSpeech(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	p := newTestPipeline(t, dev)
	if err := p.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	p.SetPadEnabled(true)
	out := dev.pump(10)
	for i, v := range out {
		if v != 500 { // 1000 * 0.5 pad gain over silence
			t.Fatalf("sample %d = %d, want 500 (pad only)", i, v)
		}
	}

	p.SetPadEnabled(false)
	out = dev.pump(10)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("sample %d = %d, want silence with pad off", i, v)
		}
	}
}

func TestPipeline_SetPadVolumeClamps(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, &fakeDevice{})
	p.SetPadVolume(0.8)
	if got := p.PadVolume(); got != MaxPadVolume {
		t.Errorf("PadVolume = %v, want clamp at %v", got, MaxPadVolume)
	}
}

func TestPipeline_ResumeIdempotent(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	p := newTestPipeline(t, dev)

	ctx := context.Background()
	for range 3 {
		if err := p.Resume(ctx); err != nil {
			t.Fatalf("Resume: %v", err)
		}
	}
	if dev.starts != 1 {
		t.Errorf("device starts = %d, want 1", dev.starts)
	}
}

func TestPipeline_StopPreservesControlState(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	p := newTestPipeline(t, dev)
	ctx := context.Background()
	if err := p.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	p.SetMuted(true)
	p.SetPadEnabled(true)
	p.SetPadVolume(0.25)

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := p.Resume(ctx); err != nil {
		t.Fatalf("Resume after Stop: %v", err)
	}

	if !p.Muted() {
		t.Error("mute lost across Stop/Resume")
	}
	if !p.PadEnabled() {
		t.Error("pad enablement lost across Stop/Resume")
	}
	if got := p.PadVolume(); got != 0.25 {
		t.Errorf("PadVolume = %v after Stop/Resume, want 0.25", got)
	}
}

func TestPipeline_FlushDiscardsPending(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	p := newTestPipeline(t, dev)
	if err := p.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	p.EnqueuePCM(audio.Int16ToBytes(frameOf(77, 50)))
	p.Flush()

	out := dev.pump(60)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("sample %d = %d, want silence after flush", i, v)
		}
	}
}

func TestPipeline_CloseRejectsResume(t *testing.T) {
	t.Parallel()

	p := New(Config{
		SampleRate: 1000,
		BlockSize:  10,
		PadLoop:    frameOf(0, 10),
		Device:     &fakeDevice{},
	})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Resume(context.Background()); err == nil {
		t.Fatal("Resume after Close succeeded, want error")
	}
}

func TestPipeline_OutputLevelReflectsRenderedAudio(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	p := New(Config{
		SampleRate: 1000,
		BlockSize:  10,
		LeadIn:     time.Millisecond,
		PadLoop:    frameOf(0, 10),
		Device:     dev,
	})
	defer p.Close()
	if err := p.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if got := p.Level(); got != 0 {
		t.Fatalf("Level = %v before rendering, want 0", got)
	}
	p.EnqueuePCM(audio.Int16ToBytes(frameOf(16000, 40)))
	dev.pump(40)
	if got := p.Level(); got <= 0 {
		t.Errorf("Level = %v after rendering loud audio, want > 0", got)
	}
}
