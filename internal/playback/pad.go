package playback

import (
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
)

// MaxPadVolume caps the ambient pad gain so the bed can never mask speech.
const MaxPadVolume = 0.5

// padLoopSeconds is the length of the generated built-in pad. All partials
// complete a whole number of cycles over this window so the loop point is
// seamless.
const padLoopSeconds = 4

// Pad is a looping ambient bed mixed under the interpreted speech. It keeps
// the output alive between utterances so the listener hears "connected"
// rather than dead silence.
//
// Enable/disable and gain changes are atomic; Mix is called from the render
// callback and never blocks. Start while already looping is a no-op — the
// loop position is not reset, so repeated enables cannot cause a restart
// click.
type Pad struct {
	samples []int16

	mu  sync.Mutex
	pos int

	enabled  atomic.Bool
	gainBits atomic.Uint64
}

// NewPad creates a pad over the given loop. The volume is clamped to
// [0, MaxPadVolume]. The pad starts disabled.
func NewPad(loop []int16, volume float64) *Pad {
	p := &Pad{samples: loop}
	p.SetVolume(volume)
	return p
}

// LoadPadFile reads a raw little-endian PCM16 mono file recorded at the given
// sample rate and returns its samples. The rate is the caller's assertion —
// raw PCM carries no header to check against.
func LoadPadFile(path string) ([]int16, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pad file: %w", err)
	}
	if len(data) == 0 || len(data)%2 != 0 {
		return nil, fmt.Errorf("pad file %s: not 16-bit PCM (%d bytes)", path, len(data))
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[2*i]) | int16(data[2*i+1])<<8
	}
	return samples, nil
}

// GeneratePad synthesises the built-in ambient bed at the given sample rate:
// a quiet minor-chord drone with slow amplitude movement. Used when no pad
// file is configured.
func GeneratePad(sampleRate int) []int16 {
	n := sampleRate * padLoopSeconds
	out := make([]int16, n)

	// Partial frequencies are multiples of 1/padLoopSeconds Hz so every
	// component closes its cycle exactly at the loop point.
	base := 1.0 / padLoopSeconds
	freqs := []float64{
		math.Round(110/base) * base, // A2
		math.Round(165/base) * base, // E3
		math.Round(220/base) * base, // A3
	}
	// Tremolo must also close at the loop point.
	trem := math.Round(0.25/base) * base

	for i := range n {
		t := float64(i) / float64(sampleRate)
		var v float64
		for j, f := range freqs {
			v += math.Sin(2*math.Pi*f*t) / float64(j+2)
		}
		v *= 0.85 + 0.15*math.Sin(2*math.Pi*trem*t)
		out[i] = int16(v * 0.2 * math.MaxInt16)
	}
	return out
}

// Start enables the pad. Idempotent: if the pad is already looping the loop
// position is left untouched.
func (p *Pad) Start() {
	p.enabled.Store(true)
}

// Stop disables the pad. The loop position is kept so a later Start resumes
// where the bed left off.
func (p *Pad) Stop() {
	p.enabled.Store(false)
}

// Enabled reports whether the pad is currently mixed into the output.
func (p *Pad) Enabled() bool {
	return p.enabled.Load()
}

// SetVolume sets the pad gain, clamped to [0, MaxPadVolume].
func (p *Pad) SetVolume(v float64) {
	v = min(max(v, 0), MaxPadVolume)
	p.gainBits.Store(math.Float64bits(v))
}

// Volume returns the current pad gain.
func (p *Pad) Volume() float64 {
	return math.Float64frombits(p.gainBits.Load())
}

// Mix adds the pad into dst with clamping and advances the loop position.
// When disabled or empty, dst is left untouched and the position holds.
func (p *Pad) Mix(dst []int16) {
	if !p.enabled.Load() || len(p.samples) == 0 {
		return
	}
	gain := p.Volume()

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range dst {
		mixed := int32(dst[i]) + int32(float64(p.samples[p.pos])*gain)
		if mixed > math.MaxInt16 {
			mixed = math.MaxInt16
		} else if mixed < math.MinInt16 {
			mixed = math.MinInt16
		}
		dst[i] = int16(mixed)
		p.pos++
		if p.pos >= len(p.samples) {
			p.pos = 0
		}
	}
}
