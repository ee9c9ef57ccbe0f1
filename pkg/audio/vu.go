package audio

import (
	"math"
	"sync/atomic"
)

// meterDecay controls how fast the smoothed reading falls between blocks.
// Chosen so a full-scale burst fades to near zero in roughly half a second
// of 100 ms blocks.
const meterDecay = 0.7

// Meter computes a momentary loudness reading in [0, 1] from PCM16 blocks.
// The latest reading wins; no history is kept. Process is called from the
// audio block path and performs no allocation or locking — the reading is
// published through a single atomic store, so Level may be called from any
// goroutine.
type Meter struct {
	level atomic.Uint64 // float64 bits
}

// Process updates the meter from one block of little-endian PCM16 data.
// It returns the new reading.
func (m *Meter) Process(pcm []byte) float64 {
	var sum float64
	n := len(pcm) / BytesPerSample
	for i := 0; i < n; i++ {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}

	var rms float64
	if n > 0 {
		rms = math.Sqrt(sum/float64(n)) / 32768
	}

	// Fast attack, slow decay: jump up immediately, fall off smoothly so
	// level meters don't flicker.
	prev := math.Float64frombits(m.level.Load())
	next := rms
	if next < prev {
		next = prev * meterDecay
	}
	if next > 1 {
		next = 1
	}

	m.level.Store(math.Float64bits(next))
	return next
}

// ProcessInt16 is Process for callers that already hold int16 samples.
func (m *Meter) ProcessInt16(samples []int16) float64 {
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}

	var rms float64
	if len(samples) > 0 {
		rms = math.Sqrt(sum/float64(len(samples))) / 32768
	}

	prev := math.Float64frombits(m.level.Load())
	next := rms
	if next < prev {
		next = prev * meterDecay
	}
	if next > 1 {
		next = 1
	}

	m.level.Store(math.Float64bits(next))
	return next
}

// Level returns the most recent reading.
func (m *Meter) Level() float64 {
	return math.Float64frombits(m.level.Load())
}

// Reset clears the meter to zero.
func (m *Meter) Reset() {
	m.level.Store(0)
}
