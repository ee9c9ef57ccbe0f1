package playback

import (
	"math"
	"sync"
)

// gainControl is the master output gain with a binary mute. Muting stores the
// active gain and sets it to zero; unmuting restores exactly the stored
// value, so mute round-trips are lossless regardless of how often they are
// toggled.
type gainControl struct {
	mu    sync.Mutex
	gain  float64
	prev  float64
	muted bool
}

func newGainControl(gain float64) *gainControl {
	return &gainControl{gain: gain, prev: gain}
}

func (g *gainControl) Gain() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gain
}

func (g *gainControl) Muted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.muted
}

// SetMuted toggles the mute state. Setting the current state again is a
// no-op, so repeated mutes cannot clobber the stored gain with zero.
func (g *gainControl) SetMuted(muted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if muted == g.muted {
		return
	}
	if muted {
		g.prev = g.gain
		g.gain = 0
	} else {
		g.gain = g.prev
	}
	g.muted = muted
}

// apply scales dst in place by the current gain. Unity gain is the fast path.
func (g *gainControl) apply(dst []int16) {
	gain := g.Gain()
	if gain == 1 {
		return
	}
	if gain == 0 {
		clear(dst)
		return
	}
	for i, v := range dst {
		scaled := float64(v) * gain
		if scaled > math.MaxInt16 {
			scaled = math.MaxInt16
		} else if scaled < math.MinInt16 {
			scaled = math.MinInt16
		}
		dst[i] = int16(scaled)
	}
}
