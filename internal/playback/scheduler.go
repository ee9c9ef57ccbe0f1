// Package playback renders the inbound stream of synthesised speech as
// continuous, click-free audio: a sample-domain gapless scheduler feeds a
// fixed-size render callback, with a master gain stage, an independently
// controlled looping ambient pad, and a VU meter on the mixed output.
//
// The render callback runs on the audio device's real-time thread. Everything
// it touches is either atomic or guarded by a mutex whose critical sections
// are a few pointer moves — never I/O, never unbounded allocation.
package playback

import "sync"

// Scheduler places inbound frames on an absolute sample timeline so that
// consecutive frames play back-to-back with no gap and no overlap, in the
// order received. Frames are never reordered or dropped — in-order delivery
// is the transport's contract.
//
// Positions are absolute sample counts since the scheduler was created. The
// read cursor advances in real time as the device consumes blocks; a frame
// arriving while its predecessor is still scheduled starts exactly at the
// predecessor's end. A frame arriving after the timeline ran dry resumes
// from the current read position (the silence in between is the underrun).
//
// All methods are safe for concurrent use. ReadBlock is called from the
// real-time render callback; its critical section is bounded and never
// allocates.
type Scheduler struct {
	mu sync.Mutex

	buf      []int16
	readPos  int64 // next sample position the device will consume
	writeEnd int64 // end of scheduled data; positions beyond this are silence
	next     int64 // scheduled start of the next frame
	chained  bool  // whether next continues an unbroken frame chain
	leadIn   int64 // startup latency applied when scheduling from idle

	underruns int64
}

// NewScheduler creates a scheduler with the given ring capacity and startup
// lead-in, both in samples. The ring grows if a burst of frames exceeds it.
func NewScheduler(capacity, leadIn int) *Scheduler {
	if capacity <= 0 {
		capacity = 1
	}
	return &Scheduler{
		buf:    make([]int16, capacity),
		leadIn: int64(leadIn),
	}
}

// Enqueue schedules samples to start when the previously enqueued frame ends,
// or from "now" (plus the startup lead-in when coming out of idle) if the
// timeline has run dry. It returns the absolute start position assigned to
// the frame.
func (s *Scheduler) Enqueue(samples []int16) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var start int64
	switch {
	case s.chained && s.next >= s.readPos:
		// Chain intact: gapless continuation.
		start = s.next
	case s.chained:
		// Late arrival: the device already played past the scheduled start.
		// Resume from now; the gap was rendered as silence.
		start = s.readPos
		s.underruns++
	default:
		start = s.readPos + s.leadIn
	}

	end := start + int64(len(samples))
	s.ensureCapacityLocked(end)

	// Zero any gap between previously written data and this frame's start so
	// stale ring contents never leak into the output.
	for p := max(s.writeEnd, s.readPos); p < start; p++ {
		s.buf[p%int64(len(s.buf))] = 0
	}

	for i, v := range samples {
		s.buf[(start+int64(i))%int64(len(s.buf))] = v
	}

	s.writeEnd = end
	s.next = end
	s.chained = true
	return start
}

// ReadBlock fills dst with the next block of scheduled samples, zero-filling
// any region with nothing scheduled, and advances the read cursor. It is the
// real-time consumption path: bounded work, no allocation.
func (s *Scheduler) ReadBlock(dst []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.buf))
	for i := range dst {
		pos := s.readPos + int64(i)
		if pos < s.writeEnd {
			dst[i] = s.buf[pos%n]
		} else {
			dst[i] = 0
		}
	}
	s.readPos += int64(len(dst))
}

// Flush discards all scheduled-but-unplayed samples and resets the chaining
// state: nothing scheduled before the flush produces output after it, and
// the next enqueued frame starts fresh rather than chaining to stale state.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeEnd = s.readPos
	s.next = s.readPos
	s.chained = false
}

// Buffered returns the number of scheduled samples not yet consumed.
func (s *Scheduler) Buffered() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeEnd <= s.readPos {
		return 0
	}
	return s.writeEnd - s.readPos
}

// ReadPos returns the absolute position of the read cursor.
func (s *Scheduler) ReadPos() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readPos
}

// Underruns returns the number of late arrivals observed so far.
func (s *Scheduler) Underruns() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.underruns
}

// ensureCapacityLocked grows the ring so that the live region
// [readPos, end) fits. Growth happens on the control thread during Enqueue;
// the render callback never triggers it.
func (s *Scheduler) ensureCapacityLocked(end int64) {
	need := end - s.readPos
	if need <= int64(len(s.buf)) {
		return
	}

	newCap := int64(len(s.buf)) * 2
	for newCap < need {
		newCap *= 2
	}

	newBuf := make([]int16, newCap)
	for p := s.readPos; p < s.writeEnd; p++ {
		newBuf[p%newCap] = s.buf[p%int64(len(s.buf))]
	}
	s.buf = newBuf
}
