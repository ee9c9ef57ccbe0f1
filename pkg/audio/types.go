// Package audio defines the core audio types and pure signal utilities for
// the voxlate pipeline: the wire frame codec, PCM format conversion, and VU
// metering.
//
// All audio inside the pipeline is little-endian signed 16-bit PCM. Capture
// normalises to [CaptureRate] mono before encoding; playback renders at
// [PlaybackRate] mono. The package has no device or network dependencies —
// it lives under pkg/ because capture and playback adapters outside this
// repository are expected to consume it.
package audio

import "time"

const (
	// CaptureRate is the sample rate of frames sent to the interpretation
	// backend, fixed by the outbound transport contract.
	CaptureRate = 16000

	// PlaybackRate is the sample rate of synthesised speech received from the
	// interpretation backend.
	PlaybackRate = 24000

	// BytesPerSample is the size of one PCM16 sample on the wire.
	BytesPerSample = 2
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Frame is a block of raw PCM16 audio flowing through the pipeline.
// Ownership transfers from producer to consumer on send; a Frame is never
// mutated after it has been handed off.
type Frame struct {
	// Data is little-endian int16 PCM. Always an even number of bytes.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int
}

// Samples returns the number of per-channel sample frames in f.
func (f Frame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / BytesPerSample / f.Channels
}

// Duration returns the playable duration of f.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}
