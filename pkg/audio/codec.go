package audio

import (
	"encoding/base64"
	"fmt"
)

// ErrMalformedFrame is returned by [DecodeFrame] when the payload is not
// valid base64 or does not decode to a whole number of PCM16 samples.
// A malformed frame is fatal to that frame only — callers drop it and keep
// the pipeline running.
var ErrMalformedFrame = fmt.Errorf("audio: malformed frame")

// EncodeFrame converts raw PCM16 bytes to the text-safe transport
// representation. The encoding is deterministic, lossless, and reversible;
// there are no error cases for valid input.
func EncodeFrame(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeFrame is the inverse of [EncodeFrame]. It returns
// [ErrMalformedFrame] if data is not valid base64 or the decoded byte count
// is not a multiple of the sample size.
func DecodeFrame(data string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(pcm)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of samples", ErrMalformedFrame, len(pcm))
	}
	return pcm, nil
}

// Int16ToBytes serialises samples as little-endian PCM16.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToInt16 deserialises little-endian PCM16 into samples. A trailing odd
// byte is ignored.
func BytesToInt16(pcm []byte) []int16 {
	n := len(pcm) / BytesPerSample
	out := make([]int16, n)
	for i := range n {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}
