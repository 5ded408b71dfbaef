package entities

import "time"

// Encoding identifies the sample encoding of a frame payload.
type Encoding string

const (
	// EncodingMulaw8 is 8-bit ITU-T G.711 μ-law, one byte per sample.
	EncodingMulaw8 Encoding = "mulaw8"
	// EncodingPCM16 is 16-bit signed little-endian linear PCM.
	EncodingPCM16 Encoding = "pcm16"
)

// Frame is one immutable unit of audio moving through the bridge.
//
// Sequence numbers are strictly increasing within one direction of one
// session. The bridge never reorders frames; an interrupt drops frames
// but never permutes them.
type Frame struct {
	SampleRate int
	Encoding   Encoding
	Payload    []byte
	Seq        uint64
	CapturedAt time.Time
}

// Samples returns the number of audio samples in the payload.
func (f Frame) Samples() int {
	if f.Encoding == EncodingPCM16 {
		return len(f.Payload) / 2
	}
	return len(f.Payload)
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}
