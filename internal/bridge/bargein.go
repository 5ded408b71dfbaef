package bridge

import "github.com/satriahrh/voicebridge/internal/audio"

// Barge-in signal sources. Energy runs a local RMS detector on inbound
// telephony frames; backend relies on the provider's speech-started events.
const (
	BargeInModeEnergy  = "energy"
	BargeInModeBackend = "backend"
)

// Defaults for the energy detector. At 20 ms telephony frames, three voiced
// frames bound detection latency to 60 ms of speech onset.
const (
	DefaultBargeInThreshold = 0.018
	DefaultBargeInMinFrames = 3
)

// speechDetector is a minimal energy-based voice activity detector over
// decoded inbound PCM. It fires once per episode: after a trigger it stays
// quiet until Reset.
type speechDetector struct {
	threshold float64
	minFrames int

	voiced    int
	triggered bool
}

func newSpeechDetector(threshold float64, minFrames int) *speechDetector {
	if threshold <= 0 {
		threshold = DefaultBargeInThreshold
	}
	if minFrames <= 0 {
		minFrames = DefaultBargeInMinFrames
	}
	return &speechDetector{threshold: threshold, minFrames: minFrames}
}

// Sample feeds one frame of 16-bit PCM and reports whether speech onset was
// just detected.
func (d *speechDetector) Sample(pcm []byte) bool {
	if d.triggered {
		return false
	}
	if audio.RMSEnergy(pcm) >= d.threshold {
		d.voiced++
	} else {
		d.voiced = 0
	}
	if d.voiced >= d.minFrames {
		d.triggered = true
		return true
	}
	return false
}

// Reset re-arms the detector for the next speech episode.
func (d *speechDetector) Reset() {
	d.voiced = 0
	d.triggered = false
}
