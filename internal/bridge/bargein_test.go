package bridge

import (
	"bytes"
	"testing"

	"github.com/satriahrh/voicebridge/internal/audio"
)

func loudFrame() []byte {
	samples := make([]int16, 160)
	for i := range samples {
		samples[i] = 8000
	}
	return audio.PCM16ToBytes(samples)
}

func quietFrame() []byte {
	return bytes.Repeat([]byte{0}, 320)
}

func TestSpeechDetectorTriggersAfterMinFrames(t *testing.T) {
	d := newSpeechDetector(DefaultBargeInThreshold, 3)

	if d.Sample(loudFrame()) {
		t.Fatal("triggered after one voiced frame")
	}
	if d.Sample(loudFrame()) {
		t.Fatal("triggered after two voiced frames")
	}
	if !d.Sample(loudFrame()) {
		t.Fatal("did not trigger after three consecutive voiced frames")
	}
}

func TestSpeechDetectorFiresOncePerEpisode(t *testing.T) {
	d := newSpeechDetector(DefaultBargeInThreshold, 1)
	if !d.Sample(loudFrame()) {
		t.Fatal("did not trigger")
	}
	for i := 0; i < 5; i++ {
		if d.Sample(loudFrame()) {
			t.Fatal("re-triggered without reset")
		}
	}
	d.Reset()
	if !d.Sample(loudFrame()) {
		t.Fatal("did not trigger after reset")
	}
}

func TestSpeechDetectorSilenceResetsRun(t *testing.T) {
	d := newSpeechDetector(DefaultBargeInThreshold, 3)
	d.Sample(loudFrame())
	d.Sample(loudFrame())
	d.Sample(quietFrame())
	if d.Sample(loudFrame()) {
		t.Fatal("triggered despite interrupted voiced run")
	}
}

func TestSpeechDetectorIgnoresQuietAudio(t *testing.T) {
	d := newSpeechDetector(DefaultBargeInThreshold, 1)
	for i := 0; i < 10; i++ {
		if d.Sample(quietFrame()) {
			t.Fatal("triggered on silence")
		}
	}
}
