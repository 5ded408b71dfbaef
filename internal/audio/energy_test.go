package audio

import "testing"

func TestRMSEnergy(t *testing.T) {
	loud := make([]int16, 160)
	for i := range loud {
		loud[i] = 16000
	}
	quiet := make([]int16, 160)

	if got := RMSEnergy(PCM16ToBytes(quiet)); got != 0 {
		t.Errorf("silence energy = %v, want 0", got)
	}
	got := RMSEnergy(PCM16ToBytes(loud))
	if got < 0.4 || got > 0.6 {
		t.Errorf("constant half-scale energy = %v, want about 0.49", got)
	}
	if RMSEnergy(nil) != 0 {
		t.Error("empty input energy not zero")
	}
}
