package audio

import (
	"bytes"
	"errors"
	"testing"

	"github.com/satriahrh/voicebridge/domain"
)

func TestDecodeMulawKnownValues(t *testing.T) {
	tests := []struct {
		name string
		in   byte
		want int16
	}{
		{"digital silence", 0xFF, 0},
		{"near silence", 0x7E, -8},
		{"max negative", 0x00, -32124},
		{"max positive", 0x80, 32124},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMulaw([]byte{tt.in})
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got[0] != tt.want {
				t.Errorf("decode(0x%02X) = %d, want %d", tt.in, got[0], tt.want)
			}
		})
	}
}

func TestDecodeMulawEmpty(t *testing.T) {
	if _, err := DecodeMulaw(nil); !errors.Is(err, domain.ErrFormat) {
		t.Fatalf("decode(nil) = %v, want ErrFormat", err)
	}
}

func TestEncodeMulawKnownValues(t *testing.T) {
	tests := []struct {
		name string
		in   int16
		want byte
	}{
		{"zero", 0, 0xFF},
		{"max positive", 32124, 0x80},
		{"max negative", -32124, 0x00},
		{"clipped positive", 32767, 0x80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeMulaw([]int16{tt.in})
			if got[0] != tt.want {
				t.Errorf("encode(%d) = 0x%02X, want 0x%02X", tt.in, got[0], tt.want)
			}
		})
	}
}

// Every μ-law code must survive decode then encode unchanged. This pins the
// decode table and the segmented encoder to each other.
func TestMulawRoundTrip(t *testing.T) {
	for code := 0; code < 256; code++ {
		samples, err := DecodeMulaw([]byte{byte(code)})
		if err != nil {
			t.Fatalf("decode 0x%02X: %v", code, err)
		}
		back := EncodeMulaw(samples)
		got := back[0]
		want := byte(code)
		// 0x7F and 0xFF both decode near zero; the encoder canonicalizes.
		if code == 0x7F && got == 0xFF {
			continue
		}
		if got != want {
			t.Errorf("round trip 0x%02X -> %d -> 0x%02X", code, samples[0], got)
		}
	}
}

// quantStep returns the width of the μ-law quantization interval containing
// the sample: 1<<(segment+3) for the segment of the biased magnitude.
func quantStep(x int16) int32 {
	v := int32(x)
	if v < 0 {
		v = -v
	}
	if v > 32635 {
		v = 32635
	}
	v += 132
	exp := uint(0)
	for m := v >> 7; m > 1; m >>= 1 {
		exp++
	}
	return 1 << (exp + 3)
}

// Encoding then decoding arbitrary PCM must stay within one quantization
// step of the input (one step of the segment the sample falls in).
func TestMulawEncodeDecodeWithinQuantizationStep(t *testing.T) {
	values := []int16{
		0, 1, -1, 7, -7, 8, -8, 33, -33, 100, -100,
		500, -500, 1000, -1000, 2047, -2047, 4000, -4000,
		10000, -10000, 20000, -20000, 32124, -32124,
		32635, -32635, 32767, -32768,
	}
	for _, x := range values {
		encoded := EncodeMulaw([]int16{x})
		decoded, err := DecodeMulaw(encoded)
		if err != nil {
			t.Fatalf("decode(encode(%d)): %v", x, err)
		}
		diff := int32(decoded[0]) - int32(x)
		if diff < 0 {
			diff = -diff
		}
		// Values beyond the clip level quantize against the clipped input.
		if x > 32635 || x < -32635 {
			clipped := int32(32635)
			if x < 0 {
				clipped = -clipped
			}
			diff = int32(decoded[0]) - clipped
			if diff < 0 {
				diff = -diff
			}
		}
		if step := quantStep(x); diff > step {
			t.Errorf("decode(encode(%d)) = %d, off by %d, want within %d", x, decoded[0], diff, step)
		}
	}
}

// A silence frame from the telephony leg decodes to zeros, upsamples to
// double the length at 16 kHz and encodes back to μ-law silence.
func TestSilenceFramePipeline(t *testing.T) {
	frame := bytes.Repeat([]byte{0xFF}, 160)

	samples, err := DecodeMulaw(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i, s := range samples {
		if s != 0 {
			t.Fatalf("sample %d = %d, want 0", i, s)
		}
	}

	up, err := Resample(samples, RateTelephony, RateBackendIn)
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	if len(up) != 320 {
		t.Fatalf("upsampled length = %d, want 320", len(up))
	}

	down, err := Resample(up, RateBackendIn, RateTelephony)
	if err != nil {
		t.Fatalf("downsample: %v", err)
	}
	encoded := EncodeMulaw(down)
	if len(encoded) != 160 {
		t.Fatalf("encoded length = %d, want 160", len(encoded))
	}
	for i, b := range encoded {
		if b != 0xFF {
			t.Fatalf("byte %d = 0x%02X, want 0xFF", i, b)
		}
	}
}
