package audio

import (
	"fmt"

	"github.com/satriahrh/voicebridge/domain"
)

// Rates supported by the bridge. Telephony speaks 8 kHz; the AI backends
// speak 16 kHz in and 24 kHz out (Gemini) or 24 kHz both ways (OpenAI).
const (
	RateTelephony = 8000
	RateBackendIn = 16000
	RateBackend   = 24000
)

func supportedRate(rate int) bool {
	return rate == RateTelephony || rate == RateBackendIn || rate == RateBackend
}

// Resample converts PCM16 samples between supported rates using linear
// interpolation. Deterministic, no internal buffering: output length is
// round(n*to/from) within one sample, so total duration is preserved and no
// latency beyond the frame itself is added.
func Resample(samples []int16, fromRate, toRate int) ([]int16, error) {
	if !supportedRate(fromRate) || !supportedRate(toRate) {
		return nil, fmt.Errorf("resample: unsupported rate %d->%d: %w", fromRate, toRate, domain.ErrFormat)
	}
	if fromRate == toRate {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out, nil
	}
	if len(samples) == 0 {
		return []int16{}, nil
	}

	outLen := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	if outLen == 0 {
		outLen = 1
	}
	out := make([]int16, outLen)
	step := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out, nil
}

// BytesToPCM16 reinterprets little-endian 16-bit PCM bytes as samples. A
// trailing odd byte is dropped.
func BytesToPCM16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[2*i]) | int16(data[2*i+1])<<8
	}
	return samples
}

// PCM16ToBytes serializes samples as little-endian 16-bit PCM bytes.
func PCM16ToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[2*i] = byte(s)
		data[2*i+1] = byte(s >> 8)
	}
	return data
}
