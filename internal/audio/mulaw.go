// Package audio provides the stateless codec used by the bridge: ITU-T G.711
// μ-law expansion/compression and sample-rate conversion between the three
// rates the bridge speaks (8 kHz telephony, 16 kHz and 24 kHz AI backends).
//
// All functions are pure and safe for concurrent use from independent calls.
package audio

import (
	"fmt"

	"github.com/satriahrh/voicebridge/domain"
)

// mulawDecodeTable is the standard ITU-T G.711 μ-law expansion table.
// μ-law is total over byte values, so decode never fails on content.
var mulawDecodeTable = [256]int16{
	-32124, -31100, -30076, -29052, -28028, -27004, -25980, -24956,
	-23932, -22908, -21884, -20860, -19836, -18812, -17788, -16764,
	-15996, -15484, -14972, -14460, -13948, -13436, -12924, -12412,
	-11900, -11388, -10876, -10364, -9852, -9340, -8828, -8316,
	-7932, -7676, -7420, -7164, -6908, -6652, -6396, -6140,
	-5884, -5628, -5372, -5116, -4860, -4604, -4348, -4092,
	-3900, -3772, -3644, -3516, -3388, -3260, -3132, -3004,
	-2876, -2748, -2620, -2492, -2364, -2236, -2108, -1980,
	-1884, -1820, -1756, -1692, -1628, -1564, -1500, -1436,
	-1372, -1308, -1244, -1180, -1116, -1052, -988, -924,
	-876, -844, -812, -780, -748, -716, -684, -652,
	-620, -588, -556, -524, -492, -460, -428, -396,
	-372, -356, -340, -324, -308, -292, -276, -260,
	-244, -228, -212, -196, -180, -164, -148, -132,
	-120, -112, -104, -96, -88, -80, -72, -64,
	-56, -48, -40, -32, -24, -16, -8, 0,
	32124, 31100, 30076, 29052, 28028, 27004, 25980, 24956,
	23932, 22908, 21884, 20860, 19836, 18812, 17788, 16764,
	15996, 15484, 14972, 14460, 13948, 13436, 12924, 12412,
	11900, 11388, 10876, 10364, 9852, 9340, 8828, 8316,
	7932, 7676, 7420, 7164, 6908, 6652, 6396, 6140,
	5884, 5628, 5372, 5116, 4860, 4604, 4348, 4092,
	3900, 3772, 3644, 3516, 3388, 3260, 3132, 3004,
	2876, 2748, 2620, 2492, 2364, 2236, 2108, 1980,
	1884, 1820, 1756, 1692, 1628, 1564, 1500, 1436,
	1372, 1308, 1244, 1180, 1116, 1052, 988, 924,
	876, 844, 812, 780, 748, 716, 684, 652,
	620, 588, 556, 524, 492, 460, 428, 396,
	372, 356, 340, 324, 308, 292, 276, 260,
	244, 228, 212, 196, 180, 164, 148, 132,
	120, 112, 104, 96, 88, 80, 72, 64,
	56, 48, 40, 32, 24, 16, 8, 0,
}

const (
	mulawBias = 132
	mulawClip = 32635
)

// mulawSegments maps the top byte of a biased magnitude to its segment number.
var mulawSegments [256]uint8

func init() {
	seg := uint8(0)
	for i := 0; i < 256; i++ {
		if i >= 1<<(seg+1) {
			seg++
		}
		mulawSegments[i] = seg
	}
}

// DecodeMulaw expands μ-law bytes to 16-bit linear PCM samples.
func DecodeMulaw(data []byte) ([]int16, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode mulaw: empty input: %w", domain.ErrFormat)
	}
	samples := make([]int16, len(data))
	for i, b := range data {
		samples[i] = mulawDecodeTable[b]
	}
	return samples, nil
}

// EncodeMulaw compresses 16-bit linear PCM samples to μ-law bytes. The same
// sample sequence always yields the same bytes.
func EncodeMulaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = encodeOne(s)
	}
	return out
}

func encodeOne(sample int16) byte {
	var sign byte
	v := int32(sample)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exponent := mulawSegments[(v>>7)&0xFF]
	mantissa := byte((v >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}
