package dsp

import "math/rand"

// errorCarryWeight is the fraction of the previous quantization error fed
// back into the next sample, giving the TPDF noise shaper its characteristic
// high-frequency-weighted error spectrum.
const errorCarryWeight = 0.25

// Ditherer applies triangular-PDF dither with first-order noise-shaped error
// carry before requantizing a float64 sample (range roughly [-1,1]) down to
// an N-bit signed integer.
type Ditherer struct {
	rng        *rand.Rand
	prevError  float64
	fullScale  float64
}

// NewDitherer builds a ditherer targeting the given output bit depth.
func NewDitherer(bitDepth int, seed int64) *Ditherer {
	return &Ditherer{
		rng:       rand.New(rand.NewSource(seed)),
		fullScale: float64(int64(1)<<(bitDepth-1)) - 1,
	}
}

// Quantize dithers and requantizes one sample, returning the integer code
// value (not yet byte-packed) for the configured bit depth. An input of
// exactly zero yields code 0 with no dither and clears the error carry, so
// digital silence stays digital silence.
func (d *Ditherer) Quantize(x float64) int64 {
	if x == 0 {
		d.prevError = 0
		return 0
	}
	shaped := x*d.fullScale + errorCarryWeight*d.prevError

	// Triangular PDF: sum of two independent uniform[-0.5,0.5] draws.
	noise := (d.rng.Float64() - 0.5) + (d.rng.Float64() - 0.5)
	dithered := shaped + noise

	quantized := roundHalfAwayFromZero(dithered)
	d.prevError = shaped - quantized

	if quantized > d.fullScale {
		quantized = d.fullScale
	}
	if quantized < -d.fullScale-1 {
		quantized = -d.fullScale - 1
	}
	return int64(quantized)
}

// Reset clears the error-carry state, used on format or bit-depth change.
func (d *Ditherer) Reset() {
	d.prevError = 0
}

func roundHalfAwayFromZero(x float64) float64 {
	if x >= 0 {
		return float64(int64(x + 0.5))
	}
	return float64(int64(x - 0.5))
}
