package dsp

// Upsample2x doubles the sample count of one channel's worth of samples
// using linear interpolation: each output pair is (in[i], midpoint(in[i],
// in[i+1])). The last input sample is repeated for the final midpoint since
// there is no following sample to interpolate towards.
func Upsample2x(in []float64) []float64 {
	out := make([]float64, len(in)*2)
	for i, x := range in {
		out[2*i] = x
		var next float64
		if i+1 < len(in) {
			next = in[i+1]
		} else {
			next = x
		}
		out[2*i+1] = (x + next) / 2
	}
	return out
}

// Downsample2x halves the sample count by averaging each pair, the inverse
// operation of Upsample2x's midpoint interpolation. An odd-length input's
// final unpaired sample is dropped.
func Downsample2x(in []float64) []float64 {
	n := len(in) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = (in[2*i] + in[2*i+1]) / 2
	}
	return out
}
