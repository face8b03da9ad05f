package dsp

// SpeakerMatrix is a gain matrix mapping input channels to output channels:
// row i, column j holds the gain applied from input channel j into output
// channel i. ApplyMatrix assumes the matrix's row count matches the output
// channel count and column count matches the input channel count.
type SpeakerMatrix [][]float64

// IdentityMatrix builds an n-channel passthrough matrix (1.0 on the
// diagonal, 0 elsewhere), the identity that makes speaker mixing a no-op
// for the bypass predicate.
func IdentityMatrix(n int) SpeakerMatrix {
	m := make(SpeakerMatrix, n)
	for i := range m {
		m[i] = make([]float64, n)
		m[i][i] = 1
	}
	return m
}

// IsIdentity reports whether the matrix is a same-size passthrough.
func (m SpeakerMatrix) IsIdentity() bool {
	for i, row := range m {
		if len(row) != len(m) {
			return false
		}
		for j, g := range row {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if g != want {
				return false
			}
		}
	}
	return true
}

// InChannels returns the number of input channels the matrix expects.
func (m SpeakerMatrix) InChannels() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// OutChannels returns the number of output channels the matrix produces.
func (m SpeakerMatrix) OutChannels() int {
	return len(m)
}

// Apply mixes one interleaved input sample-frame (one sample per input
// channel) into an output sample-frame (one sample per output channel).
func (m SpeakerMatrix) Apply(in []float64, out []float64) {
	for i, row := range m {
		var sum float64
		for j, g := range row {
			if g == 0 {
				continue
			}
			sum += g * in[j]
		}
		out[i] = sum
	}
}
