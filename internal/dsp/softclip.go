package dsp

import "math"

// softClipThreshold is the normalized amplitude above which the tanh curve
// takes over from straight-line volume scaling.
const softClipThreshold = 0.8

// ApplyVolume scales a sample by the linear volume factor and soft-clips
// anything that would exceed softClipThreshold, using tanh to curve the
// excess smoothly into the [-1,1] range instead of hard-clipping.
func ApplyVolume(x, volume float64) float64 {
	scaled := x * volume
	abs := math.Abs(scaled)
	if abs <= softClipThreshold {
		return scaled
	}

	sign := 1.0
	if scaled < 0 {
		sign = -1.0
	}
	excess := abs - softClipThreshold
	headroom := 1.0 - softClipThreshold
	curved := softClipThreshold + headroom*math.Tanh(excess/headroom)
	return sign * curved
}
