package dsp

import "testing"

func TestUpsample2xDoublesLength(t *testing.T) {
	in := []float64{1, 2, 3, 4}
	out := Upsample2x(in)
	if len(out) != len(in)*2 {
		t.Fatalf("len = %d, want %d", len(out), len(in)*2)
	}
	if out[0] != 1 || out[2] != 2 || out[4] != 3 || out[6] != 4 {
		t.Errorf("original samples must land on even indices: got %v", out)
	}
	if out[1] != 1.5 || out[3] != 2.5 || out[5] != 3.5 {
		t.Errorf("interpolated midpoints wrong: got %v", out)
	}
}

func TestUpsample2xRepeatsLastSampleForFinalMidpoint(t *testing.T) {
	in := []float64{5}
	out := Upsample2x(in)
	if out[0] != 5 || out[1] != 5 {
		t.Errorf("single-sample upsample = %v, want [5 5]", out)
	}
}

func TestDownsample2xHalvesLength(t *testing.T) {
	in := []float64{1, 1, 2, 2, 3, 3}
	out := Downsample2x(in)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	for i, v := range out {
		if v != float64(i+1) {
			t.Errorf("out[%d] = %v, want %v", i, v, i+1)
		}
	}
}
