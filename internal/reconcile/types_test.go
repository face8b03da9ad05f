package reconcile

import "testing"

func TestFloatEqualWithinRelativeTolerance(t *testing.T) {
	cases := []struct {
		a, b float64
		want bool
	}{
		{0.5, 0.5, true},
		{0.5, 0.5000001, true},
		{0.5, 0.6, false},
		{0, 1e-10, true},
		{1000.0, 1000.005, true},
		{1000.0, 1001.0, false},
	}
	for _, c := range cases {
		if got := floatEqual(c.a, c.b); got != c.want {
			t.Errorf("floatEqual(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestFundamentalChangeDetectsSourceTagChannelsOrRate(t *testing.T) {
	base := AppliedSourcePathParams{SourceTag: "tag", TargetOutputChannels: 2, TargetOutputSampleRate: 48000}

	if base.fundamentalChange(base) {
		t.Error("identical params should not be a fundamental change")
	}

	changedTag := base
	changedTag.SourceTag = "other"
	if !base.fundamentalChange(changedTag) {
		t.Error("source_tag change should be fundamental")
	}

	changedChannels := base
	changedChannels.TargetOutputChannels = 6
	if !base.fundamentalChange(changedChannels) {
		t.Error("channel count change should be fundamental")
	}

	changedRate := base
	changedRate.TargetOutputSampleRate = 96000
	if !base.fundamentalChange(changedRate) {
		t.Error("sample rate change should be fundamental")
	}

	changedVolume := base
	changedVolume.Volume = 0.9
	if base.fundamentalChange(changedVolume) {
		t.Error("volume-only change should not be fundamental")
	}
}

func TestParametersEqualIgnoresGeneratedInstanceID(t *testing.T) {
	a := AppliedSourcePathParams{Volume: 0.5, GeneratedInstanceID: "inst1"}
	b := AppliedSourcePathParams{Volume: 0.5, GeneratedInstanceID: "inst2"}
	if !a.parametersEqual(b) {
		t.Error("parametersEqual should ignore GeneratedInstanceID")
	}
}

func TestConnectionsEqualIgnoresOrder(t *testing.T) {
	if !connectionsEqual([]string{"a", "b"}, []string{"b", "a"}) {
		t.Error("connectionsEqual should be order-independent")
	}
	if connectionsEqual([]string{"a", "b"}, []string{"a"}) {
		t.Error("connectionsEqual should detect differing lengths")
	}
}
