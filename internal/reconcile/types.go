// Package reconcile implements ConfigApplier: a declarative diff-and-apply
// layer that drives engine.AudioManager from a DesiredEngineState, issuing
// only the imperative calls needed to move active state to desired state.
package reconcile

import "github.com/netscream/audiorouter/internal/dsp"

// AppliedSinkParams describes the desired configuration of one sink and the
// set of source paths that should be connected to it.
type AppliedSinkParams struct {
	SinkID                string
	SinkEngineConfig       SinkEngineConfig
	ConnectedSourcePathIDs []string
}

// SinkEngineConfig is the engine-facing portion of a sink's desired
// configuration: everything that, if changed, requires removing and
// re-adding the sink rather than an in-place update.
type SinkEngineConfig struct {
	Addr       string
	SampleRate int
	BitDepth   int
	Channels   int
	Transport  string // "udp" or "tcp"
	UseRTP     bool
	SSRC       uint32
	MP3Enabled bool
}

// Equal reports engine-config equivalence, ignoring ConnectedSourcePathIDs
// (that set is reconciled separately, by connect/disconnect calls).
func (c SinkEngineConfig) Equal(o SinkEngineConfig) bool {
	return c == o
}

// AppliedSourcePathParams describes the desired configuration of one source
// path, keyed by path_id (the stable identity the reconciler tracks across
// applies; it is not known to AudioManager, which only knows instance_id).
type AppliedSourcePathParams struct {
	PathID       string
	SourceTag    string
	TargetSinkID string

	Volume       float64
	EQValues     [dsp.EQBands]float64
	DelayMs      int
	TimeshiftSec float64

	TargetOutputChannels   int
	TargetOutputSampleRate int

	SpeakerLayoutsMap map[int]dsp.SpeakerMatrix

	// GeneratedInstanceID is filled in by the reconciler on successful
	// apply; callers populate everything else.
	GeneratedInstanceID string
}

// fundamentalChange reports whether o differs from p in a way that cannot be
// applied with update_source_* calls alone and instead requires removing and
// re-adding the path (spec step 5: source_tag, target output channels, or
// target output rate differ).
func (p AppliedSourcePathParams) fundamentalChange(o AppliedSourcePathParams) bool {
	return p.SourceTag != o.SourceTag ||
		p.TargetOutputChannels != o.TargetOutputChannels ||
		p.TargetOutputSampleRate != o.TargetOutputSampleRate
}

// parametersEqual reports whether o's tunable parameters (everything an
// update_source_* call can change) equal p's, using float tolerance on
// volume and timeshift and exact equality everywhere else.
func (p AppliedSourcePathParams) parametersEqual(o AppliedSourcePathParams) bool {
	return floatEqual(p.Volume, o.Volume) &&
		p.EQValues == o.EQValues &&
		p.DelayMs == o.DelayMs &&
		floatEqual(p.TimeshiftSec, o.TimeshiftSec) &&
		speakerLayoutsEqual(p.SpeakerLayoutsMap, o.SpeakerLayoutsMap)
}

const (
	floatRelTolerance = 1e-5
	floatAbsFloor     = 1e-9
)

// floatEqual compares a and b with ~1e-5 relative tolerance and an absolute
// floor of 1e-9 so values near zero don't blow up the relative comparison.
func floatEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	if diff <= floatAbsFloor {
		return true
	}
	magnitude := a
	if magnitude < 0 {
		magnitude = -magnitude
	}
	if b2 := b; b2 < 0 {
		b2 = -b2
		if b2 > magnitude {
			magnitude = b2
		}
	} else if b2 > magnitude {
		magnitude = b2
	}
	return diff <= floatRelTolerance*magnitude
}

func speakerLayoutsEqual(a, b map[int]dsp.SpeakerMatrix) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		ov, ok := b[k]
		if !ok || len(v) != len(ov) {
			return false
		}
		for i := range v {
			if len(v[i]) != len(ov[i]) {
				return false
			}
			for j := range v[i] {
				if v[i][j] != ov[i][j] {
					return false
				}
			}
		}
	}
	return true
}

// DesiredEngineState is the complete declarative state apply_state reconciles
// active state toward: every sink that should exist and every source path
// that should exist and be connected.
type DesiredEngineState struct {
	Sinks       []AppliedSinkParams
	SourcePaths []AppliedSourcePathParams
}
