package engine

import (
	"github.com/netscream/audiorouter/internal/dsp"
	"github.com/netscream/audiorouter/internal/frame"
	"github.com/netscream/audiorouter/internal/sink"
)

// validSampleRates is the closed enumerated set of rates a sink's output may
// use, each a whole multiple of 44100 or 48000.
var validSampleRates = map[int]struct{}{
	44100: {}, 48000: {}, 88200: {}, 96000: {}, 192000: {},
}

// validBitDepths is the closed set of output bit depths a sink may target.
var validBitDepths = map[int]struct{}{16: {}, 24: {}, 32: {}}

func isValidSinkFormat(f frame.Format) bool {
	if _, ok := validSampleRates[f.SampleRate]; !ok {
		return false
	}
	if _, ok := validBitDepths[f.BitDepth]; !ok {
		return false
	}
	if f.Channels < 1 || f.Channels > 8 {
		return false
	}
	return true
}

// SinkConfig describes one output endpoint: address, transport, output PCM
// format, and whether an MP3 side-stream should be maintained alongside it.
type SinkConfig struct {
	SinkID     string
	Addr       string
	Format     frame.Format
	Transport  sink.Transport
	UseRTP     bool
	SSRC       uint32
	MP3Enabled bool
}

// Equal reports whether two sink configs are engine-equivalent: same
// endpoint, format, transport, and MP3 flag. Used by the reconciler to
// decide whether a sink update requires a remove+add.
func (c SinkConfig) Equal(o SinkConfig) bool {
	return c.SinkID == o.SinkID &&
		c.Addr == o.Addr &&
		c.Format == o.Format &&
		c.Transport == o.Transport &&
		c.UseRTP == o.UseRTP &&
		c.SSRC == o.SSRC &&
		c.MP3Enabled == o.MP3Enabled
}

// SourceConfig describes one source path: which physical source feeds it,
// which sink it targets, and the per-path DSP parameters the reconciler
// drives via configure_source/update_source_*.
type SourceConfig struct {
	SourceTag    string
	TargetSinkID string

	Volume       float64
	EQ           [dsp.EQBands]float64
	DelayMs      int
	TimeshiftSec float64

	TargetOutputChannels   int
	TargetOutputSampleRate int

	// SpeakerLayouts optionally overrides the default speaker-mix matrix
	// for a given input channel count. The entry matching the path's
	// observed input channel count is applied when the path is configured
	// and when the map is updated; a later change of the arriving format
	// rebuilds the default matrix and does not reapply an override.
	SpeakerLayouts map[int]dsp.SpeakerMatrix
}

// clampVolume enforces the [0.0, 1.0] invariant.
func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// clampDelayMs enforces the [0, 5000]ms invariant.
func clampDelayMs(ms int) int {
	if ms < 0 {
		return 0
	}
	if ms > 5000 {
		return 5000
	}
	return ms
}

// normalizeEQ replaces missing/invalid bands with 1.0 (flat), per invariant 3.
func normalizeEQ(eq [dsp.EQBands]float64) [dsp.EQBands]float64 {
	var out [dsp.EQBands]float64
	for i, v := range eq {
		if v < 0 || v > 2.0 {
			out[i] = 1.0
			continue
		}
		out[i] = v
	}
	return out
}

// eqToGainsDB converts the spec's 0.0..2.0 linear EQ vector into the
// decibel gains dsp.Equalizer.SetGains expects: gain_dB = 10*(band-1), so
// 1.0 is flat (0dB), 2.0 is +10dB, 0.0 is -10dB.
func eqToGainsDB(eq [dsp.EQBands]float64) []float64 {
	out := make([]float64, dsp.EQBands)
	for i, v := range eq {
		out[i] = 10 * (v - 1)
	}
	return out
}
