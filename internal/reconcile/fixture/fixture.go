// Package fixture loads DesiredEngineState snapshots from YAML, for tests
// and for example configuration documents shipped alongside the core.
package fixture

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/netscream/audiorouter/internal/dsp"
	"github.com/netscream/audiorouter/internal/reconcile"
)

// sinkDoc and pathDoc mirror reconcile's applied-params types with yaml tags;
// the core types themselves stay free of serialization tags since nothing
// outside this package needs them.
type sinkDoc struct {
	SinkID     string   `yaml:"sink_id"`
	Addr       string   `yaml:"addr"`
	SampleRate int      `yaml:"sample_rate"`
	BitDepth   int      `yaml:"bit_depth"`
	Channels   int      `yaml:"channels"`
	Transport  string   `yaml:"transport"`
	UseRTP     bool     `yaml:"use_rtp"`
	SSRC       uint32   `yaml:"ssrc"`
	MP3Enabled bool     `yaml:"mp3_enabled"`
	Connected  []string `yaml:"connected_source_path_ids"`
}

type pathDoc struct {
	PathID       string     `yaml:"path_id"`
	SourceTag    string     `yaml:"source_tag"`
	TargetSinkID string     `yaml:"target_sink_id"`
	Volume       float64    `yaml:"volume"`
	EQValues     []float64  `yaml:"eq_values"`
	DelayMs      int        `yaml:"delay_ms"`
	TimeshiftSec float64    `yaml:"timeshift_sec"`
	Channels     int        `yaml:"target_output_channels"`
	SampleRate   int        `yaml:"target_output_samplerate"`
}

type stateDoc struct {
	Sinks       []sinkDoc `yaml:"sinks"`
	SourcePaths []pathDoc `yaml:"source_paths"`
}

// Load parses a YAML document into a DesiredEngineState. An eq_values list
// shorter than dsp.EQBands is padded with 1.0 (flat); longer is an error.
func Load(r io.Reader) (reconcile.DesiredEngineState, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return reconcile.DesiredEngineState{}, fmt.Errorf("fixture: read: %w", err)
	}
	var doc stateDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return reconcile.DesiredEngineState{}, fmt.Errorf("fixture: unmarshal: %w", err)
	}
	return toState(doc)
}

// LoadFile opens path and delegates to Load.
func LoadFile(path string) (reconcile.DesiredEngineState, error) {
	f, err := os.Open(path)
	if err != nil {
		return reconcile.DesiredEngineState{}, fmt.Errorf("fixture: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

func toState(doc stateDoc) (reconcile.DesiredEngineState, error) {
	state := reconcile.DesiredEngineState{
		Sinks:       make([]reconcile.AppliedSinkParams, len(doc.Sinks)),
		SourcePaths: make([]reconcile.AppliedSourcePathParams, len(doc.SourcePaths)),
	}
	for i, s := range doc.Sinks {
		state.Sinks[i] = reconcile.AppliedSinkParams{
			SinkID: s.SinkID,
			SinkEngineConfig: reconcile.SinkEngineConfig{
				Addr:       s.Addr,
				SampleRate: s.SampleRate,
				BitDepth:   s.BitDepth,
				Channels:   s.Channels,
				Transport:  s.Transport,
				UseRTP:     s.UseRTP,
				SSRC:       s.SSRC,
				MP3Enabled: s.MP3Enabled,
			},
			ConnectedSourcePathIDs: s.Connected,
		}
	}
	for i, p := range doc.SourcePaths {
		eq, err := toEQArray(p.EQValues)
		if err != nil {
			return reconcile.DesiredEngineState{}, fmt.Errorf("fixture: path %s: %w", p.PathID, err)
		}
		state.SourcePaths[i] = reconcile.AppliedSourcePathParams{
			PathID:                 p.PathID,
			SourceTag:              p.SourceTag,
			TargetSinkID:           p.TargetSinkID,
			Volume:                 p.Volume,
			EQValues:               eq,
			DelayMs:                p.DelayMs,
			TimeshiftSec:           p.TimeshiftSec,
			TargetOutputChannels:   p.Channels,
			TargetOutputSampleRate: p.SampleRate,
		}
	}
	return state, nil
}

func toEQArray(values []float64) ([dsp.EQBands]float64, error) {
	var out [dsp.EQBands]float64
	for i := range out {
		out[i] = 1.0
	}
	if len(values) > dsp.EQBands {
		return out, fmt.Errorf("eq_values has %d entries, want at most %d", len(values), dsp.EQBands)
	}
	copy(out[:], values)
	return out, nil
}
