package reconcile

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/netscream/audiorouter/internal/dsp"
	"github.com/netscream/audiorouter/internal/engine"
)

type call struct {
	name string
	args []any
}

type fakeTarget struct {
	calls     []call
	nextID    int
	failAdd   map[string]bool // sink_id -> force AddSink failure
	failStart bool
}

func (f *fakeTarget) record(name string, args ...any) {
	f.calls = append(f.calls, call{name: name, args: args})
}

func (f *fakeTarget) AddSink(cfg engine.SinkConfig) bool {
	f.record("add_sink", cfg.SinkID)
	return !f.failAdd[cfg.SinkID]
}

func (f *fakeTarget) RemoveSink(sinkID string) bool {
	f.record("remove_sink", sinkID)
	return true
}

func (f *fakeTarget) ConfigureSource(cfg engine.SourceConfig) string {
	f.nextID++
	id := cfgInstanceID(f.nextID)
	f.record("configure_source", cfg.SourceTag, id)
	return id
}

func (f *fakeTarget) RemoveSource(instanceID string) bool {
	f.record("remove_source", instanceID)
	return true
}

func (f *fakeTarget) ConnectSourceSink(instanceID, sinkID string) bool {
	f.record("connect_source_sink", instanceID, sinkID)
	return true
}

func (f *fakeTarget) DisconnectSourceSink(instanceID, sinkID string) bool {
	f.record("disconnect_source_sink", instanceID, sinkID)
	return true
}

func (f *fakeTarget) UpdateSourceVolume(instanceID string, volume float64) bool {
	f.record("update_source_volume", instanceID, volume)
	return true
}

func (f *fakeTarget) UpdateSourceEqualizer(instanceID string, eq [dsp.EQBands]float64) bool {
	f.record("update_source_equalizer", instanceID)
	return true
}

func (f *fakeTarget) UpdateSourceDelay(instanceID string, delayMs int) bool {
	f.record("update_source_delay", instanceID, delayMs)
	return true
}

func (f *fakeTarget) UpdateSourceTimeshift(instanceID string, sec float64) bool {
	f.record("update_source_timeshift", instanceID, sec)
	return true
}

func (f *fakeTarget) UpdateSourceSpeakerLayoutsMap(instanceID string, layouts map[int]dsp.SpeakerMatrix) bool {
	f.record("update_source_speaker_layouts_map", instanceID)
	return true
}

func cfgInstanceID(n int) string {
	return "inst" + string(rune('0'+n))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(bytes.Buffer), nil))
}

func countCalls(calls []call, name string) int {
	n := 0
	for _, c := range calls {
		if c.name == name {
			n++
		}
	}
	return n
}

// TestApplyAddUpdateRemoveSequence mirrors the acceptance scenario: apply one
// sink and one connected path, re-apply with only volume changed, then
// re-apply empty, checking each step issues exactly the minimal calls.
func TestApplyAddUpdateRemoveSequence(t *testing.T) {
	target := &fakeTarget{}
	applier := New(target, testLogger())

	state := DesiredEngineState{
		Sinks: []AppliedSinkParams{
			{SinkID: "s1", SinkEngineConfig: SinkEngineConfig{Addr: "127.0.0.1:4000", SampleRate: 48000, BitDepth: 16, Channels: 2}, ConnectedSourcePathIDs: []string{"p1"}},
		},
		SourcePaths: []AppliedSourcePathParams{
			{PathID: "p1", SourceTag: "10.0.0.5", TargetSinkID: "s1", Volume: 0.5, TargetOutputChannels: 2, TargetOutputSampleRate: 48000},
		},
	}

	if !applier.Apply(state) {
		t.Fatal("first apply returned false")
	}
	if countCalls(target.calls, "configure_source") != 1 {
		t.Errorf("expected 1 configure_source, got %d", countCalls(target.calls, "configure_source"))
	}
	if countCalls(target.calls, "add_sink") != 1 {
		t.Errorf("expected 1 add_sink, got %d", countCalls(target.calls, "add_sink"))
	}
	if countCalls(target.calls, "connect_source_sink") != 1 {
		t.Errorf("expected 1 connect_source_sink, got %d", countCalls(target.calls, "connect_source_sink"))
	}

	target.calls = nil
	state.SourcePaths[0].Volume = 0.8
	if !applier.Apply(state) {
		t.Fatal("second apply returned false")
	}
	if len(target.calls) != 1 || target.calls[0].name != "update_source_volume" {
		t.Fatalf("expected exactly one update_source_volume call, got %+v", target.calls)
	}

	target.calls = nil
	if !applier.Apply(DesiredEngineState{}) {
		t.Fatal("third apply returned false")
	}
	wantNames := map[string]bool{"disconnect_source_sink": true, "remove_source": true, "remove_sink": true}
	for _, c := range target.calls {
		if !wantNames[c.name] {
			t.Errorf("unexpected call during teardown: %s", c.name)
		}
	}
	if countCalls(target.calls, "disconnect_source_sink") != 1 ||
		countCalls(target.calls, "remove_source") != 1 ||
		countCalls(target.calls, "remove_sink") != 1 {
		t.Errorf("expected exactly one disconnect/remove_source/remove_sink, got %+v", target.calls)
	}
}

func TestApplySameStateTwiceIsANoop(t *testing.T) {
	target := &fakeTarget{}
	applier := New(target, testLogger())
	state := DesiredEngineState{
		Sinks: []AppliedSinkParams{
			{SinkID: "s1", SinkEngineConfig: SinkEngineConfig{Addr: "a", SampleRate: 48000, BitDepth: 16, Channels: 2}},
		},
	}
	applier.Apply(state)
	target.calls = nil
	applier.Apply(state)
	if len(target.calls) != 0 {
		t.Errorf("expected zero calls on repeat apply, got %+v", target.calls)
	}
}

func TestApplyFundamentalChangeRemovesAndReAddsPath(t *testing.T) {
	target := &fakeTarget{}
	applier := New(target, testLogger())
	state := DesiredEngineState{
		SourcePaths: []AppliedSourcePathParams{
			{PathID: "p1", SourceTag: "10.0.0.5", TargetOutputChannels: 2, TargetOutputSampleRate: 48000},
		},
	}
	applier.Apply(state)
	target.calls = nil

	state.SourcePaths[0].SourceTag = "10.0.0.6"
	applier.Apply(state)

	if countCalls(target.calls, "remove_source") != 1 {
		t.Errorf("expected a remove_source on fundamental change, got %+v", target.calls)
	}
	if countCalls(target.calls, "configure_source") != 1 {
		t.Errorf("expected a configure_source re-add on fundamental change, got %+v", target.calls)
	}
}

func TestApplyReportsFailureWhenAddSinkFails(t *testing.T) {
	target := &fakeTarget{failAdd: map[string]bool{"s1": true}}
	applier := New(target, testLogger())
	state := DesiredEngineState{
		Sinks: []AppliedSinkParams{{SinkID: "s1", SinkEngineConfig: SinkEngineConfig{Addr: "a"}}},
	}
	if applier.Apply(state) {
		t.Error("expected Apply to report failure when add_sink fails")
	}
}

func TestApplySinkEngineConfigChangeRemovesAndReAdds(t *testing.T) {
	target := &fakeTarget{}
	applier := New(target, testLogger())
	state := DesiredEngineState{
		Sinks: []AppliedSinkParams{{SinkID: "s1", SinkEngineConfig: SinkEngineConfig{Addr: "a", SampleRate: 48000}}},
	}
	applier.Apply(state)
	target.calls = nil

	state.Sinks[0].SinkEngineConfig.Addr = "b"
	applier.Apply(state)

	if countCalls(target.calls, "remove_sink") != 1 || countCalls(target.calls, "add_sink") != 1 {
		t.Errorf("expected remove_sink+add_sink on engine-config change, got %+v", target.calls)
	}
}
