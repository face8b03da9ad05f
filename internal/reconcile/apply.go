package reconcile

import (
	"log/slog"
	"sync"

	"github.com/netscream/audiorouter/internal/dsp"
	"github.com/netscream/audiorouter/internal/engine"
	"github.com/netscream/audiorouter/internal/frame"
	"github.com/netscream/audiorouter/internal/sink"
)

// Target is the subset of engine.AudioManager the applier drives. *engine.
// AudioManager satisfies it structurally; tests substitute a recording fake.
type Target interface {
	AddSink(cfg engine.SinkConfig) bool
	RemoveSink(sinkID string) bool
	ConfigureSource(cfg engine.SourceConfig) string
	RemoveSource(instanceID string) bool
	ConnectSourceSink(instanceID, sinkID string) bool
	DisconnectSourceSink(instanceID, sinkID string) bool
	UpdateSourceVolume(instanceID string, volume float64) bool
	UpdateSourceEqualizer(instanceID string, eq [dsp.EQBands]float64) bool
	UpdateSourceDelay(instanceID string, delayMs int) bool
	UpdateSourceTimeshift(instanceID string, sec float64) bool
	UpdateSourceSpeakerLayoutsMap(instanceID string, layouts map[int]dsp.SpeakerMatrix) bool
}

// ConfigApplier converts a DesiredEngineState into a minimal set of Target
// calls, tracking the shadow state needed to diff one apply against the next.
type ConfigApplier struct {
	target Target
	logger *slog.Logger

	mu                sync.Mutex
	activeSinks       map[string]AppliedSinkParams
	activeSourcePaths map[string]AppliedSourcePathParams
}

// New builds a ConfigApplier with empty shadow state. Call Apply repeatedly
// with successive DesiredEngineState snapshots; the same state applied twice
// in a row issues zero Target calls on the second call.
func New(target Target, logger *slog.Logger) *ConfigApplier {
	return &ConfigApplier{
		target:            target,
		logger:            logger.With("subsystem", "reconciler"),
		activeSinks:       make(map[string]AppliedSinkParams),
		activeSourcePaths: make(map[string]AppliedSourcePathParams),
	}
}

// Apply reconciles active state toward desired, in the fixed order: remove
// source paths, remove sinks, add source paths, add sinks (with their
// connections), update source paths, update sinks (with their connections).
// It returns true iff no Target call failed.
func (a *ConfigApplier) Apply(desired DesiredEngineState) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	ok := true

	desiredSinks := make(map[string]AppliedSinkParams, len(desired.Sinks))
	for _, s := range desired.Sinks {
		desiredSinks[s.SinkID] = s
	}
	desiredPaths := make(map[string]AppliedSourcePathParams, len(desired.SourcePaths))
	for _, p := range desired.SourcePaths {
		desiredPaths[p.PathID] = p
	}

	removePaths, addPaths, updatePaths := a.diffPaths(desiredPaths)
	removeSinks, addSinks, updateSinks := a.diffSinks(desiredSinks)

	for _, pathID := range removePaths {
		if !a.removePath(pathID) {
			ok = false
		}
	}
	for _, sinkID := range removeSinks {
		if !a.removeSink(sinkID) {
			ok = false
		}
	}
	for _, p := range addPaths {
		if !a.addPath(p) {
			ok = false
		}
	}
	for _, s := range addSinks {
		if !a.addSink(s) {
			ok = false
		}
	}
	for _, p := range updatePaths {
		if !a.updatePath(p) {
			ok = false
		}
	}
	for _, s := range updateSinks {
		if !a.updateSink(s) {
			ok = false
		}
	}

	return ok
}

// diffPaths splits desired source paths against active shadow state into
// remove/add/update lists, keyed by path_id. A fundamental change (step 5)
// is reported as both a remove and an add rather than an update.
func (a *ConfigApplier) diffPaths(desired map[string]AppliedSourcePathParams) (remove []string, add, update []AppliedSourcePathParams) {
	for pathID, active := range a.activeSourcePaths {
		want, ok := desired[pathID]
		if !ok {
			remove = append(remove, pathID)
			continue
		}
		if active.fundamentalChange(want) {
			remove = append(remove, pathID)
			add = append(add, want)
			continue
		}
		if !active.parametersEqual(want) {
			update = append(update, want)
		}
	}
	for pathID, want := range desired {
		if _, ok := a.activeSourcePaths[pathID]; !ok {
			add = append(add, want)
		}
	}
	return remove, add, update
}

// diffSinks splits desired sinks against active shadow state into
// remove/add/update lists, keyed by sink_id. An engine-config change (step 8)
// is reported as both a remove and an add.
func (a *ConfigApplier) diffSinks(desired map[string]AppliedSinkParams) (remove []string, add, update []AppliedSinkParams) {
	for sinkID, active := range a.activeSinks {
		want, ok := desired[sinkID]
		if !ok {
			remove = append(remove, sinkID)
			continue
		}
		if !active.SinkEngineConfig.Equal(want.SinkEngineConfig) {
			remove = append(remove, sinkID)
			add = append(add, want)
			continue
		}
		if !connectionsEqual(active.ConnectedSourcePathIDs, want.ConnectedSourcePathIDs) {
			update = append(update, want)
		}
	}
	for sinkID, want := range desired {
		if _, ok := a.activeSinks[sinkID]; !ok {
			add = append(add, want)
		}
	}
	return remove, add, update
}

func connectionsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

func (a *ConfigApplier) removePath(pathID string) bool {
	active, ok := a.activeSourcePaths[pathID]
	if !ok {
		return true
	}
	success := true
	for _, sinkID := range a.connectedSinksFor(pathID) {
		if !a.target.DisconnectSourceSink(active.GeneratedInstanceID, sinkID) {
			a.logger.Error("disconnect_source_sink failed", "path_id", pathID, "instance_id", active.GeneratedInstanceID, "sink_id", sinkID)
			success = false
		}
	}
	if !a.target.RemoveSource(active.GeneratedInstanceID) {
		a.logger.Error("remove_source failed", "path_id", pathID, "instance_id", active.GeneratedInstanceID)
		success = false
	}
	delete(a.activeSourcePaths, pathID)
	return success
}

// connectedSinksFor reports which shadow sinks currently list pathID as
// connected, so removePath can tear down connections before removing the
// path itself.
func (a *ConfigApplier) connectedSinksFor(pathID string) []string {
	var out []string
	for sinkID, s := range a.activeSinks {
		for _, id := range s.ConnectedSourcePathIDs {
			if id == pathID {
				out = append(out, sinkID)
				break
			}
		}
	}
	return out
}

func (a *ConfigApplier) removeSink(sinkID string) bool {
	if _, ok := a.activeSinks[sinkID]; !ok {
		return true
	}
	success := a.target.RemoveSink(sinkID)
	if !success {
		a.logger.Error("remove_sink failed", "sink_id", sinkID)
	}
	delete(a.activeSinks, sinkID)
	return success
}

func (a *ConfigApplier) addPath(p AppliedSourcePathParams) bool {
	cfg := engine.SourceConfig{
		SourceTag:              p.SourceTag,
		TargetSinkID:           p.TargetSinkID,
		Volume:                 p.Volume,
		EQ:                     p.EQValues,
		DelayMs:                p.DelayMs,
		TimeshiftSec:           p.TimeshiftSec,
		TargetOutputChannels:   p.TargetOutputChannels,
		TargetOutputSampleRate: p.TargetOutputSampleRate,
		SpeakerLayouts:         p.SpeakerLayoutsMap,
	}
	instanceID := a.target.ConfigureSource(cfg)
	if instanceID == "" {
		a.logger.Error("configure_source failed", "path_id", p.PathID, "source_tag", p.SourceTag, "target_sink_id", p.TargetSinkID)
		return false
	}
	p.GeneratedInstanceID = instanceID
	a.activeSourcePaths[p.PathID] = p
	return true
}

func (a *ConfigApplier) addSink(s AppliedSinkParams) bool {
	cfg := engine.SinkConfig{
		SinkID:     s.SinkID,
		Addr:       s.SinkEngineConfig.Addr,
		Format:     sinkFormat(s.SinkEngineConfig),
		Transport:  sinkTransport(s.SinkEngineConfig.Transport),
		UseRTP:     s.SinkEngineConfig.UseRTP,
		SSRC:       s.SinkEngineConfig.SSRC,
		MP3Enabled: s.SinkEngineConfig.MP3Enabled,
	}
	if !a.target.AddSink(cfg) {
		a.logger.Error("add_sink failed", "sink_id", s.SinkID, "addr", s.SinkEngineConfig.Addr)
		return false
	}
	shadow := s
	shadow.ConnectedSourcePathIDs = nil
	a.activeSinks[s.SinkID] = shadow
	return a.reconcileConnections(s)
}

func (a *ConfigApplier) updatePath(p AppliedSourcePathParams) bool {
	active, ok := a.activeSourcePaths[p.PathID]
	if !ok {
		return a.addPath(p)
	}
	p.GeneratedInstanceID = active.GeneratedInstanceID
	success := true
	if !floatEqual(active.Volume, p.Volume) {
		if !a.target.UpdateSourceVolume(p.GeneratedInstanceID, p.Volume) {
			a.logger.Error("update_source_volume failed", "path_id", p.PathID, "instance_id", p.GeneratedInstanceID)
			success = false
		}
	}
	if active.EQValues != p.EQValues {
		if !a.target.UpdateSourceEqualizer(p.GeneratedInstanceID, p.EQValues) {
			a.logger.Error("update_source_equalizer failed", "path_id", p.PathID, "instance_id", p.GeneratedInstanceID)
			success = false
		}
	}
	if active.DelayMs != p.DelayMs {
		if !a.target.UpdateSourceDelay(p.GeneratedInstanceID, p.DelayMs) {
			a.logger.Error("update_source_delay failed", "path_id", p.PathID, "instance_id", p.GeneratedInstanceID)
			success = false
		}
	}
	if !floatEqual(active.TimeshiftSec, p.TimeshiftSec) {
		if !a.target.UpdateSourceTimeshift(p.GeneratedInstanceID, p.TimeshiftSec) {
			a.logger.Error("update_source_timeshift failed", "path_id", p.PathID, "instance_id", p.GeneratedInstanceID)
			success = false
		}
	}
	if !speakerLayoutsEqual(active.SpeakerLayoutsMap, p.SpeakerLayoutsMap) {
		if !a.target.UpdateSourceSpeakerLayoutsMap(p.GeneratedInstanceID, p.SpeakerLayoutsMap) {
			a.logger.Error("update_source_speaker_layouts_map failed", "path_id", p.PathID, "instance_id", p.GeneratedInstanceID)
			success = false
		}
	}
	a.activeSourcePaths[p.PathID] = p
	return success
}

func (a *ConfigApplier) updateSink(s AppliedSinkParams) bool {
	return a.reconcileConnections(s)
}

// reconcileConnections computes the set difference between the shadow sink's
// current connections and desired, issues connect/disconnect calls, and
// overwrites the shadow connection list, per step 9.
func (a *ConfigApplier) reconcileConnections(desired AppliedSinkParams) bool {
	active := a.activeSinks[desired.SinkID]
	success := true

	currentSet := make(map[string]struct{}, len(active.ConnectedSourcePathIDs))
	for _, id := range active.ConnectedSourcePathIDs {
		currentSet[id] = struct{}{}
	}
	desiredSet := make(map[string]struct{}, len(desired.ConnectedSourcePathIDs))
	for _, id := range desired.ConnectedSourcePathIDs {
		desiredSet[id] = struct{}{}
	}

	for pathID := range desiredSet {
		if _, ok := currentSet[pathID]; ok {
			continue
		}
		path, ok := a.activeSourcePaths[pathID]
		if !ok {
			a.logger.Error("connect_source_sink references unknown path_id", "path_id", pathID, "sink_id", desired.SinkID)
			success = false
			continue
		}
		if !a.target.ConnectSourceSink(path.GeneratedInstanceID, desired.SinkID) {
			a.logger.Error("connect_source_sink failed", "path_id", pathID, "instance_id", path.GeneratedInstanceID, "sink_id", desired.SinkID)
			success = false
		}
	}
	for pathID := range currentSet {
		if _, ok := desiredSet[pathID]; ok {
			continue
		}
		path, ok := a.activeSourcePaths[pathID]
		if !ok {
			continue
		}
		if !a.target.DisconnectSourceSink(path.GeneratedInstanceID, desired.SinkID) {
			a.logger.Error("disconnect_source_sink failed", "path_id", pathID, "instance_id", path.GeneratedInstanceID, "sink_id", desired.SinkID)
			success = false
		}
	}

	shadow := desired
	a.activeSinks[desired.SinkID] = shadow
	return success
}

func sinkFormat(c SinkEngineConfig) frame.Format {
	return frame.Format{SampleRate: c.SampleRate, BitDepth: c.BitDepth, Channels: c.Channels}
}

func sinkTransport(t string) sink.Transport {
	if t == "tcp" {
		return sink.TransportTCP
	}
	return sink.TransportUDP
}
