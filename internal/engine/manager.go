// Package engine implements AudioManager: the component that owns every
// live receiver, source path, and sink instance, and exposes the
// imperative add/remove/connect/update API the reconciler drives.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netscream/audiorouter/internal/dsp"
	"github.com/netscream/audiorouter/internal/frame"
	"github.com/netscream/audiorouter/internal/ingress"
	"github.com/netscream/audiorouter/internal/sink"
	"github.com/netscream/audiorouter/internal/source"
)

// shutdownJoinTimeout bounds how long Shutdown waits for each receiver and
// mixer to stop before giving up, per spec's "joining worker threads with a
// bounded timeout".
const shutdownJoinTimeout = 5 * time.Second

// Metrics is the union of every counter interface AudioManager's components
// report through; a caller wires one concrete implementation (internal/metrics)
// satisfying all of them, or leaves it nil to run with no-op counters.
type Metrics interface {
	ingress.Metrics
	sink.Metrics
	sink.BackoffMetrics
	sink.MP3Metrics
}

type sinkEntry struct {
	cfg       SinkConfig
	mixer     *sink.Mixer
	sender    *sink.NetworkSender
	mp3       *sink.MP3SideStream
	connected map[string]bool // instance_id -> true
}

type sourceEntry struct {
	instanceID string
	cfg        SourceConfig
	processor  *source.Processor
	consumer   *source.Consumer
	sinkID     string // empty when disconnected
}

// AudioManager owns every live component instance in the engine.
type AudioManager struct {
	logger    *slog.Logger
	metrics   Metrics
	router    *ingress.Router
	discovery ingress.Discovery
	tagForAddr func(*net.UDPAddr) string

	screamReceiver *ingress.ScreamReceiver
	rtpReceiver    *ingress.RtpReceiver

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	sinks   map[string]*sinkEntry
	sources map[string]*sourceEntry
}

// New builds an AudioManager. tagForAddr maps a UDP sender address to the
// source_tag used throughout the engine (typically the sender's IP).
func New(metrics Metrics, tagForAddr func(*net.UDPAddr) string, logger *slog.Logger) *AudioManager {
	if tagForAddr == nil {
		tagForAddr = func(a *net.UDPAddr) string { return a.IP.String() }
	}
	return &AudioManager{
		logger:     logger.With("subsystem", "audio-manager"),
		metrics:    metrics,
		router:     ingress.NewRouter(),
		discovery:  ingress.NewWriterDiscovery(discoveryDiscard{}),
		tagForAddr: tagForAddr,
		sinks:      make(map[string]*sinkEntry),
		sources:    make(map[string]*sourceEntry),
	}
}

// discoveryDiscard is the default discovered-sources sideband when the
// caller doesn't wire one via SetDiscovery: writes go nowhere.
type discoveryDiscard struct{}

func (discoveryDiscard) Write(p []byte) (int, error) { return len(p), nil }

// SetDiscovery replaces the discovered-sources sideband writer (e.g. a log
// file or a pipe consumed by an external control-plane process). Must be
// called before Initialize.
func (m *AudioManager) SetDiscovery(d ingress.Discovery) {
	m.discovery = d
}

// Initialize binds the Scream and RTP ingress listening sockets and starts
// their receive loops. rtpFormat is the fixed format synthesized for
// RTP-ingress chunks, since RTP carries no in-band format header.
func (m *AudioManager) Initialize(ctx context.Context, screamAddr, rtpAddr string, rtpFormat frame.Format) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	scream, err := ingress.NewScreamReceiver(screamAddr, m.router, m.discovery, m.metrics, m.tagForAddr, m.logger)
	if err != nil {
		return fmt.Errorf("%w: scream listener: %v", ErrBindFailed, err)
	}
	rtp, err := ingress.NewRtpReceiver(rtpAddr, rtpFormat, m.router, m.discovery, m.metrics, m.tagForAddr, m.logger)
	if err != nil {
		scream.Close()
		return fmt.Errorf("%w: rtp listener: %v", ErrBindFailed, err)
	}

	m.screamReceiver = scream
	m.rtpReceiver = rtp
	m.screamReceiver.Start(m.ctx)
	m.rtpReceiver.Start(m.ctx)

	m.logger.Info("audio manager initialized", "scream_addr", screamAddr, "rtp_addr", rtpAddr)
	return nil
}

// AddSink instantiates a SinkAudioMixer, NetworkSender, and (if enabled) an
// MP3 side-stream for cfg, and starts them. Returns false if a sink with
// this ID already exists or the format/transport is invalid.
func (m *AudioManager) AddSink(cfg SinkConfig) bool {
	if !isValidSinkFormat(cfg.Format) {
		m.reject("add_sink", ErrUnsupportedFormat, "sink_id", cfg.SinkID, "format", cfg.Format.String())
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sinks[cfg.SinkID]; exists {
		m.reject("add_sink", ErrSinkExists, "sink_id", cfg.SinkID)
		return false
	}

	mixer := sink.New(cfg.SinkID, cfg.Format, m.metrics, m.logger)
	sender := sink.NewNetworkSender(cfg.SinkID, cfg.Addr, cfg.Transport, cfg.Format, cfg.UseRTP, cfg.SSRC, m.metrics, m.logger)
	if err := sender.Start(m.ctx); err != nil {
		m.logger.Error("add_sink failed to start network sender", "sink_id", cfg.SinkID, "error", err)
		return false
	}
	mixer.AddEgress(sender)

	entry := &sinkEntry{cfg: cfg, mixer: mixer, sender: sender, connected: make(map[string]bool)}

	if cfg.MP3Enabled {
		stream, err := sink.NewMP3SideStream(cfg.SinkID, cfg.Format, m.metrics, m.logger)
		if err != nil {
			m.logger.Error("add_sink failed to build mp3 side-stream", "sink_id", cfg.SinkID, "error", err)
		} else {
			entry.mp3 = stream
			mixer.AddEgress(stream)
		}
	}

	m.sinks[cfg.SinkID] = entry
	mixer.Start(m.ctx)

	m.logger.Info("sink added", "sink_id", cfg.SinkID, "addr", cfg.Addr, "format", cfg.Format.String())
	return true
}

// RemoveSink stops and tears down a sink, disconnecting every source path
// that fed it (the paths themselves survive, simply disconnected).
func (m *AudioManager) RemoveSink(sinkID string) bool {
	m.mu.Lock()
	entry, exists := m.sinks[sinkID]
	if !exists {
		m.mu.Unlock()
		m.reject("remove_sink", ErrComponentNotFound, "sink_id", sinkID)
		return false
	}
	delete(m.sinks, sinkID)
	for instanceID := range entry.connected {
		if src, ok := m.sources[instanceID]; ok {
			src.sinkID = ""
		}
	}
	m.mu.Unlock()

	entry.mixer.Stop()
	entry.sender.Close()
	if entry.mp3 != nil {
		entry.mp3.Close()
	}

	m.logger.Info("sink removed", "sink_id", sinkID)
	return true
}

// ConfigureSource instantiates a SourceInputProcessor for one path and
// returns its generated instance_id, or "" on failure.
func (m *AudioManager) ConfigureSource(cfg SourceConfig) string {
	targetFormat := frame.Format{SampleRate: cfg.TargetOutputSampleRate, BitDepth: 32, Channels: cfg.TargetOutputChannels}
	if cfg.TargetOutputChannels < 1 || cfg.TargetOutputChannels > 8 {
		m.reject("configure_source", ErrUnsupportedFormat, "source_tag", cfg.SourceTag, "reason", "channel count")
		return ""
	}
	if _, ok := validSampleRates[cfg.TargetOutputSampleRate]; !ok {
		m.reject("configure_source", ErrUnsupportedFormat, "source_tag", cfg.SourceTag, "reason", "sample rate")
		return ""
	}

	proc := source.New(cfg.SourceTag, targetFormat, m.logger)
	proc.SetState(source.StateActive)

	eq := normalizeEQ(cfg.EQ)
	proc.AudioProcessor().SetVolume(clampVolume(cfg.Volume))
	proc.AudioProcessor().SetEqualizer(eqToGainsDB(eq))
	if matrix, ok := cfg.SpeakerLayouts[targetFormat.Channels]; ok {
		proc.AudioProcessor().SetSpeakerMix(matrix)
	}

	consumer := proc.NewConsumer()
	consumer.SetDelay(time.Duration(clampDelayMs(cfg.DelayMs)) * time.Millisecond)
	consumer.SetTimeshift(time.Duration(cfg.TimeshiftSec * float64(time.Second)))

	instanceID := uuid.NewString()

	m.mu.Lock()
	m.sources[instanceID] = &sourceEntry{instanceID: instanceID, cfg: cfg, processor: proc, consumer: consumer}
	m.mu.Unlock()

	m.router.Subscribe(cfg.SourceTag, proc)

	m.logger.Info("source path configured", "instance_id", instanceID, "source_tag", cfg.SourceTag, "target_sink_id", cfg.TargetSinkID)
	return instanceID
}

// RemoveSource disconnects and tears down a source path.
func (m *AudioManager) RemoveSource(instanceID string) bool {
	m.mu.Lock()
	entry, exists := m.sources[instanceID]
	if !exists {
		m.mu.Unlock()
		m.reject("remove_source", ErrComponentNotFound, "instance_id", instanceID)
		return false
	}
	sinkID := entry.sinkID
	delete(m.sources, instanceID)
	m.mu.Unlock()

	if sinkID != "" {
		m.DisconnectSourceSink(instanceID, sinkID)
	}

	m.router.Unsubscribe(entry.cfg.SourceTag, entry.processor)
	entry.processor.Stop()

	m.logger.Info("source path removed", "instance_id", instanceID)
	return true
}

// ConnectSourceSink attaches a path's output to a sink's input set.
func (m *AudioManager) ConnectSourceSink(instanceID, sinkID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources[instanceID]
	if !ok {
		m.reject("connect_source_sink", ErrComponentNotFound, "instance_id", instanceID)
		return false
	}
	snk, ok := m.sinks[sinkID]
	if !ok {
		m.reject("connect_source_sink", ErrComponentNotFound, "sink_id", sinkID)
		return false
	}

	snk.mixer.AddInput(instanceID, src.consumer)
	snk.connected[instanceID] = true
	src.sinkID = sinkID

	m.logger.Info("source connected to sink", "instance_id", instanceID, "sink_id", sinkID)
	return true
}

// DisconnectSourceSink detaches a path's output from a sink's input set.
func (m *AudioManager) DisconnectSourceSink(instanceID, sinkID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	snk, ok := m.sinks[sinkID]
	if !ok {
		m.reject("disconnect_source_sink", ErrComponentNotFound, "sink_id", sinkID)
		return false
	}
	snk.mixer.RemoveInput(instanceID)
	delete(snk.connected, instanceID)

	if src, ok := m.sources[instanceID]; ok && src.sinkID == sinkID {
		src.sinkID = ""
	}

	m.logger.Info("source disconnected from sink", "instance_id", instanceID, "sink_id", sinkID)
	return true
}

// UpdateSourceVolume applies a new volume (clamped to [0,1]) to a path.
func (m *AudioManager) UpdateSourceVolume(instanceID string, volume float64) bool {
	src := m.lookupSource(instanceID)
	if src == nil {
		return false
	}
	src.processor.AudioProcessor().SetVolume(clampVolume(volume))
	return true
}

// UpdateSourceEqualizer applies a new 18-band EQ vector to a path.
func (m *AudioManager) UpdateSourceEqualizer(instanceID string, eq [dsp.EQBands]float64) bool {
	src := m.lookupSource(instanceID)
	if src == nil {
		return false
	}
	src.processor.AudioProcessor().SetEqualizer(eqToGainsDB(normalizeEQ(eq)))
	return true
}

// UpdateSourceDelay applies a new fixed playout delay (clamped to [0,5000]ms).
func (m *AudioManager) UpdateSourceDelay(instanceID string, delayMs int) bool {
	src := m.lookupSource(instanceID)
	if src == nil {
		return false
	}
	src.consumer.SetDelay(time.Duration(clampDelayMs(delayMs)) * time.Millisecond)
	return true
}

// UpdateSourceTimeshift applies a new backshift-into-the-past offset.
func (m *AudioManager) UpdateSourceTimeshift(instanceID string, sec float64) bool {
	src := m.lookupSource(instanceID)
	if src == nil {
		return false
	}
	src.consumer.SetTimeshift(time.Duration(sec * float64(time.Second)))
	return true
}

// UpdateSourceSpeakerLayoutsMap replaces the per-input-channel-count
// speaker-mix overrides and applies the entry matching the path's current
// observed input channel count, if any.
func (m *AudioManager) UpdateSourceSpeakerLayoutsMap(instanceID string, layouts map[int]dsp.SpeakerMatrix) bool {
	src := m.lookupSource(instanceID)
	if src == nil {
		return false
	}
	src.cfg.SpeakerLayouts = layouts
	if matrix, ok := layouts[src.processor.Format().Channels]; ok {
		src.processor.AudioProcessor().SetSpeakerMix(matrix)
	}
	return true
}

// GetMP3Data performs a non-blocking pull from a sink's MP3 side-stream
// queue, returning nil if the sink has no MP3 side-stream or nothing is
// queued. The HTTP/WebSocket multiplexer that serves this to a browser is
// an external collaborator; this is the one call it needs from the engine.
func (m *AudioManager) GetMP3Data(sinkID string) []byte {
	m.mu.RLock()
	entry, ok := m.sinks[sinkID]
	m.mu.RUnlock()
	if !ok || entry.mp3 == nil {
		return nil
	}
	return entry.mp3.GetMP3Data()
}

func (m *AudioManager) lookupSource(instanceID string) *sourceEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[instanceID]
	if !ok {
		m.reject("update", ErrComponentNotFound, "instance_id", instanceID)
		return nil
	}
	return src
}

// reject logs a failed operation wrapping one of the package's sentinel
// errors with the operation name, matching apply_state's "failures are
// logged with full context" contract.
func (m *AudioManager) reject(op string, sentinel error, args ...any) {
	err := fmt.Errorf("%s: %w", op, sentinel)
	m.logger.Warn("operation rejected", append([]any{"error", err}, args...)...)
}

// Shutdown stops receivers, then all source processors, then all sink
// mixers, per spec's ordering. Each receiver and mixer join is bounded by
// shutdownJoinTimeout; stopping a source processor closes its buffer and
// does not wait.
func (m *AudioManager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.screamReceiver != nil {
		m.screamReceiver.Close()
		waitWithTimeout(m.screamReceiver.Wait, shutdownJoinTimeout)
	}
	if m.rtpReceiver != nil {
		m.rtpReceiver.Close()
		waitWithTimeout(m.rtpReceiver.Wait, shutdownJoinTimeout)
	}

	m.mu.Lock()
	sources := make([]*sourceEntry, 0, len(m.sources))
	for _, s := range m.sources {
		sources = append(sources, s)
	}
	sinks := make([]*sinkEntry, 0, len(m.sinks))
	for _, s := range m.sinks {
		sinks = append(sinks, s)
	}
	m.sources = make(map[string]*sourceEntry)
	m.sinks = make(map[string]*sinkEntry)
	m.mu.Unlock()

	for _, s := range sources {
		s.processor.Stop()
	}
	for _, s := range sinks {
		waitWithTimeout(s.mixer.Stop, shutdownJoinTimeout)
		s.sender.Close()
		if s.mp3 != nil {
			s.mp3.Close()
		}
	}

	m.logger.Info("audio manager shut down")
}

func waitWithTimeout(wait func(), timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
