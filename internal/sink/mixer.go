// Package sink implements SinkAudioMixer and NetworkSender: the per-sink
// component that sums every connected source's audio into one output
// stream and pushes it out over UDP/TCP (and, optionally, an MP3 side
// stream), the direct generalization of the teacher's conference Mixer
// from G.711 N-1 telephony mixing to Scream-format N-way PCM summation.
package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/netscream/audiorouter/internal/frame"
)

// inputReadDeadline bounds how long the mixer waits for each input's next
// chunk during one mix cycle before treating that input as silent for the
// cycle, matching the teacher's per-participant non-blocking RTP read.
const inputReadDeadline = 70 * time.Millisecond

// Input is a per-source-path read handle a mixer pulls chunks from. The
// source package's *Consumer satisfies this.
type Input interface {
	Next(deadline time.Time) (frame.Chunk, bool)
}

// Egress receives the mixed PCM for one cycle. NetworkSender and the MP3
// side-stream both implement it.
type Egress interface {
	Send(pcm []byte)
}

// Metrics is the subset of counters a mixer updates.
type Metrics interface {
	CycleMixed(sinkID string, inputCount int)
	CycleSilent(sinkID string)
}

type noopMetrics struct{}

func (noopMetrics) CycleMixed(string, int) {}
func (noopMetrics) CycleSilent(string)     {}

// Mixer sums N source inputs into one sink-format output stream once per
// mix cycle, driven by a ticker at the sink format's packet duration.
type Mixer struct {
	SinkID string
	logger *slog.Logger

	mu      sync.RWMutex
	inputs  map[string]Input
	format  frame.Format
	egress  []Egress
	metrics Metrics

	stopped chan struct{}
	done    chan struct{}
}

// New builds a mixer for the given sink ID and output format.
func New(sinkID string, format frame.Format, metrics Metrics, logger *slog.Logger) *Mixer {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Mixer{
		SinkID:  sinkID,
		logger:  logger.With("subsystem", "sink-mixer", "sink_id", sinkID),
		inputs:  make(map[string]Input),
		format:  format,
		metrics: metrics,
	}
}

// AddInput registers a source path as an input to this mixer.
func (m *Mixer) AddInput(sourceTag string, in Input) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs[sourceTag] = in
}

// RemoveInput disconnects a source path from this mixer.
func (m *Mixer) RemoveInput(sourceTag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inputs, sourceTag)
}

// InputCount returns the number of currently connected inputs.
func (m *Mixer) InputCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.inputs)
}

// AddEgress registers a destination (NetworkSender or MP3 side-stream) that
// receives every mixed cycle's PCM.
func (m *Mixer) AddEgress(e Egress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.egress = append(m.egress, e)
}

// SetFormat updates the output format for subsequent cycles.
func (m *Mixer) SetFormat(f frame.Format) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.format = f
}

// Format returns the current output format.
func (m *Mixer) Format() frame.Format {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.format
}

// packetDuration returns how long one ChunkBytes-sized chunk represents at
// the mixer's current output format, the cadence the ticker mixes at.
func (m *Mixer) packetDuration() time.Duration {
	m.mu.RLock()
	f := m.format
	m.mu.RUnlock()

	frameBytes := f.FrameBytes()
	if frameBytes == 0 || f.SampleRate == 0 {
		return 20 * time.Millisecond
	}
	frames := frame.ChunkBytes / frameBytes
	seconds := float64(frames) / float64(f.SampleRate)
	return time.Duration(seconds * float64(time.Second))
}

// Start launches the mix loop in a background goroutine.
func (m *Mixer) Start(ctx context.Context) {
	m.stopped = make(chan struct{})
	m.done = make(chan struct{})
	go m.mixLoop(ctx)
}

// Stop signals the mix loop to exit and waits for it to finish.
func (m *Mixer) Stop() {
	if m.stopped == nil {
		return
	}
	select {
	case <-m.stopped:
	default:
		close(m.stopped)
	}
	<-m.done
}

func (m *Mixer) mixLoop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.packetDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopped:
			return
		case <-ticker.C:
			m.mixCycle()
		}
	}
}

// mixCycle reads one chunk from each connected input (with a bounded
// deadline so a stalled source never blocks the sink), sums them with
// saturating arithmetic, downscales to the sink's bit depth, and pushes
// the result to every registered egress unless the cycle is silent.
func (m *Mixer) mixCycle() {
	m.mu.RLock()
	inputs := make(map[string]Input, len(m.inputs))
	for k, v := range m.inputs {
		inputs[k] = v
	}
	format := m.format
	egress := append([]Egress(nil), m.egress...)
	m.mu.RUnlock()

	if len(inputs) == 0 {
		return
	}

	outFrames := frame.ChunkBytes / format.FrameBytes()
	sums := make([]int64, outFrames*format.Channels)

	deadline := time.Now().Add(inputReadDeadline)
	activeInputs := 0
	for _, in := range inputs {
		chunk, ok := in.Next(deadline)
		if !ok {
			continue
		}
		activeInputs++
		accumulate(sums, chunk, outFrames, format.Channels)
	}

	codes := downscaleCodes(sums, format.BitDepth)

	if isSilent(codes) {
		m.metrics.CycleSilent(m.SinkID)
		return
	}
	m.metrics.CycleMixed(m.SinkID, activeInputs)

	pcm := packCodes(codes, format.BitDepth)
	for _, e := range egress {
		e.Send(pcm)
	}
}

// accumulate decodes one input chunk into 32-bit magnitude-aligned samples
// and adds them into sums with saturation. Every input arrives already
// converted to the sink's own format by its SourceInputProcessor (the DSP
// kernel's output side is pinned to the target format for the path's
// lifetime), so no per-input resampling or channel remapping happens here;
// a chunk whose format doesn't match the sink's is dropped rather than
// silently misaligned.
func accumulate(sums []int64, chunk frame.Chunk, outFrames, outChannels int) {
	if chunk.Format.Channels != outChannels {
		return
	}
	inFrames := frame.ChunkBytes / chunk.Format.FrameBytes()
	if inFrames != outFrames {
		return
	}

	aligned32 := decodeAligned32(chunk.PCM[:], chunk.Format.BitDepth, inFrames*outChannels)

	for i, x := range aligned32 {
		sums[i] = saturateInt32(sums[i] + int64(x))
	}
}

func saturateInt32(v int64) int64 {
	const max = int64(1)<<31 - 1
	const min = -int64(1) << 31
	if v > max {
		return max
	}
	if v < min {
		return min
	}
	return v
}

// isSilent samples 5 positions evenly across the payload (0%, 25%, 50%,
// 75%, 100%) and reports silence only if all five are bit-exact zero,
// matching the mixer's lightweight per-cycle suppression check rather than
// a full-buffer scan.
func isSilent(codes []int32) bool {
	if len(codes) == 0 {
		return true
	}
	last := len(codes) - 1
	positions := [5]int{0, last / 4, last / 2, (3 * last) / 4, last}
	for _, pos := range positions {
		if codes[pos] != 0 {
			return false
		}
	}
	return true
}
