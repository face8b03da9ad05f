// Package source implements SourceInputProcessor: the per-source-path
// component that owns a timeshift buffer and an AudioProcessor DSP kernel,
// and hands off processed chunks to the one sink its path targets.
package source

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/netscream/audiorouter/internal/dsp"
	"github.com/netscream/audiorouter/internal/frame"
	"github.com/netscream/audiorouter/internal/ingress"
	"github.com/netscream/audiorouter/internal/timeshift"
)

// State mirrors the teacher's SessionState enum, generalized from call
// sessions to audio source paths.
type State int

const (
	StateNew State = iota
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Consumer is a read handle into a processor's output. A Processor is
// scoped to one path_id (one source_tag, target_sink_id pairing), so a path
// has exactly one Consumer, created when the path is configured.
type Consumer struct {
	proc      *Processor
	delay     time.Duration
	timeshift time.Duration
	lastLen   int
}

// Next blocks (up to the given deadline) for the next chunk available at
// this consumer's effective backshift (delay + timeshift), running it
// through the path's AudioProcessor kernel first.
func (c *Consumer) Next(deadline time.Time) (frame.Chunk, bool) {
	newLen, closed := c.proc.buffer.Wait(deadline, c.lastLen)
	c.lastLen = newLen
	if closed {
		return frame.Chunk{}, false
	}
	raw, ok := c.proc.buffer.ReadAt(time.Now(), c.delay+c.timeshift)
	if !ok {
		return frame.Chunk{}, false
	}
	return c.proc.dsp.Process(raw), true
}

// SetDelay adjusts the path's fixed playout delay (0..5000ms per invariant).
func (c *Consumer) SetDelay(d time.Duration) {
	c.delay = d
}

// SetTimeshift adjusts how far into the retained past this consumer reads,
// on top of the fixed delay. Counts as a user cursor reposition, which
// holds off eviction of the buffer's oldest entries for one more
// retention window even if they'd otherwise have aged out.
func (c *Consumer) SetTimeshift(d time.Duration) {
	c.timeshift = d
	c.proc.buffer.Reposition(time.Now())
}

// Processor is one SourceInputProcessor: one instance per active path_id,
// owning a timeshift buffer fed by ingress and an AudioProcessor DSP kernel
// configured with that path's own volume/EQ/speaker-mix. A source_tag
// feeding several sinks gets one Processor per sink; internal/ingress.Router
// fans incoming tagged chunks out to every Processor subscribed to that tag.
//
// Lifecycle mirrors the teacher's Session: State()/SetState()/Stop() plus
// atomic activity tracking so an orphan-reaper can find stale paths.
type Processor struct {
	SourceTag string

	mu           sync.RWMutex
	state        State
	format       frame.Format // format of chunks as they currently arrive from ingress
	targetFormat frame.Format // fixed output format this path's sink expects; never changes

	buffer *timeshift.Buffer
	dsp    *dsp.AudioProcessor

	logger *slog.Logger

	lastActivity atomic.Int64
}

// New builds a SourceInputProcessor for the given source tag and fixed
// target (sink) format. Volume/equalizer/speaker-mix are configured
// afterward via AudioProcessor() and apply to every sink consuming this
// path. The target format never changes for the lifetime of the
// processor; only the observed input format tracks the arriving stream.
func New(sourceTag string, targetFormat frame.Format, logger *slog.Logger) *Processor {
	return &Processor{
		SourceTag:    sourceTag,
		state:        StateNew,
		format:       targetFormat,
		targetFormat: targetFormat,
		buffer:       timeshift.New(),
		dsp:          dsp.NewAudioProcessor(targetFormat, targetFormat, int64(hashTag(sourceTag))),
		logger:       logger.With("subsystem", "source-processor", "source_tag", sourceTag),
	}
}

// Deliver implements ingress.Sink: it's called by the receiver goroutine on
// every successfully decoded chunk. A format change mid-stream (the sender
// changed sample rate/bit depth/channels) reconfigures the DSP kernel's
// input side only; the output side stays pinned to this path's target
// format so the mixer downstream only ever sees sink-format chunks.
func (p *Processor) Deliver(c ingress.Chunk) {
	p.mu.Lock()
	if !p.format.Equal(c.Chunk.Format) {
		p.logger.Info("source format changed",
			"old_format", p.format.String(),
			"new_format", c.Chunk.Format.String(),
		)
		p.format = c.Chunk.Format
		p.dsp.SetFormat(c.Chunk.Format, p.targetFormat)
	}
	p.mu.Unlock()

	p.touchActivity()
	p.buffer.Push(c.Arrival, c.Chunk)
}

// NewConsumer creates a read handle starting at zero delay/timeshift.
func (p *Processor) NewConsumer() *Consumer {
	return &Consumer{proc: p}
}

// AudioProcessor exposes the shared DSP kernel so an engine-level API can
// adjust volume/equalizer/speaker-mix for this path.
func (p *Processor) AudioProcessor() *dsp.AudioProcessor {
	return p.dsp
}

// State returns the current lifecycle state.
func (p *Processor) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// SetState transitions the processor to a new lifecycle state.
func (p *Processor) SetState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// Format returns the currently active PCM format.
func (p *Processor) Format() frame.Format {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.format
}

// Stop marks the processor stopped and closes its buffer, unblocking any
// consumer goroutines waiting in Next.
func (p *Processor) Stop() {
	p.SetState(StateStopped)
	p.buffer.Close()
}

func (p *Processor) touchActivity() {
	p.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the most recently delivered chunk.
func (p *Processor) LastActivity() time.Time {
	ns := p.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func hashTag(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
