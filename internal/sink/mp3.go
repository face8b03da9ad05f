package sink

import (
	"log/slog"
	"sync"

	"github.com/netscream/audiorouter/internal/frame"
	"github.com/netscream/audiorouter/internal/mp3enc"
)

// mp3QueueDepth bounds how many encoded MP3 frames the side-stream holds
// before a stalled reader starts causing drops. The HTTP/WebSocket
// multiplexer that actually serves this queue to a browser is an external
// collaborator; this type only owns the queue it reads from.
const mp3QueueDepth = 32

// mp3MissesBeforeInactive is how many consecutive queue-full drops mark the
// side-stream inactive, avoiding flapping on a single slow drain.
const mp3MissesBeforeInactive = 3

// MP3Metrics is the subset of counters the MP3 side-stream updates.
type MP3Metrics interface {
	MP3ReaderActive(sinkID string, active bool)
}

type noopMP3Metrics struct{}

func (noopMP3Metrics) MP3ReaderActive(string, bool) {}

// mp3Encoder is the subset of *mp3enc.Encoder the side-stream needs; tests
// inject a fake to avoid depending on LAME's real buffering behavior.
type mp3Encoder interface {
	Encode(pcm []byte) ([]byte, error)
	Close() error
}

// MP3SideStream encodes every mixed cycle to MP3 via internal/mp3enc and
// pushes the resulting frames onto a bounded queue that an external
// multiplexer drains with GetMP3Data. A queue-full condition stands in for
// "no reader waiting" (the writable-select the core has no socket to run);
// mp3MissesBeforeInactive consecutive drops mark the stream inactive and
// the queue is drained so a newly-attached reader doesn't get stale audio.
type MP3SideStream struct {
	sinkID  string
	format  frame.Format
	logger  *slog.Logger
	metrics MP3Metrics

	encoder mp3Encoder
	queue   chan []byte

	mu     sync.Mutex
	misses int
	active bool
}

// NewMP3SideStream builds a side-stream encoding at the given format.
func NewMP3SideStream(sinkID string, format frame.Format, metrics MP3Metrics, logger *slog.Logger) (*MP3SideStream, error) {
	enc, err := mp3enc.New(format)
	if err != nil {
		return nil, err
	}
	return newMP3SideStream(sinkID, format, enc, metrics, logger), nil
}

func newMP3SideStream(sinkID string, format frame.Format, enc mp3Encoder, metrics MP3Metrics, logger *slog.Logger) *MP3SideStream {
	if metrics == nil {
		metrics = noopMP3Metrics{}
	}
	return &MP3SideStream{
		sinkID:  sinkID,
		format:  format,
		logger:  logger.With("subsystem", "mp3-sidestream", "sink_id", sinkID),
		encoder: enc,
		metrics: metrics,
		queue:   make(chan []byte, mp3QueueDepth),
	}
}

// HasReader reports whether the stream currently considers itself actively
// read (i.e. hasn't seen mp3MissesBeforeInactive consecutive drops).
func (m *MP3SideStream) HasReader() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Send implements Egress: it encodes the mixed PCM to MP3 and pushes the
// frame onto the queue, never blocking the mix loop.
func (m *MP3SideStream) Send(pcm []byte) {
	mp3Frame, err := m.encoder.Encode(pcm)
	if err != nil {
		m.logger.Debug("mp3 encode failed", "error", err)
		return
	}
	if len(mp3Frame) == 0 {
		return
	}

	select {
	case m.queue <- mp3Frame:
		m.recordHit()
	default:
		m.recordMiss()
	}
}

// GetMP3Data performs a non-blocking pull of the next encoded MP3 frame, or
// nil if none is queued.
func (m *MP3SideStream) GetMP3Data() []byte {
	select {
	case data := <-m.queue:
		return data
	default:
		return nil
	}
}

func (m *MP3SideStream) recordMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
	if m.misses >= mp3MissesBeforeInactive && m.active {
		m.active = false
		m.drainLocked()
		m.metrics.MP3ReaderActive(m.sinkID, false)
	}
}

func (m *MP3SideStream) recordHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses = 0
	if !m.active {
		m.active = true
		m.metrics.MP3ReaderActive(m.sinkID, true)
	}
}

func (m *MP3SideStream) drainLocked() {
	for {
		select {
		case <-m.queue:
		default:
			return
		}
	}
}

// Close releases the encoder and drains the queue.
func (m *MP3SideStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainLocked()
	return m.encoder.Close()
}
