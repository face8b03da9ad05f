package sink

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/netscream/audiorouter/internal/frame"
	"github.com/netscream/audiorouter/internal/netutil"
)

// ConnState is the NetworkSender's TCP connection lifecycle: Disconnected
// → Connected → Backoff → Disconnected, per the backoff FSM named in
// spec.md §4.5/§4.9.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnected
	StateBackoff
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// backoff bounds per DESIGN.md's resolution of the open backoff-schedule
// question: exponential from 250ms to 10s.
const (
	backoffInitial = 250 * time.Millisecond
	backoffMax     = 10 * time.Second
)

// Transport distinguishes UDP (fire-and-forget, per spec's Scream/RTP
// egress) from TCP (persistent, reconnecting) sink connections.
type Transport int

const (
	TransportUDP Transport = iota
	TransportTCP
)

// BackoffMetrics is the subset of counters a NetworkSender updates for its
// TCP reconnection FSM.
type BackoffMetrics interface {
	BackoffTransition(sinkID string, state ConnState)
}

type noopBackoffMetrics struct{}

func (noopBackoffMetrics) BackoffTransition(string, ConnState) {}

// NetworkSender delivers mixed sink audio over UDP or TCP, tagged with
// DSCP EF and a raised SO_PRIORITY via internal/netutil. TCP sends run
// through a Disconnected→Connected→Backoff FSM so a dropped sink
// connection is retried without blocking the mix loop.
type NetworkSender struct {
	sinkID    string
	addr      string
	transport Transport
	format    frame.Format
	logger    *slog.Logger
	metrics   BackoffMetrics

	mu      sync.Mutex
	udpConn net.Conn
	tcpConn net.Conn
	state   ConnState
	backoff time.Duration

	seq uint16
	ssrc uint32

	useRTP bool
}

// NewNetworkSender builds a sender targeting addr over the given transport.
// When useRTP is true, outgoing chunks are wrapped in payload-type-127 RTP
// instead of raw Scream packets.
func NewNetworkSender(sinkID, addr string, transport Transport, format frame.Format, useRTP bool, ssrc uint32, metrics BackoffMetrics, logger *slog.Logger) *NetworkSender {
	if metrics == nil {
		metrics = noopBackoffMetrics{}
	}
	return &NetworkSender{
		sinkID:    sinkID,
		addr:      addr,
		transport: transport,
		format:    format,
		logger:    logger.With("subsystem", "network-sender", "sink_id", sinkID, "addr", addr),
		metrics:   metrics,
		state:     StateDisconnected,
		backoff:   backoffInitial,
		ssrc:      ssrc,
		useRTP:    useRTP,
	}
}

// SetFormat updates the format used to build outgoing Scream headers.
func (s *NetworkSender) SetFormat(f frame.Format) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.format = f
}

// State returns the current connection state (always StateConnected for
// UDP once the socket is open, since UDP has no connection handshake to
// fail).
func (s *NetworkSender) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start opens the underlying socket. For UDP this is a one-shot dial; for
// TCP it kicks off the reconnect FSM's initial connection attempt.
func (s *NetworkSender) Start(ctx context.Context) error {
	switch s.transport {
	case TransportUDP:
		return s.dialUDP()
	case TransportTCP:
		go s.tcpConnectLoop(ctx)
		return nil
	default:
		return fmt.Errorf("sink: unknown transport %d", s.transport)
	}
}

// Close releases the underlying socket(s).
func (s *NetworkSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.udpConn != nil {
		err = s.udpConn.Close()
		s.udpConn = nil
	}
	if s.tcpConn != nil {
		if e := s.tcpConn.Close(); e != nil && err == nil {
			err = e
		}
		s.tcpConn = nil
	}
	return err
}

func (s *NetworkSender) dialUDP() error {
	conn, err := net.Dial("udp", s.addr)
	if err != nil {
		return fmt.Errorf("sink: dial udp %s: %w", s.addr, err)
	}
	if err := netutil.TuneEgressSocket(conn); err != nil {
		s.logger.Debug("egress socket tuning failed", "error", err)
	}
	s.mu.Lock()
	s.udpConn = conn
	s.state = StateConnected
	s.mu.Unlock()
	return nil
}

// Send packs pcm into a wire packet (Scream or RTP, per useRTP) and writes
// it to the current transport. A UDP write failure is logged and dropped
// (never fatal, never blocks the mixer); a TCP write failure transitions
// the FSM into backoff and schedules a reconnect.
func (s *NetworkSender) Send(pcm []byte) {
	var payload [frame.ChunkBytes]byte
	copy(payload[:], pcm)

	s.mu.Lock()
	format := s.format
	s.mu.Unlock()

	var pkt []byte
	if s.useRTP {
		s.mu.Lock()
		s.seq++
		hdr := frame.RTPHeader{PayloadType: frame.RTPPayloadTypeScream, Sequence: s.seq, Timestamp: uint32(s.seq) * frame.RTPTimestampDelta(format), SSRC: s.ssrc}
		s.mu.Unlock()
		pkt = frame.BuildRTPPacket(hdr, payload)
	} else {
		hdr := frame.HeaderForFormat(format)
		pkt = frame.BuildScreamPacket(hdr, payload)
	}

	switch s.transport {
	case TransportUDP:
		s.sendUDP(pkt)
	case TransportTCP:
		s.sendTCP(pkt)
	}
}

func (s *NetworkSender) sendUDP(pkt []byte) {
	s.mu.Lock()
	conn := s.udpConn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if _, err := conn.Write(pkt); err != nil {
		s.logger.Debug("udp send failed", "error", err)
	}
}

func (s *NetworkSender) sendTCP(pkt []byte) {
	s.mu.Lock()
	conn := s.tcpConn
	connected := s.state == StateConnected
	s.mu.Unlock()
	if !connected || conn == nil {
		return
	}
	if _, err := conn.Write(pkt); err != nil {
		s.logger.Warn("tcp send failed, entering backoff", "error", err)
		s.enterBackoff()
	}
}

// tcpConnectLoop drives the Disconnected→Connected→Backoff→Disconnected
// FSM: attempt connect, on success wait until the connection breaks (an
// externally-observed write failure calls enterBackoff), on failure wait
// out the current backoff interval and retry with exponential growth.
func (s *NetworkSender) tcpConnectLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", s.addr, 5*time.Second)
		if err != nil {
			s.logger.Debug("tcp connect failed", "error", err)
			s.enterBackoff()
			if !s.sleepBackoff(ctx) {
				return
			}
			continue
		}

		if err := netutil.TuneEgressSocket(conn); err != nil {
			s.logger.Debug("egress socket tuning failed", "error", err)
		}

		s.mu.Lock()
		s.tcpConn = conn
		s.state = StateConnected
		s.backoff = backoffInitial
		s.mu.Unlock()
		s.metrics.BackoffTransition(s.sinkID, StateConnected)
		s.logger.Info("tcp sink connected")

		s.waitForBackoffOrDone(ctx)
	}
}

// waitForBackoffOrDone blocks until the connection transitions away from
// StateConnected (observed via a failed send) or the context is cancelled.
func (s *NetworkSender) waitForBackoffOrDone(ctx context.Context) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			state := s.state
			s.mu.Unlock()
			if state != StateConnected {
				if !s.sleepBackoff(ctx) {
					return
				}
				return
			}
		}
	}
}

func (s *NetworkSender) enterBackoff() {
	s.mu.Lock()
	if s.tcpConn != nil {
		s.tcpConn.Close()
		s.tcpConn = nil
	}
	s.state = StateBackoff
	s.mu.Unlock()
	s.metrics.BackoffTransition(s.sinkID, StateBackoff)
}

// sleepBackoff waits out the current backoff interval, doubling it
// (capped at backoffMax) for the next failure, and returns false if the
// context was cancelled during the wait.
func (s *NetworkSender) sleepBackoff(ctx context.Context) bool {
	s.mu.Lock()
	d := s.backoff
	next := d * 2
	if next > backoffMax {
		next = backoffMax
	}
	s.backoff = next
	s.state = StateDisconnected
	s.mu.Unlock()
	s.metrics.BackoffTransition(s.sinkID, StateDisconnected)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
