// Package ingress implements the two network listeners that receive audio
// chunks from sources: a Scream UDP receiver and an RTP (payload-type-127)
// UDP receiver. Both follow the same cancellable SetReadDeadline loop, one
// goroutine per socket, that the teacher's RTP relay uses to forward media.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/netscream/audiorouter/internal/frame"
)

// readTimeout bounds each blocking UDP read so the receive loop can notice
// context cancellation promptly, mirroring the teacher's 100ms RTP relay
// deadline.
const readTimeout = 100 * time.Millisecond

// malformedLogRate caps how many malformed-packet log lines a receiver can
// emit per source per second before the rest of that second's occurrences
// are only reflected in the metrics counter.
const malformedLogRate = 1

// Chunk is a decoded chunk plus the arrival time it was received at,
// handed off to the per-source timeshift buffer.
type Chunk struct {
	Arrival time.Time
	Chunk   frame.Chunk
}

// Sink receives decoded chunks and malformed-packet notifications from a
// receiver. SourceInputProcessor implements this to feed its timeshift
// buffer; tests can use a simple channel-backed fake.
type Sink interface {
	Deliver(Chunk)
}

// Discovery is the newly-seen-source-tag sideband: the first time a
// receiver observes a given source tag, it writes one line to Discovery.
type Discovery interface {
	Announce(sourceTag string)
}

// WriterDiscovery implements Discovery by writing newline-delimited source
// tags to an io.Writer exactly once per tag, per spec's discovered-sources
// sideband contract.
type WriterDiscovery struct {
	mu     sync.Mutex
	out    io.Writer
	seen   map[string]struct{}
}

// NewWriterDiscovery wraps an io.Writer as a Discovery sideband.
func NewWriterDiscovery(out io.Writer) *WriterDiscovery {
	return &WriterDiscovery{out: out, seen: make(map[string]struct{})}
}

// Announce writes the tag followed by a newline the first time it is seen;
// subsequent calls with the same tag are no-ops.
func (d *WriterDiscovery) Announce(sourceTag string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[sourceTag]; ok {
		return
	}
	d.seen[sourceTag] = struct{}{}
	fmt.Fprintf(d.out, "%s\n", sourceTag)
}

// Metrics is the subset of counters a receiver updates; internal/metrics
// implements this against its prometheus collectors.
type Metrics interface {
	PacketsReceived(sourceTag string)
	PacketsMalformed(sourceTag string)
}

// noopMetrics discards all counters, used when a caller doesn't wire metrics.
type noopMetrics struct{}

func (noopMetrics) PacketsReceived(string)  {}
func (noopMetrics) PacketsMalformed(string) {}

// ScreamReceiver listens for Scream-protocol UDP packets and delivers
// decoded chunks to a Sink, keyed by the sender's source tag.
type ScreamReceiver struct {
	conn       *net.UDPConn
	logger     *slog.Logger
	sink       Sink
	discovery  Discovery
	metrics    Metrics
	tagForAddr func(addr *net.UDPAddr) string

	malformedLimiters sync.Map // sourceTag -> *rate.Limiter

	wg sync.WaitGroup
}

// NewScreamReceiver binds a UDP socket on addr and builds a receiver that
// tags each packet's source using tagForAddr (typically the sender's IP
// address).
func NewScreamReceiver(addr string, sink Sink, discovery Discovery, metrics Metrics, tagForAddr func(*net.UDPAddr) string, logger *slog.Logger) (*ScreamReceiver, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("ingress: resolve scream addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("ingress: listen scream udp: %w", err)
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if discovery == nil {
		discovery = NewWriterDiscovery(io.Discard)
	}
	return &ScreamReceiver{
		conn:       conn,
		logger:     logger.With("subsystem", "scream-receiver", "addr", addr),
		sink:       sink,
		discovery:  discovery,
		metrics:    metrics,
		tagForAddr: tagForAddr,
	}, nil
}

// Start launches the receive loop in a background goroutine. Stop via ctx
// cancellation, then call Wait or rely on Close to unblock a pending read.
func (r *ScreamReceiver) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Close closes the underlying socket, unblocking any pending read.
func (r *ScreamReceiver) Close() error {
	return r.conn.Close()
}

// Wait blocks until the receive loop has returned.
func (r *ScreamReceiver) Wait() {
	r.wg.Wait()
}

// LocalAddr returns the bound local address, useful when addr specified port 0.
func (r *ScreamReceiver) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

func (r *ScreamReceiver) loop(ctx context.Context) {
	defer r.wg.Done()

	buf := make([]byte, frame.ScreamPacketBytes)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, srcAddr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.logger.Debug("scream read error", "error", err)
			continue
		}

		tag := r.tagForAddr(srcAddr)
		hdr, pcm, perr := frame.ParseScreamPacket(buf[:n])
		if perr != nil {
			r.metrics.PacketsMalformed(tag)
			r.logMalformed(tag, perr)
			continue
		}

		r.metrics.PacketsReceived(tag)
		r.discovery.Announce(tag)

		chunk := frame.Chunk{SourceTag: tag, Format: frame.FormatFromHeader(hdr), PCM: pcm}
		r.sink.Deliver(Chunk{Arrival: time.Now(), Chunk: chunk})
	}
}

func (r *ScreamReceiver) logMalformed(tag string, err error) {
	limiter := r.limiterFor(tag)
	if limiter.Allow() {
		r.logger.Warn("malformed scream packet", "source_tag", tag, "error", err)
	}
}

func (r *ScreamReceiver) limiterFor(tag string) *rate.Limiter {
	if v, ok := r.malformedLimiters.Load(tag); ok {
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(malformedLogRate, 1)
	actual, _ := r.malformedLimiters.LoadOrStore(tag, l)
	return actual.(*rate.Limiter)
}

// RtpReceiver listens for payload-type-127 RTP packets carrying Scream-sized
// PCM chunks and delivers decoded chunks to a Sink.
type RtpReceiver struct {
	conn       *net.UDPConn
	logger     *slog.Logger
	sink       Sink
	discovery  Discovery
	metrics    Metrics
	tagForAddr func(addr *net.UDPAddr) string
	format     frame.Format // RTP carries no format header; format is configured per listener

	malformedLimiters sync.Map

	wg sync.WaitGroup
}

// NewRtpReceiver binds a UDP socket on addr for RTP payload-type-127
// ingress. Since RTP carries no Scream-style format header, the receiver is
// configured with the fixed Format its sender is known to use.
func NewRtpReceiver(addr string, format frame.Format, sink Sink, discovery Discovery, metrics Metrics, tagForAddr func(*net.UDPAddr) string, logger *slog.Logger) (*RtpReceiver, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("ingress: resolve rtp addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("ingress: listen rtp udp: %w", err)
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if discovery == nil {
		discovery = NewWriterDiscovery(io.Discard)
	}
	return &RtpReceiver{
		conn:       conn,
		logger:     logger.With("subsystem", "rtp-receiver", "addr", addr),
		sink:       sink,
		discovery:  discovery,
		metrics:    metrics,
		tagForAddr: tagForAddr,
		format:     format,
	}, nil
}

// Start launches the receive loop in a background goroutine.
func (r *RtpReceiver) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Close closes the underlying socket, unblocking any pending read.
func (r *RtpReceiver) Close() error {
	return r.conn.Close()
}

// Wait blocks until the receive loop has returned.
func (r *RtpReceiver) Wait() {
	r.wg.Wait()
}

func (r *RtpReceiver) loop(ctx context.Context) {
	defer r.wg.Done()

	buf := make([]byte, frame.RTPPacketBytes)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, srcAddr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.logger.Debug("rtp read error", "error", err)
			continue
		}

		tag := r.tagForAddr(srcAddr)
		hdr, pcm, perr := frame.ParseRTPPacket(buf[:n])
		if perr != nil {
			r.metrics.PacketsMalformed(tag)
			r.logMalformed(tag, perr)
			continue
		}
		if hdr.PayloadType != frame.RTPPayloadTypeScream {
			r.metrics.PacketsMalformed(tag)
			continue
		}

		r.metrics.PacketsReceived(tag)
		r.discovery.Announce(tag)

		chunk := frame.Chunk{SourceTag: tag, Format: r.format, PCM: pcm}
		r.sink.Deliver(Chunk{Arrival: time.Now(), Chunk: chunk})
	}
}

func (r *RtpReceiver) logMalformed(tag string, err error) {
	limiter := r.limiterFor(tag)
	if limiter.Allow() {
		r.logger.Warn("malformed rtp packet", "source_tag", tag, "error", err)
	}
}

func (r *RtpReceiver) limiterFor(tag string) *rate.Limiter {
	if v, ok := r.malformedLimiters.Load(tag); ok {
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(malformedLogRate, 1)
	actual, _ := r.malformedLimiters.LoadOrStore(tag, l)
	return actual.(*rate.Limiter)
}
