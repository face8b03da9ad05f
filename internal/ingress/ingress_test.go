package ingress

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/netscream/audiorouter/internal/frame"
)

type fakeSink struct {
	mu     sync.Mutex
	chunks []Chunk
}

func (f *fakeSink) Deliver(c Chunk) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, c)
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(bytes.Buffer), nil))
}

func tagByPort(addr *net.UDPAddr) string {
	return strconv.Itoa(addr.Port)
}

func TestWriterDiscoveryAnnouncesOncePerTag(t *testing.T) {
	var buf bytes.Buffer
	d := NewWriterDiscovery(&buf)
	d.Announce("kitchen")
	d.Announce("kitchen")
	d.Announce("office")

	got := buf.String()
	want := "kitchen\noffice\n"
	if got != want {
		t.Errorf("discovery output = %q, want %q", got, want)
	}
}

func TestScreamReceiverDeliversValidPacket(t *testing.T) {
	sink := &fakeSink{}
	recv, err := NewScreamReceiver("127.0.0.1:0", sink, nil, nil, tagByPort, testLogger())
	if err != nil {
		t.Fatalf("NewScreamReceiver: %v", err)
	}
	defer recv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recv.Start(ctx)

	client, err := net.DialUDP("udp", nil, recv.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()

	hdr := frame.HeaderForFormat(frame.Format{SampleRate: 48000, BitDepth: 16, Channels: 2})
	var pcm [frame.ChunkBytes]byte
	pkt := frame.BuildScreamPacket(hdr, pcm)
	if _, err := client.Write(pkt); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatalf("sink received %d chunks, want 1", sink.count())
	}

	cancel()
	recv.Wait()
}

func TestScreamReceiverDropsMalformedPacket(t *testing.T) {
	sink := &fakeSink{}
	recv, err := NewScreamReceiver("127.0.0.1:0", sink, nil, nil, tagByPort, testLogger())
	if err != nil {
		t.Fatalf("NewScreamReceiver: %v", err)
	}
	defer recv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recv.Start(ctx)

	client, err := net.DialUDP("udp", nil, recv.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("too short")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatalf("sink received %d chunks for a malformed packet, want 0", sink.count())
	}

	cancel()
	recv.Wait()
}

func TestRtpReceiverRejectsWrongPayloadType(t *testing.T) {
	sink := &fakeSink{}
	format := frame.Format{SampleRate: 48000, BitDepth: 16, Channels: 2}
	recv, err := NewRtpReceiver("127.0.0.1:0", format, sink, nil, nil, tagByPort, testLogger())
	if err != nil {
		t.Fatalf("NewRtpReceiver: %v", err)
	}
	defer recv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recv.Start(ctx)

	client, err := net.DialUDP("udp", nil, recv.conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()

	hdr := frame.RTPHeader{PayloadType: 0, Sequence: 1, Timestamp: 0, SSRC: 1}
	var pcm [frame.ChunkBytes]byte
	pkt := frame.BuildRTPPacket(hdr, pcm)
	if _, err := client.Write(pkt); err != nil {
		t.Fatalf("Write: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatalf("sink received %d chunks for wrong payload type, want 0", sink.count())
	}

	cancel()
	recv.Wait()
}
