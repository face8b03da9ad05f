package netutil

import (
	"net"
	"testing"
)

func TestTuneEgressSocketRejectsNonSyscallConn(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	if err := TuneEgressSocket(c1); err == nil {
		t.Fatal("net.Pipe connections do not expose a raw fd; expected an error")
	}
}

func TestTuneEgressSocketOnUDPConn(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		t.Skipf("no UDP available in this environment: %v", err)
	}
	defer conn.Close()

	if err := TuneEgressSocket(conn); err != nil {
		t.Logf("TuneEgressSocket returned %v (best-effort, environment dependent)", err)
	}
}
