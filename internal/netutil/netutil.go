// Package netutil applies the socket- and scheduler-level tuning the
// real-time audio path depends on: DSCP/EF marking and SO_PRIORITY on
// egress sockets, and best-effort CPU affinity pinning for receiver and
// mixer goroutines.
package netutil

import (
	"fmt"
	"net"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"
)

// DSCPExpeditedForwarding is the DSCP codepoint (EF, decimal 46) applied to
// every sink egress socket so LAN QoS queues treat audio ahead of bulk
// traffic.
const DSCPExpeditedForwarding = 46

// SOPriorityRealtime is the SO_PRIORITY value applied to sink egress
// sockets, matching the Linux convention for "interactive" traffic classes.
const SOPriorityRealtime = 6

// TuneEgressSocket marks a UDP or TCP socket's outgoing packets with the EF
// DSCP codepoint and raises its SO_PRIORITY. Both operations are
// best-effort: a platform or permission failure is returned but callers may
// choose to continue without the QoS marking rather than fail the sink.
func TuneEgressSocket(conn net.Conn) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return fmt.Errorf("netutil: connection type %T does not expose a raw fd", conn)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return fmt.Errorf("netutil: SyscallConn: %w", err)
	}

	var opErr error
	err = raw.Control(func(fd uintptr) {
		tos := DSCPExpeditedForwarding << 2
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tos); e != nil {
			opErr = fmt.Errorf("setting IP_TOS: %w", e)
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PRIORITY, SOPriorityRealtime); e != nil {
			opErr = fmt.Errorf("setting SO_PRIORITY: %w", e)
			return
		}
	})
	if err != nil {
		return fmt.Errorf("netutil: raw control: %w", err)
	}
	return opErr
}

// PinCurrentThread locks the calling goroutine to its current OS thread and
// restricts that thread to the given CPU. It is best-effort: on any
// failure (unsupported platform, insufficient privilege) it returns an
// error but the caller is expected to log and continue unpinned, per the
// "non-blocking if CPU affinity fails" requirement.
func PinCurrentThread(cpu int) error {
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("netutil: SchedSetaffinity cpu %d: %w", cpu, err)
	}
	return nil
}
