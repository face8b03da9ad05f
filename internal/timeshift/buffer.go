// Package timeshift implements the per-source ring buffer that retains
// recently-arrived audio chunks for a configurable lookback window, letting
// a sink read slightly-delayed audio (backshift) from a source without
// affecting other sinks reading the same source live.
package timeshift

import (
	"sync"
	"time"

	"github.com/netscream/audiorouter/internal/frame"
)

// Retention is how long a chunk is kept in the buffer before it ages out,
// fixed at five minutes per the backshift contract.
const Retention = 5 * time.Minute

// entry pairs a decoded chunk with the monotonic time it arrived at the
// receiver, the timestamp backshift cursors are measured against.
type entry struct {
	arrival time.Time
	chunk   frame.Chunk
}

// Buffer is a monotonic-time-indexed ring of recently-arrived chunks for one
// source path. A single producer goroutine (the receiver delivering into the
// owning SourceInputProcessor) appends; any number of consumer goroutines
// (one per connected sink) read at their own backshift offset.
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	entries []entry // ordered oldest-to-newest
	closed  bool

	lastReposition time.Time // zero until the first Reposition call
}

// New builds an empty buffer.
func New() *Buffer {
	b := &Buffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push appends a newly-arrived chunk and evicts anything older than
// Retention relative to the new entry's arrival time. It wakes any consumer
// blocked in Wait.
func (b *Buffer) Push(arrival time.Time, chunk frame.Chunk) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.entries = append(b.entries, entry{arrival: arrival, chunk: chunk})
	b.evictLocked(arrival)
	b.cond.Broadcast()
}

// Reposition records that the user moved the backshift cursor at t,
// suppressing eviction for the following Retention window even if entries
// would otherwise have aged out.
func (b *Buffer) Reposition(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.After(b.lastReposition) {
		b.lastReposition = t
	}
}

func (b *Buffer) evictLocked(now time.Time) {
	if !b.lastReposition.IsZero() && now.Sub(b.lastReposition) < Retention {
		return
	}
	cutoff := now.Add(-Retention)
	i := 0
	for i < len(b.entries) && b.entries[i].arrival.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.entries = append(b.entries[:0], b.entries[i:]...)
	}
}

// Close unblocks any goroutine waiting in Wait and marks the buffer as
// no longer accepting pushes.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// Len returns the number of chunks currently retained.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// ReadAt returns the most recent chunk whose arrival time is at or before
// (asOf - backshift), i.e. the chunk a sink configured with the given
// backshift offset should be consuming right now. ok is false if no chunk
// in the buffer is old enough yet (backshift deeper than the buffer's
// current depth) or the buffer holds nothing.
func (b *Buffer) ReadAt(asOf time.Time, backshift time.Duration) (frame.Chunk, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	target := asOf.Add(-backshift)
	var best *entry
	for i := range b.entries {
		if !b.entries[i].arrival.After(target) {
			best = &b.entries[i]
		} else {
			break
		}
	}
	if best == nil {
		return frame.Chunk{}, false
	}
	return best.chunk, true
}

// Wait blocks until a new chunk has been pushed since the last observed
// length, the buffer is closed, or the deadline passes. It returns the
// current length on wake. Callers use this to drive a condvar-style
// consumer loop rather than polling ReadAt in a tight spin.
func (b *Buffer) Wait(deadline time.Time, lastLen int) (newLen int, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.entries) <= lastLen && !b.closed {
		if !b.waitUntilLocked(deadline) {
			break
		}
	}
	return len(b.entries), b.closed
}

// waitUntilLocked blocks on the condvar until broadcast or deadline,
// returning false on timeout. Must be called with b.mu held.
func (b *Buffer) waitUntilLocked(deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}

	done := make(chan struct{})
	timer := time.AfterFunc(remaining, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
		close(done)
	})
	defer timer.Stop()

	b.cond.Wait()
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Latest returns the newest chunk in the buffer, if any.
func (b *Buffer) Latest() (frame.Chunk, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return frame.Chunk{}, false
	}
	return b.entries[len(b.entries)-1].chunk, true
}

// OldestArrival returns the arrival time of the oldest retained chunk,
// which bounds how deep a backshift request can go before ReadAt starts
// returning !ok.
func (b *Buffer) OldestArrival() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return time.Time{}, false
	}
	return b.entries[0].arrival, true
}
