// Package rib holds the in-memory route database: Entry records and the
// Table that indexes them by (network, mask).
package rib

import (
	"fmt"
	"net"
	"time"
)

// InfinityMetric is the RIP unreachable metric.
const InfinityMetric = 16

// Key identifies a route by its canonical (network, mask) pair. Two
// entries never coexist in a Table under the same Key.
type Key struct {
	Network uint32
	Mask    uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", ipString(k.Network), ipString(k.Mask))
}

func ipString(v uint32) string {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v)).String()
}

// Entry is one Route Table record.
type Entry struct {
	Network uint32
	Mask    uint32
	NextHop uint32 // never 0.0.0.0 once normalized
	Metric  int    // 0..16
	Tag     uint16

	// Timeout is the monotonic timestamp of the last event that reset the
	// route's timer. Zero means the route never expires (imported routes).
	Timeout time.Time

	Changed           bool
	Garbage           bool // metric forced to 16, awaiting GC deletion
	MarkedForDeletion bool
	Imported          bool // locally originated; never times out
}

// Key returns the entry's table key.
func (e *Entry) Key() Key { return Key{Network: e.Network, Mask: e.Mask} }

// HasTimeout reports whether the entry is subject to the timeout/GC
// lifecycle. Imported routes never have one.
func (e *Entry) HasTimeout() bool {
	return !e.Imported && !e.Timeout.IsZero()
}

// ResetTimeout sets the entry's timer-reset timestamp to now, unless the
// entry is imported, in which case it is a no-op. Re-checking Imported on
// every call rather than only at construction means it never matters
// whether Imported is set before or after the first ResetTimeout call.
func (e *Entry) ResetTimeout(now time.Time) {
	if e.Imported {
		e.Timeout = time.Time{}
		return
	}
	e.Timeout = now
}

// EnterGarbage transitions the entry into garbage-collection state,
// forcing the metric to infinity and restarting the timer so the reset
// timestamp marks the start of the GC window. Calling it again restarts
// that window; callers that need the transition to happen at most once
// must check Garbage first, as the timing engine does.
func (e *Entry) EnterGarbage(now time.Time) {
	e.Garbage = true
	e.Metric = InfinityMetric
	e.Changed = true
	e.ResetTimeout(now)
}

// NetworkIP returns the entry's network address as a net.IP.
func (e *Entry) NetworkIP() net.IP { return net.IPv4(byte(e.Network>>24), byte(e.Network>>16), byte(e.Network>>8), byte(e.Network)) }

// MaskIP returns the entry's netmask as a net.IP.
func (e *Entry) MaskIP() net.IP { return net.IPv4(byte(e.Mask>>24), byte(e.Mask>>16), byte(e.Mask>>8), byte(e.Mask)) }

// NextHopIP returns the entry's nexthop as a net.IP.
func (e *Entry) NextHopIP() net.IP {
	return net.IPv4(byte(e.NextHop>>24), byte(e.NextHop>>16), byte(e.NextHop>>8), byte(e.NextHop))
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s/%s via %s metric=%d tag=%d garbage=%t imported=%t",
		e.NetworkIP(), e.MaskIP(), e.NextHopIP(), e.Metric, e.Tag, e.Garbage, e.Imported)
}
