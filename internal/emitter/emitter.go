// Package emitter builds and sends RIP datagrams: the per-interface split
// horizon, next-hop rewrite, and 25-entry chunking of outbound RESPONSEs,
// plus the whole-table REQUEST broadcast at startup.
package emitter

import (
	"log/slog"
	"net"

	"github.com/ripd-project/ripd/internal/hostadapter"
	"github.com/ripd-project/ripd/internal/rib"
	"github.com/ripd-project/ripd/internal/wire"
)

// MulticastGroup is the RIPv2 "all RIP routers" group.
var MulticastGroup = net.IPv4(224, 0, 0, 9)

// Emitter composes outbound RIP datagrams from the Route Table and hands
// them to the Host Adapter.
type Emitter struct {
	table      *rib.Table
	adapter    hostadapter.Adapter
	interfaces func() []hostadapter.Interface
	port       int
}

// New returns an Emitter. interfaces is called fresh on every emission so
// callers can add/remove activated interfaces over the daemon's lifetime.
func New(table *rib.Table, adapter hostadapter.Adapter, interfaces func() []hostadapter.Interface, port int) *Emitter {
	return &Emitter{table: table, adapter: adapter, interfaces: interfaces, port: port}
}

// EmitAll builds and sends a full (triggered=false) or changed-only
// (triggered=true) update on every activated interface, with split
// horizon applied.
func (em *Emitter) EmitAll(triggered bool) {
	for _, iface := range em.interfaces() {
		em.emitOnInterface(iface, triggered, true, &net.UDPAddr{IP: MulticastGroup, Port: em.port})
	}
}

// EmitStartupRequest multicasts a whole-table REQUEST (a solitary entry
// with afi 0 and metric 16, RFC 2453 §3.9.1) on every activated
// interface, so neighbors answer with their full tables immediately
// instead of waiting out their periodic update timers.
func (em *Emitter) EmitStartupRequest() {
	pkt := &wire.Packet{
		Header:  wire.Header{Command: wire.CommandRequest, Version: wire.Version2},
		Entries: []wire.Entry{{AFI: wire.AFIUnspecified, Metric: wire.InfinityMetric}},
	}
	buf, err := pkt.Encode()
	if err != nil {
		slog.Error("emitter: error encoding startup request", "error", err)
		return
	}
	dst := &net.UDPAddr{IP: MulticastGroup, Port: em.port}
	for _, iface := range em.interfaces() {
		if err := em.adapter.Send(iface.IP, dst, buf); err != nil {
			slog.Error("emitter: error sending startup request", "iface", iface.IP, "dst", dst, "error", err)
		}
	}
}

// EmitWholeTableResponse answers a whole-table REQUEST (RFC 2453 §3.9.1):
// a full response on iface only, to dst, with split horizon applied.
func (em *Emitter) EmitWholeTableResponse(iface hostadapter.Interface, dst *net.UDPAddr) {
	em.emitOnInterface(iface, false, true, dst)
}

// EmitSpecificResponse answers a specific REQUEST: the given entries,
// already rewritten with local metrics by the protocol engine, echoed
// back verbatim with no split horizon (RFC 2453 §3.9.1).
func (em *Emitter) EmitSpecificResponse(entries []wire.Entry, dst *net.UDPAddr, srcIfaceIP net.IP) {
	em.sendChunked(entries, srcIfaceIP, dst)
}

func (em *Emitter) emitOnInterface(iface hostadapter.Interface, triggeredOnly, splitHorizon bool, dst *net.UDPAddr) {
	var entries []wire.Entry
	for _, r := range em.table.All() {
		if triggeredOnly && !r.Changed {
			continue
		}
		if splitHorizon && iface.Contains(r.NextHopIP()) {
			continue
		}
		entries = append(entries, wire.Entry{
			AFI:     wire.AFIInet,
			Tag:     r.Tag,
			Address: r.Network,
			Mask:    r.Mask,
			NextHop: nexthopForInterface(iface, r),
			Metric:  uint32(r.Metric),
		})
	}
	em.sendChunked(entries, iface.IP, dst)
}

// nexthopForInterface implements the next-hop rewrite of RFC 2453 §4.4:
// advertise 0.0.0.0 unless the route's real nexthop is on this
// interface's subnet and differs from the interface's own address, in
// which case advertise the real nexthop so the receiver can forward
// directly.
func nexthopForInterface(iface hostadapter.Interface, r *rib.Entry) uint32 {
	nh := r.NextHopIP()
	if iface.Contains(nh) && !nh.Equal(iface.IP) {
		return r.NextHop
	}
	return 0
}

func (em *Emitter) sendChunked(entries []wire.Entry, ifaceIP net.IP, dst *net.UDPAddr) {
	// An empty result set produces no datagram at all.
	if len(entries) == 0 {
		return
	}
	for start := 0; start < len(entries); start += wire.MaxEntriesPerDatagram {
		end := start + wire.MaxEntriesPerDatagram
		if end > len(entries) {
			end = len(entries)
		}
		em.send(entries[start:end], ifaceIP, dst)
	}
}

func (em *Emitter) send(entries []wire.Entry, ifaceIP net.IP, dst *net.UDPAddr) {
	pkt := &wire.Packet{
		Header:  wire.Header{Command: wire.CommandResponse, Version: wire.Version2},
		Entries: entries,
	}
	buf, err := pkt.Encode()
	if err != nil {
		slog.Error("emitter: error encoding outbound packet", "error", err)
		return
	}
	if err := em.adapter.Send(ifaceIP, dst, buf); err != nil {
		slog.Error("emitter: error sending datagram", "iface", ifaceIP, "dst", dst, "error", err)
	}
}
