// Package protocol implements the RIP protocol state machine: ingress
// validation, REQUEST/RESPONSE dispatch, and the route update rules of
// RFC 2453 §3.9. It is the coordinator that owns the Route Table and
// reacts to the datagrams the Host Adapter delivers.
package protocol

import (
	"log/slog"
	"net"
	"time"

	"github.com/ripd-project/ripd/internal/emitter"
	"github.com/ripd-project/ripd/internal/hostadapter"
	"github.com/ripd-project/ripd/internal/rib"
	"github.com/ripd-project/ripd/internal/wire"
)

// TriggerRequester is the slice of the Timing Engine the protocol engine
// drives: triggered-update signalling, and arming the garbage-collection
// sweep when a received infinity metric poisons a route.
type TriggerRequester interface {
	RequestTriggeredUpdate()
	ScheduleGarbageSweep()
}

// Engine validates inbound datagrams, applies the RIP route update rules
// to the Route Table, and answers REQUESTs. It runs exclusively on the
// daemon's single cooperative goroutine.
type Engine struct {
	table      *rib.Table
	adapter    hostadapter.Adapter
	emitter    *emitter.Emitter
	trigger    TriggerRequester
	interfaces func() []hostadapter.Interface
	ripPort    int
	nowFunc    func() time.Time

	// DropHook, when set, is called with a short reason string whenever
	// HandleDatagram discards an inbound datagram. The daemon wires this to
	// a prometheus counter; tests leave it nil.
	DropHook func(reason string)
}

// New constructs the protocol engine.
func New(table *rib.Table, adapter hostadapter.Adapter, em *emitter.Emitter, trigger TriggerRequester, interfaces func() []hostadapter.Interface, ripPort int) *Engine {
	return &Engine{
		table:      table,
		adapter:    adapter,
		emitter:    em,
		trigger:    trigger,
		interfaces: interfaces,
		ripPort:    ripPort,
		nowFunc:    time.Now,
	}
}

func (e *Engine) now() time.Time { return e.nowFunc() }

func (e *Engine) drop(reason string) {
	if e.DropHook != nil {
		e.DropHook(reason)
	}
}

// HandleDatagram runs the ingress filter and dispatches by command: the
// source must be a link-local peer and must not be this host itself, and
// a RESPONSE is only accepted from the RIP port.
func (e *Engine) HandleDatagram(d *hostadapter.Datagram) {
	if !e.isLinkLocal(d.SourceIP) {
		slog.Debug("protocol: dropping datagram from non-link-local source", "src", d.SourceIP)
		e.drop("non_link_local")
		return
	}
	if e.isLocalAddress(d.SourceIP) {
		e.drop("self")
		return // own address, dropped silently
	}

	pkt, err := wire.Decode(d.Payload, d.SourceIP)
	if err != nil {
		slog.Warn("protocol: dropping malformed datagram", "src", d.SourceIP, "error", err)
		e.drop("format_error")
		return
	}

	switch pkt.Header.Command {
	case wire.CommandRequest:
		e.handleRequest(pkt, d.Iface, d.SourceIP, d.SourcePort)
	case wire.CommandResponse:
		if d.SourcePort != e.ripPort {
			slog.Debug("protocol: dropping response from non-rip source port", "src", d.SourceIP, "port", d.SourcePort)
			e.drop("wrong_source_port")
			return
		}
		e.handleResponse(pkt, d.SourceIP)
	default:
		slog.Warn("protocol: dropping datagram with unknown command", "command", pkt.Header.Command)
		e.drop("unknown_command")
	}
}

func (e *Engine) isLinkLocal(ip net.IP) bool {
	for _, iface := range e.interfaces() {
		if !iface.Up {
			continue
		}
		if iface.Contains(ip) {
			return true
		}
	}
	return false
}

func (e *Engine) isLocalAddress(ip net.IP) bool {
	for _, iface := range e.interfaces() {
		if iface.IP.Equal(ip) {
			return true
		}
	}
	return false
}

// handleRequest implements RFC 2453 §3.9.1: a solitary afi-0 entry at
// metric 16 asks for the whole table; anything else is a specific
// request echoed back with local metrics.
func (e *Engine) handleRequest(pkt *wire.Packet, iface hostadapter.Interface, src net.IP, srcPort int) {
	if len(pkt.Entries) == 0 {
		return
	}

	dst := &net.UDPAddr{IP: src, Port: srcPort}

	if len(pkt.Entries) == 1 && pkt.Entries[0].AFI == wire.AFIUnspecified && pkt.Entries[0].Metric == wire.InfinityMetric {
		e.emitter.EmitWholeTableResponse(iface, dst)
		return
	}

	reply := make([]wire.Entry, len(pkt.Entries))
	for i, entry := range pkt.Entries {
		reply[i] = entry
		if r, ok := e.table.Lookup(entry.Address, entry.Mask); ok {
			reply[i].Metric = uint32(r.Metric)
		} else {
			reply[i].Metric = wire.InfinityMetric
		}
	}
	e.emitter.EmitSpecificResponse(reply, dst, iface.IP)
}

// handleResponse applies the RFC 2453 §3.9.2 update rule to every entry
// in order, then requests a triggered update if anything changed.
func (e *Engine) handleResponse(pkt *wire.Packet, src net.IP) {
	changed := false
	for _, raw := range pkt.Entries {
		if e.applyEntry(raw, src) {
			changed = true
		}
	}
	if changed {
		e.trigger.RequestTriggeredUpdate()
	}
}

func (e *Engine) applyEntry(raw wire.Entry, src net.IP) (changed bool) {
	metric := int(raw.Metric) + 1
	if metric > wire.InfinityMetric {
		metric = wire.InfinityMetric
	}
	nexthop := raw.NextHop // already canonicalized to src at decode if it was 0.0.0.0

	existing, ok := e.table.Lookup(raw.Address, raw.Mask)
	if !ok {
		if metric == wire.InfinityMetric {
			return false
		}
		entry := &rib.Entry{
			Network: raw.Address,
			Mask:    raw.Mask,
			NextHop: nexthop,
			Metric:  metric,
			Tag:     raw.Tag,
			Changed: true,
		}
		entry.ResetTimeout(e.now())
		e.table.Insert(entry)
		if err := e.adapter.InstallRoute(entry.Network, entry.Mask, entry.Metric, entry.NextHop); err != nil {
			slog.Warn("protocol: kernel route install failed", "route", entry, "error", err)
		}
		return true
	}

	if existing.NextHop == nexthop {
		if metric != existing.Metric {
			if existing.Metric < wire.InfinityMetric && metric >= wire.InfinityMetric {
				existing.EnterGarbage(e.now())
				if err := e.adapter.ModifyRoute(existing.Network, existing.Mask, existing.Metric, existing.NextHop); err != nil {
					slog.Warn("protocol: kernel route modify failed entering garbage collection", "route", existing, "error", err)
				}
				e.trigger.ScheduleGarbageSweep()
				return true
			}
			existing.Metric = metric
			existing.Garbage = false
			existing.Changed = true
			existing.ResetTimeout(e.now())
			if err := e.adapter.ModifyRoute(existing.Network, existing.Mask, existing.Metric, existing.NextHop); err != nil {
				slog.Warn("protocol: kernel route modify failed", "route", existing, "error", err)
			}
			return true
		}
		if !existing.Garbage {
			existing.ResetTimeout(e.now())
		}
		return false
	}

	// Different origin.
	if metric < existing.Metric {
		existing.NextHop = nexthop
		existing.Metric = metric
		existing.Garbage = false
		existing.Changed = true
		existing.ResetTimeout(e.now())
		if err := e.adapter.ModifyRoute(existing.Network, existing.Mask, existing.Metric, existing.NextHop); err != nil {
			slog.Warn("protocol: kernel route modify failed on replace", "route", existing, "error", err)
		}
		return true
	}
	return false
}
