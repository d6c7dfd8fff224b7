//go:build linux

// Package daemon wires the Route Table, Host Adapter, Timing Engine,
// Protocol Engine and Update Emitter together and drives them for the
// life of the process. The administrative interface lives in a separate
// collaborator; only the -admin-port seam is accepted here, not served.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/ripd-project/ripd/internal/config"
	"github.com/ripd-project/ripd/internal/emitter"
	"github.com/ripd-project/ripd/internal/hostadapter"
	"github.com/ripd-project/ripd/internal/protocol"
	"github.com/ripd-project/ripd/internal/rib"
	"github.com/ripd-project/ripd/internal/timing"
)

// countingEmitter adapts *emitter.Emitter to timing.Emitter while
// recording periodic vs. triggered update counts.
type countingEmitter struct {
	inner *emitter.Emitter
	table *rib.Table
}

func (c *countingEmitter) EmitAll(triggered bool) {
	c.inner.EmitAll(triggered)
	if triggered {
		metricTriggeredUpdatesEmitted.Inc()
	} else {
		metricPeriodicUpdatesEmitted.Inc()
	}
	metricRoutesInstalled.Set(float64(c.table.Len()))
}

// Run builds the daemon's components from cfg and drives them until ctx
// is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	var adapter hostadapter.Adapter
	if cfg.DryRun {
		ifaces, err := dryRunInterfaces(cfg.Interfaces)
		if err != nil {
			return fmt.Errorf("daemon: error resolving -dry-run interfaces: %w", err)
		}
		adapter = hostadapter.NewFake(ifaces)
	} else {
		linux, err := hostadapter.NewLinux(cfg.RIPPort)
		if err != nil {
			return fmt.Errorf("daemon: error constructing linux host adapter: %w", err)
		}
		adapter = linux
	}

	all, err := adapter.ListInterfaces(ctx)
	if err != nil {
		return fmt.Errorf("daemon: error listing interfaces: %w", err)
	}
	activated, err := selectInterfaces(all, cfg.Interfaces)
	if err != nil {
		return err
	}
	interfacesFunc := func() []hostadapter.Interface { return activated }

	table := rib.NewTable()
	seedStaticRoutes(table, cfg.StaticRoutes)
	if cfg.ImportRoutes {
		if err := seedKernelRoutes(ctx, table, adapter); err != nil {
			slog.Warn("daemon: error importing kernel routes", "error", err)
		}
	}

	for _, iface := range activated {
		if err := adapter.JoinMulticast(iface.IP, emitter.MulticastGroup, cfg.RIPPort); err != nil {
			slog.Error("daemon: error joining multicast group", "interface", iface.Name, "error", err)
		}
	}

	em := emitter.New(table, adapter, interfacesFunc, cfg.RIPPort)
	counting := &countingEmitter{inner: em, table: table}

	sched := timing.NewScheduler()
	tengine := timing.NewEngine(sched, table, adapter, counting, cfg.BaseTimer)

	pengine := protocol.New(table, adapter, em, tengine, interfacesFunc, cfg.RIPPort)
	pengine.DropHook = func(reason string) { metricDatagramsDropped.WithLabelValues(reason).Inc() }

	stopReaders := startReceiveLoops(ctx, adapter, activated, sched, pengine)
	defer stopReaders()

	tengine.Start()
	// Ask neighbors for their full tables right away instead of waiting
	// out their periodic update timers.
	sched.CallLater(0, em.EmitStartupRequest)

	if cfg.AdminPort != 0 {
		slog.Debug("daemon: admin-port accepted but not served", "port", cfg.AdminPort)
	}

	sched.Run(ctx)

	slog.Info("daemon: shutting down")
	uninstallLearnedRoutes(table, adapter)
	if err := adapter.Cleanup(); err != nil {
		slog.Warn("daemon: error during adapter cleanup", "error", err)
	}
	return nil
}

// selectInterfaces resolves each -interface value, the IP of a locally
// assigned interface (a name is also accepted), against the adapter's
// enumeration, keeping only links that are up.
func selectInterfaces(all []hostadapter.Interface, selectors []string) ([]hostadapter.Interface, error) {
	wanted := make(map[string]bool, len(selectors))
	for _, s := range selectors {
		wanted[s] = true
	}
	var out []hostadapter.Interface
	for _, iface := range all {
		if (wanted[iface.Name] || wanted[iface.IP.String()]) && iface.Up {
			out = append(out, iface)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("daemon: no usable activated interface found among %v", selectors)
	}
	return out, nil
}

func seedStaticRoutes(table *rib.Table, routes []config.StaticRoute) {
	for _, r := range routes {
		ones, _ := r.Mask.Size()
		mask := ^uint32(0) << uint(32-ones)
		entry := &rib.Entry{
			Network:  ipToUint32(r.Network) & mask,
			Mask:     mask,
			Metric:   r.Metric,
			Imported: true,
			Changed:  true,
		}
		table.Insert(entry)
	}
}

func seedKernelRoutes(ctx context.Context, table *rib.Table, adapter hostadapter.Adapter) error {
	prefixes, err := adapter.LocalRoutes(ctx)
	if err != nil {
		return err
	}
	for _, p := range prefixes {
		if _, ok := table.Lookup(p.Network, p.Mask); ok {
			continue
		}
		table.Insert(&rib.Entry{
			Network:  p.Network,
			Mask:     p.Mask,
			Metric:   0,
			Imported: true,
			Changed:  true,
		})
	}
	return nil
}

// uninstallLearnedRoutes reverses every kernel route mutation made on
// behalf of routes this daemon learned from neighbors. Imported
// (user-configured or kernel-seeded) routes were never installed by this
// daemon, so they are left untouched.
func uninstallLearnedRoutes(table *rib.Table, adapter hostadapter.Adapter) {
	for _, entry := range table.All() {
		if entry.Imported {
			continue
		}
		if err := adapter.UninstallRoute(entry.Network, entry.Mask); err != nil {
			slog.Warn("daemon: error uninstalling route during shutdown", "route", entry, "error", err)
		}
	}
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
}

// dryRunInterfaces resolves the -interface selectors (IP or name) via the
// standard library rather than netlink, so -dry-run never touches the
// kernel routing table.
func dryRunInterfaces(selectors []string) ([]hostadapter.Interface, error) {
	wanted := make(map[string]bool, len(selectors))
	for _, s := range selectors {
		wanted[s] = true
	}
	ifis, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("error enumerating interfaces: %w", err)
	}
	var out []hostadapter.Interface
	for _, ifi := range ifis {
		addrs, err := ifi.Addrs()
		if err != nil {
			return nil, fmt.Errorf("interface %q: %w", ifi.Name, err)
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			if !wanted[ifi.Name] && !wanted[ipnet.IP.String()] {
				continue
			}
			out = append(out, hostadapter.Interface{
				Name: ifi.Name,
				IP:   ipnet.IP.To4(),
				Mask: ipnet.Mask,
				Up:   ifi.Flags&net.FlagUp != 0,
			})
		}
	}
	return out, nil
}

// startReceiveLoops fans every per-interface socket the Linux adapter
// bound into the Scheduler's single goroutine via CallLater(0, ...), so
// HandleDatagram always runs serialized with every timer callback.
// Adapters without raw sockets (the -dry-run Fake) are drained through
// the contract's RecvDatagram instead.
func startReceiveLoops(ctx context.Context, adapter hostadapter.Adapter, activated []hostadapter.Interface, sched *timing.Scheduler, pengine *protocol.Engine) func() {
	linux, ok := adapter.(*hostadapter.Linux)
	if !ok {
		go func() {
			for {
				dgram, err := adapter.RecvDatagram(ctx)
				if err != nil {
					return
				}
				sched.CallLater(0, func() { pengine.HandleDatagram(dgram) })
			}
		}()
		return func() {}
	}

	byIP := make(map[string]hostadapter.Interface, len(activated))
	for _, iface := range activated {
		byIP[iface.IP.String()] = iface
	}

	conns := linux.Conns()
	for ifaceIP, conn := range conns {
		iface, ok := byIP[ifaceIP]
		if !ok {
			continue
		}
		go receiveLoop(ctx, iface, conn, sched, pengine)
	}
	return func() {
		for _, conn := range conns {
			conn.Close()
		}
	}
}

func receiveLoop(ctx context.Context, iface hostadapter.Interface, conn *net.UDPConn, sched *timing.Scheduler, pengine *protocol.Engine) {
	buf := make([]byte, 1500)
	for {
		n, srcAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("daemon: error reading udp datagram", "interface", iface.Name, "error", err)
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		dgram := &hostadapter.Datagram{
			Payload:    payload,
			SourceIP:   srcAddr.IP,
			SourcePort: srcAddr.Port,
			Iface:      iface,
		}
		sched.CallLater(0, func() { pengine.HandleDatagram(dgram) })
	}
}
