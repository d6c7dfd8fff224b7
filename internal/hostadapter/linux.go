//go:build linux

package hostadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"

	nl "github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/net/ipv4"
)

// ripProtocol marks kernel routes this daemon installs so they can be
// told apart from routes owned by other daemons.
const ripProtocol = 188

// Linux implements Adapter on top of vishvananda/netlink for route
// mutation and interface enumeration, with per-interface multicast UDP
// sockets for RIP datagram I/O. The netlink handle is pinned to the
// network namespace active at construction time, so route mutations stay
// scoped there even if the calling goroutine's namespace later changes.
type Linux struct {
	port int
	ns   netns.NsHandle
	nlh  *nl.Handle

	mu    sync.Mutex
	conns map[string]*net.UDPConn // keyed by interface IP
}

// NewLinux returns a Linux Host Adapter listening for RIP traffic on port,
// with its netlink handle pinned to the namespace active at the call site.
func NewLinux(port int) (*Linux, error) {
	ns, err := netns.Get()
	if err != nil {
		return nil, fmt.Errorf("hostadapter: error getting current network namespace: %v", err)
	}
	handle, err := nl.NewHandleAt(ns)
	if err != nil {
		ns.Close()
		return nil, fmt.Errorf("hostadapter: error opening netlink handle: %v", err)
	}
	return &Linux{port: port, ns: ns, nlh: handle, conns: make(map[string]*net.UDPConn)}, nil
}

// ListInterfaces returns one Interface per IPv4 address on every link, up
// or down, with Up taken from the link's flags.
func (l *Linux) ListInterfaces(ctx context.Context) ([]Interface, error) {
	links, err := l.nlh.LinkList()
	if err != nil {
		return nil, fmt.Errorf("hostadapter: error listing links: %v", err)
	}
	var out []Interface
	for _, link := range links {
		attrs := link.Attrs()
		addrs, err := l.nlh.AddrList(link, nl.FAMILY_V4)
		if err != nil {
			return nil, fmt.Errorf("hostadapter: error listing addrs for %s: %v", attrs.Name, err)
		}
		for _, a := range addrs {
			if a.IPNet == nil || a.IPNet.IP.To4() == nil {
				continue
			}
			out = append(out, Interface{
				Name: attrs.Name,
				IP:   a.IPNet.IP.To4(),
				Mask: a.IPNet.Mask,
				Up:   attrs.Flags&net.FlagUp != 0,
			})
		}
	}
	return out, nil
}

// LocalRoutes returns the kernel's main-table IPv4 routes as (network,
// mask) prefixes, used to optionally seed the Route Table at startup.
func (l *Linux) LocalRoutes(ctx context.Context) ([]Prefix, error) {
	routes, err := l.nlh.RouteListFiltered(nl.FAMILY_V4, &nl.Route{Table: syscall.RT_TABLE_MAIN}, nl.RT_FILTER_TABLE)
	if err != nil {
		return nil, fmt.Errorf("hostadapter: error listing kernel routes: %v", err)
	}
	var out []Prefix
	for _, r := range routes {
		if r.Dst == nil {
			continue
		}
		ones, _ := r.Dst.Mask.Size()
		out = append(out, Prefix{
			Network: be32(r.Dst.IP.To4()),
			Mask:    prefixLenToMask(ones),
		})
	}
	return out, nil
}

// JoinMulticast joins the RIPv2 multicast group on the interface with the
// given local address.
func (l *Linux) JoinMulticast(ifaceIP net.IP, group net.IP, port int) error {
	conn, err := l.connFor(ifaceIP, port)
	if err != nil {
		return err
	}
	ifi, err := interfaceByIP(ifaceIP)
	if err != nil {
		return err
	}
	p := ipv4.NewPacketConn(conn)
	if err := p.JoinGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
		return fmt.Errorf("hostadapter: error joining multicast group %s on %s: %v", group, ifi.Name, err)
	}
	return nil
}

func interfaceByIP(ip net.IP) (*net.Interface, error) {
	ifis, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("hostadapter: error enumerating interfaces: %v", err)
	}
	for i := range ifis {
		addrs, err := ifis[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.Equal(ip) {
				return &ifis[i], nil
			}
		}
	}
	return nil, fmt.Errorf("hostadapter: no interface carries address %s", ip)
}

func (l *Linux) connFor(ifaceIP net.IP, port int) (*net.UDPConn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ifaceIP.String()
	if c, ok := l.conns[key]; ok {
		return c, nil
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ifaceIP, Port: port})
	if err != nil {
		return nil, fmt.Errorf("hostadapter: error binding udp socket on %s:%d: %v", ifaceIP, port, err)
	}
	l.conns[key] = conn
	return conn, nil
}

// Send transmits payload from the interface bound to ifaceIP to dst.
func (l *Linux) Send(ifaceIP net.IP, dst *net.UDPAddr, payload []byte) error {
	conn, err := l.connFor(ifaceIP, l.port)
	if err != nil {
		return err
	}
	_, err = conn.WriteToUDP(payload, dst)
	return err
}

// RecvDatagram is not implemented on the shared Linux adapter: receiving
// fans in from every per-interface socket bound by connFor, which the
// daemon wires up itself (see internal/daemon) rather than polling a
// single adapter-owned channel here.
func (l *Linux) RecvDatagram(ctx context.Context) (*Datagram, error) {
	return nil, errors.New("hostadapter: use per-interface sockets via Conns() from the daemon's receive loop")
}

// Conns exposes the bound per-interface sockets for the daemon's fan-in
// receive loop.
func (l *Linux) Conns() map[string]*net.UDPConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]*net.UDPConn, len(l.conns))
	for k, v := range l.conns {
		out[k] = v
	}
	return out
}

func (l *Linux) InstallRoute(network, mask uint32, metric int, nexthop uint32) error {
	return l.writeRoute(network, mask, metric, nexthop, "install")
}

func (l *Linux) ModifyRoute(network, mask uint32, metric int, nexthop uint32) error {
	return l.writeRoute(network, mask, metric, nexthop, "modify")
}

func (l *Linux) writeRoute(network, mask uint32, metric int, nexthop uint32, op string) error {
	dst := &net.IPNet{IP: netIP(network), Mask: maskIPMask(mask)}
	err := l.nlh.RouteReplace(&nl.Route{
		Dst:      dst,
		Gw:       netIP(nexthop),
		Priority: metric,
		Protocol: nl.RouteProtocol(ripProtocol),
	})
	if err != nil {
		slog.Error("hostadapter: kernel route write failed", "op", op, "network", dst, "error", err)
		return &ModifyRouteError{Op: op, Prefix: Prefix{Network: network, Mask: mask}, Err: err}
	}
	return nil
}

func (l *Linux) UninstallRoute(network, mask uint32) error {
	dst := &net.IPNet{IP: netIP(network), Mask: maskIPMask(mask)}
	err := l.nlh.RouteDel(&nl.Route{Dst: dst, Protocol: nl.RouteProtocol(ripProtocol)})
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		slog.Error("hostadapter: kernel route delete failed", "network", dst, "error", err)
		return &ModifyRouteError{Op: "uninstall", Prefix: Prefix{Network: network, Mask: mask}, Err: err}
	}
	return nil
}

// Cleanup closes every socket this adapter bound. Kernel routes installed
// via InstallRoute are intentionally left in place unless the caller has
// already uninstalled them through UninstallRoute — the adapter does not
// track the set needed to reverse route state on an unclean shutdown.
func (l *Linux) Cleanup() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var err error
	for k, c := range l.conns {
		if cerr := c.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("error closing socket for %s: %v", k, cerr))
		}
		delete(l.conns, k)
	}
	l.nlh.Close()
	if cerr := l.ns.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("error closing pinned network namespace handle: %v", cerr))
	}
	return err
}

func maskIPMask(v uint32) net.IPMask {
	return net.IPMask{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func prefixLenToMask(ones int) uint32 {
	if ones <= 0 {
		return 0
	}
	return ^uint32(0) << uint(32-ones)
}

func be32(ip net.IP) uint32 {
	if ip == nil {
		return 0
	}
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}
