package emitter_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ripd-project/ripd/internal/emitter"
	"github.com/ripd-project/ripd/internal/hostadapter"
	"github.com/ripd-project/ripd/internal/rib"
	"github.com/ripd-project/ripd/internal/wire"
)

func ifaceA() hostadapter.Interface {
	return hostadapter.Interface{Name: "ethA", IP: net.IPv4(10, 0, 0, 1), Mask: net.CIDRMask(24, 32), Up: true}
}

func ifaceB() hostadapter.Interface {
	return hostadapter.Interface{Name: "ethB", IP: net.IPv4(192, 168, 0, 1), Mask: net.CIDRMask(24, 32), Up: true}
}

// TestSplitHorizonChunking: 60 routes learned via nexthops on iface A's
// subnet are suppressed by split horizon; the remaining 30 are chunked
// into 25 + 5.
func TestSplitHorizonChunking(t *testing.T) {
	table := rib.NewTable()
	for i := 0; i < 60; i++ {
		table.Insert(&rib.Entry{
			Network: uint32(10<<24 | 1<<16 | i),
			Mask:    0xFFFFFF00,
			NextHop: wire.IPToUint32(net.IPv4(10, 0, 0, byte(2+i%250))),
			Metric:  2,
		})
	}
	for i := 0; i < 30; i++ {
		table.Insert(&rib.Entry{
			Network: uint32(172<<24 | 16<<16 | i),
			Mask:    0xFFFFFF00,
			NextHop: wire.IPToUint32(net.IPv4(192, 168, 0, byte(2+i%250))),
			Metric:  3,
		})
	}

	fake := hostadapter.NewFake([]hostadapter.Interface{ifaceA()})
	em := emitter.New(table, fake, func() []hostadapter.Interface { return []hostadapter.Interface{ifaceA()} }, 520)

	em.EmitAll(false)

	sent := fake.Sent()
	require.Len(t, sent, 2)

	totalEntries := 0
	for _, s := range sent {
		pkt, err := wire.Decode(s.Payload, nil)
		require.NoError(t, err)
		totalEntries += len(pkt.Entries)
	}
	require.Equal(t, 30, totalEntries, "60 routes via iface A's subnet must be suppressed by split horizon")
	require.Len(t, sent[0].Payload[4:], 25*20)
}

// TestNexthopRewrite: a route's nexthop is advertised verbatim on the
// interface whose subnet contains it (and isn't the interface's own
// address), and rewritten to 0.0.0.0 elsewhere.
func TestNexthopRewrite(t *testing.T) {
	table := rib.NewTable()
	route := &rib.Entry{
		Network: wire.IPToUint32(net.IPv4(8, 8, 8, 0)),
		Mask:    0xFFFFFF00,
		NextHop: wire.IPToUint32(net.IPv4(10, 0, 0, 3)),
		Metric:  2,
	}
	table.Insert(route)

	fakeA := hostadapter.NewFake([]hostadapter.Interface{ifaceA()})
	emA := emitter.New(table, fakeA, func() []hostadapter.Interface { return []hostadapter.Interface{ifaceA()} }, 520)
	emA.EmitAll(false)
	pktA, err := wire.Decode(fakeA.Sent()[0].Payload, nil)
	require.NoError(t, err)
	require.Equal(t, wire.IPToUint32(net.IPv4(10, 0, 0, 3)), pktA.Entries[0].NextHop)

	fakeB := hostadapter.NewFake([]hostadapter.Interface{ifaceB()})
	emB := emitter.New(table, fakeB, func() []hostadapter.Interface { return []hostadapter.Interface{ifaceB()} }, 520)
	emB.EmitAll(false)
	pktB, err := wire.Decode(fakeB.Sent()[0].Payload, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(0), pktB.Entries[0].NextHop)
}

// TestStartupRequestBroadcastsWholeTableForm: the startup REQUEST carries
// the solitary afi-0 metric-16 entry on every activated interface.
func TestStartupRequestBroadcastsWholeTableForm(t *testing.T) {
	fake := hostadapter.NewFake([]hostadapter.Interface{ifaceA(), ifaceB()})
	em := emitter.New(rib.NewTable(), fake, func() []hostadapter.Interface {
		return []hostadapter.Interface{ifaceA(), ifaceB()}
	}, 520)

	em.EmitStartupRequest()

	sent := fake.Sent()
	require.Len(t, sent, 2)
	for _, s := range sent {
		pkt, err := wire.Decode(s.Payload, nil)
		require.NoError(t, err)
		require.Equal(t, byte(wire.CommandRequest), pkt.Header.Command)
		require.Len(t, pkt.Entries, 1)
		require.Equal(t, uint16(wire.AFIUnspecified), pkt.Entries[0].AFI)
		require.Equal(t, uint32(wire.InfinityMetric), pkt.Entries[0].Metric)
		require.Equal(t, emitter.MulticastGroup.String(), s.Dst.IP.String())
		require.Equal(t, 520, s.Dst.Port)
	}
}

// TestTriggeredEmitOnlyChangedRoutes ensures a triggered update carries
// only routes flagged Changed.
func TestTriggeredEmitOnlyChangedRoutes(t *testing.T) {
	table := rib.NewTable()
	table.Insert(&rib.Entry{Network: 1, Mask: 0xFFFFFFFF, Metric: 1, Changed: true})
	table.Insert(&rib.Entry{Network: 2, Mask: 0xFFFFFFFF, Metric: 1, Changed: false})

	fake := hostadapter.NewFake([]hostadapter.Interface{ifaceB()})
	em := emitter.New(table, fake, func() []hostadapter.Interface { return []hostadapter.Interface{ifaceB()} }, 520)
	em.EmitAll(true)

	pkt, err := wire.Decode(fake.Sent()[0].Payload, nil)
	require.NoError(t, err)
	require.Len(t, pkt.Entries, 1)
	require.Equal(t, uint32(1), pkt.Entries[0].Address)
}
