package wire_test

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ripd-project/ripd/internal/wire"
)

func TestHeaderRoundTrip(t *testing.T) {
	for _, cmd := range []byte{wire.CommandRequest, wire.CommandResponse} {
		p := &wire.Packet{Header: wire.Header{Command: cmd, Version: wire.Version2}}
		buf, err := p.Encode()
		require.NoError(t, err)
		require.Equal(t, []byte{0x00, 0x00}, buf[2:4])

		got, err := wire.Decode(buf, nil)
		require.NoError(t, err)
		if diff := cmp.Diff(p, got); diff != "" {
			t.Fatalf("header round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestPacketRoundTrip(t *testing.T) {
	p := &wire.Packet{
		Header: wire.Header{Command: wire.CommandResponse, Version: wire.Version2},
		Entries: []wire.Entry{
			{AFI: wire.AFIInet, Tag: 7, Address: wire.IPToUint32(net.IPv4(192, 168, 1, 0)), Mask: wire.IPToUint32(net.IPv4(255, 255, 255, 0)), NextHop: 0, Metric: 1},
		},
	}
	buf, err := p.Encode()
	require.NoError(t, err)

	got1, err := wire.Decode(buf, net.IPv4(10, 0, 0, 2))
	require.NoError(t, err)

	buf2, err := got1.Encode()
	require.NoError(t, err)
	got2, err := wire.Decode(buf2, net.IPv4(10, 0, 0, 2))
	require.NoError(t, err)

	if diff := cmp.Diff(got1, got2); diff != "" {
		t.Fatalf("decode(encode(decode(p))) != decode(p) (-want +got):\n%s", diff)
	}
}

func TestDecodeCanonicalizesNexthopFromSource(t *testing.T) {
	p := &wire.Packet{
		Header:  wire.Header{Command: wire.CommandResponse, Version: wire.Version2},
		Entries: []wire.Entry{{AFI: wire.AFIInet, Address: 0, Mask: 0, NextHop: 0, Metric: 1}},
	}
	buf, err := p.Encode()
	require.NoError(t, err)

	got, err := wire.Decode(buf, net.IPv4(10, 0, 0, 2))
	require.NoError(t, err)
	require.Equal(t, wire.IPToUint32(net.IPv4(10, 0, 0, 2)), got.Entries[0].NextHop)
}

func TestDecodeEmptyBody(t *testing.T) {
	buf := []byte{wire.CommandRequest, wire.Version2, 0x00, 0x00}
	got, err := wire.Decode(buf, nil)
	require.NoError(t, err)
	require.Empty(t, got.Entries)
}

func TestDecodeRejectsShortLength(t *testing.T) {
	_, err := wire.Decode([]byte{0x01, 0x02, 0x00}, nil)
	require.True(t, wire.IsFormatError(err))
}

func TestDecodeRejectsMisalignedLength(t *testing.T) {
	buf := make([]byte, 4+21)
	buf[0], buf[1] = wire.CommandResponse, wire.Version2
	_, err := wire.Decode(buf, nil)
	require.True(t, wire.IsFormatError(err))
}

func TestDecodeRejectsNonzeroReserved(t *testing.T) {
	buf := []byte{wire.CommandRequest, wire.Version2, 0x00, 0x01}
	_, err := wire.Decode(buf, nil)
	require.True(t, wire.IsFormatError(err))
}

func TestDecodeRejectsOutOfRangeMetric(t *testing.T) {
	buf := make([]byte, 4+20)
	buf[0], buf[1] = wire.CommandResponse, wire.Version2
	buf[4+19] = 17 // metric low byte = 17
	_, err := wire.Decode(buf, nil)
	require.True(t, wire.IsFormatError(err))
}

func TestDecodeSkipsAuthEntry(t *testing.T) {
	buf := make([]byte, 4+20+20)
	buf[0], buf[1] = wire.CommandResponse, wire.Version2
	// First entry: auth, afi = 0xFFFF.
	buf[4], buf[5] = 0xFF, 0xFF
	buf[7] = wire.AuthTypeSimplePassword
	// Second entry: a real route with metric 1.
	buf[25] = wire.AFIInet
	buf[43] = 1

	got, err := wire.Decode(buf, nil)
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)
}
