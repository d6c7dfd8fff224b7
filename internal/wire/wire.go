// Package wire implements the RIPv2 datagram codec: header and route-entry
// encoding/decoding per RFC 2453, plus the RFC 1723 §3.1 authentication
// entry shape (parsed and discarded, never surfaced as a route).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

const (
	// CommandRequest is the RIP REQUEST command code.
	CommandRequest = 1
	// CommandResponse is the RIP RESPONSE command code.
	CommandResponse = 2

	// Version2 is the RIP version this daemon sends. Decode does not check
	// the version byte.
	Version2 = 2

	// AFIInet marks an entry as an IPv4 route.
	AFIInet = 2
	// AFIUnspecified marks the solitary RTE of a whole-table request.
	AFIUnspecified = 0
	// AFIAuth marks an authentication entry rather than a route.
	AFIAuth = 0xFFFF

	// AuthTypeSimplePassword is the RFC 1723 §3.1 auth_type value.
	AuthTypeSimplePassword = 2

	headerLen = 4
	entryLen  = 20

	// MaxEntriesPerDatagram is the standard RIP per-datagram route limit.
	MaxEntriesPerDatagram = 25

	// InfinityMetric denotes an unreachable route.
	InfinityMetric = 16
)

// FormatError reports a malformed RIP datagram.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("rip: format error: %s", e.Reason)
}

func formatErrorf(format string, args ...any) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

// Header is the 4-byte RIP packet header.
type Header struct {
	Command byte
	Version byte
}

// Entry is a decoded RIPv2 route table entry. AuthEntries decoded from the
// wire are never represented as an Entry; they are skipped during decode.
type Entry struct {
	AFI     uint16
	Tag     uint16
	Address uint32
	Mask    uint32
	NextHop uint32
	Metric  uint32
}

// Packet is a decoded RIP datagram: a header plus its route entries.
// Authentication entries are dropped during decode and are not represented.
type Packet struct {
	Header  Header
	Entries []Entry
}

// Encode serializes the packet to wire bytes. The reserved header field is
// always emitted as zero. At most MaxEntriesPerDatagram entries may be
// encoded in a single packet; callers are responsible for chunking larger
// route sets (see the emitter package).
func (p *Packet) Encode() ([]byte, error) {
	if len(p.Entries) > MaxEntriesPerDatagram {
		return nil, fmt.Errorf("rip: %d entries exceeds max %d per datagram", len(p.Entries), MaxEntriesPerDatagram)
	}
	buf := make([]byte, headerLen+entryLen*len(p.Entries))
	buf[0] = p.Header.Command
	buf[1] = p.Header.Version
	binary.BigEndian.PutUint16(buf[2:4], 0)

	for i, e := range p.Entries {
		off := headerLen + i*entryLen
		binary.BigEndian.PutUint16(buf[off:], e.AFI)
		binary.BigEndian.PutUint16(buf[off+2:], e.Tag)
		binary.BigEndian.PutUint32(buf[off+4:], e.Address)
		binary.BigEndian.PutUint32(buf[off+8:], e.Mask)
		binary.BigEndian.PutUint32(buf[off+12:], e.NextHop)
		binary.BigEndian.PutUint32(buf[off+16:], e.Metric)
	}
	return buf, nil
}

// Decode parses a raw RIP datagram. The source IP is used to canonicalize
// any entry whose wire nexthop is 0.0.0.0. Authentication entries
// (afi == 0xFFFF) are parsed for size-invariant purposes but dropped from
// the returned entry list.
func Decode(buf []byte, src net.IP) (*Packet, error) {
	if len(buf) < headerLen {
		return nil, formatErrorf("datagram shorter than header: %d bytes", len(buf))
	}
	if (len(buf)-headerLen)%entryLen != 0 {
		return nil, formatErrorf("body length %d is not a multiple of %d", len(buf)-headerLen, entryLen)
	}
	zero := binary.BigEndian.Uint16(buf[2:4])
	if zero != 0 {
		return nil, formatErrorf("reserved header field is nonzero: %#04x", zero)
	}

	p := &Packet{
		Header: Header{
			Command: buf[0],
			Version: buf[1],
		},
	}

	n := (len(buf) - headerLen) / entryLen
	for i := 0; i < n; i++ {
		off := headerLen + i*entryLen
		raw := buf[off : off+entryLen]
		e := Entry{
			AFI:     binary.BigEndian.Uint16(raw[0:2]),
			Tag:     binary.BigEndian.Uint16(raw[2:4]),
			Address: binary.BigEndian.Uint32(raw[4:8]),
			Mask:    binary.BigEndian.Uint32(raw[8:12]),
			NextHop: binary.BigEndian.Uint32(raw[12:16]),
			Metric:  binary.BigEndian.Uint32(raw[16:20]),
		}
		if e.AFI == AFIAuth {
			// Authentication entry: parsed for framing only, never surfaced.
			continue
		}
		if e.Metric > InfinityMetric {
			return nil, formatErrorf("entry %d metric %d out of range [0,%d]", i, e.Metric, InfinityMetric)
		}
		if e.NextHop == 0 && src != nil {
			if v4 := src.To4(); v4 != nil {
				e.NextHop = binary.BigEndian.Uint32(v4)
			}
		}
		e.Address &= e.Mask
		p.Entries = append(p.Entries, e)
	}
	return p, nil
}

// IsFormatError reports whether err is a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// Uint32ToIP converts a big-endian encoded 32-bit address to a net.IP.
func Uint32ToIP(v uint32) net.IP {
	b := make(net.IP, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// IPToUint32 converts an IPv4 net.IP to its big-endian 32-bit form. It
// returns 0 for a nil or non-IPv4 address.
func IPToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v4)
}
