package dnswire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the wire size of a DNS header: six 16-bit fields.
const HeaderSize = 12

// Header is the 12-byte preamble of every DNS message (RFC 1035 §4.1.1).
// shroudns cares about two of its fields directly: ID, to match a reply
// back to the client that sent the query, and Flags, to tell a query
// from a response and to read/write RD and RCODE. The four section
// counts exist so ParseRequestBounded can bound how much of an untrusted
// message it is willing to walk.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Marshal writes the header fields in wire order (big-endian).
func (h Header) Marshal() ([]byte, error) {
	b := make([]byte, HeaderSize)
	for i, v := range [...]uint16{h.ID, h.Flags, h.QDCount, h.ANCount, h.NSCount, h.ARCount} {
		binary.BigEndian.PutUint16(b[i*2:i*2+2], v)
	}
	return b, nil
}

// ParseHeader reads a Header from msg starting at *off, advancing *off
// past it on success.
func ParseHeader(msg []byte, off *int) (Header, error) {
	if *off+HeaderSize > len(msg) {
		return Header{}, fmt.Errorf("%w: unexpected EOF while reading DNS header", ErrDNSError)
	}
	var fields [6]uint16
	for i := range fields {
		fields[i] = binary.BigEndian.Uint16(msg[*off+i*2 : *off+i*2+2])
	}
	*off += HeaderSize
	return Header{
		ID:      fields[0],
		Flags:   fields[1],
		QDCount: fields[2],
		ANCount: fields[3],
		NSCount: fields[4],
		ARCount: fields[5],
	}, nil
}
