package dnswire

import (
	"errors"
	"fmt"

	"github.com/shroudns/shroudns/internal/helpers"
)

// Bounds on an incoming client message. These exist purely to keep a
// hostile or buggy client from forcing large allocations or deep walks
// before shroudns has decided whether the query is even well-formed.
const (
	MaxIncomingDNSMessageSize = 4096 // largest message this proxy will parse
	MaxQuestions              = 4    // a standard query carries exactly one
	MaxRRPerSection           = 100  // header-reported count, never materialized
	MaxTotalRR                = 200  // sum across answer/authority/additional
)

// ParseRequestBounded parses msg as a client query, rejecting anything
// that isn't a standard (opcode 0) query within the resource limits
// above. Forwarding and blocklist matching both start here: a query that
// fails this check is echoed back to the client unmodified rather than
// inspected further (see internal/resolver).
func ParseRequestBounded(msg []byte) (Packet, error) {
	if len(msg) > MaxIncomingDNSMessageSize {
		return Packet{}, errors.New("dns message too large")
	}
	p, err := ParsePacket(msg)
	if err != nil {
		return Packet{}, err
	}

	if isResponse(p.Header.Flags) {
		return Packet{}, errors.New("invalid packet: QR flag set (response packet received)")
	}
	if opcode := extractOpcode(p.Header.Flags); opcode != 0 {
		return Packet{}, fmt.Errorf("unsupported OpCode: %d", opcode)
	}
	if err := validateSectionCounts(p.Header); err != nil {
		return Packet{}, err
	}

	return p, nil
}

func isResponse(flags uint16) bool {
	return (flags & QRFlag) != 0
}

// extractOpcode pulls the 4-bit opcode out of bits 14-11 of flags.
func extractOpcode(flags uint16) uint16 {
	return (flags & OpcodeMask) >> 11
}

// validateSectionCounts rejects a header whose counts fall outside what
// this proxy is willing to trust. The answer/authority/additional counts
// are taken straight from the header — shroudns never walks those
// sections, so it can only bound them, not validate their contents.
func validateSectionCounts(h Header) error {
	qd := int(h.QDCount)
	an := int(h.ANCount)
	ns := int(h.NSCount)
	ar := int(h.ARCount)

	if qd > MaxQuestions {
		return errors.New("too many questions")
	}
	if qd != 1 {
		return errors.New("unsupported question count")
	}
	if an > MaxRRPerSection || ns > MaxRRPerSection || ar > MaxRRPerSection {
		return errors.New("too many resource records")
	}
	if (an + ns + ar) > MaxTotalRR {
		return errors.New("too many total resource records")
	}
	return nil
}

// BuildErrorResponse synthesizes a reply carrying only a header and the
// client's own question: the transaction ID and RD flag are copied from
// req, QR is set, and rcode is written into the low 4 bits of flags. No
// answer, authority, or additional record is ever attached.
func BuildErrorResponse(req Packet, rcode uint16) Packet {
	h := Header{
		ID:      req.Header.ID,
		Flags:   buildResponseFlags(req.Header.Flags, rcode),
		QDCount: helpers.ClampIntToUint16(len(req.Questions)),
	}
	return Packet{Header: h, Questions: req.Questions}
}

// buildResponseFlags sets QR, preserves RD from the request, and stamps
// rcode into the low 4 bits.
func buildResponseFlags(reqFlags uint16, rcode uint16) uint16 {
	flags := QRFlag
	flags |= reqFlags & RDFlag
	flags = (flags &^ RCodeMask) | (rcode & RCodeMask)
	return flags
}
