package dnswire

// Header flag bits this proxy actually reads or writes (RFC 1035 §4.1.1).
// A full DNS flags field also carries AA, TC, RA, Z, and the DNSSEC AD/CD
// bits, but shroudns never sets or inspects them: it only ever echoes a
// query's RD bit back and stamps QR+RCODE on the synthesized reply.
const (
	QRFlag     uint16 = 0x8000 // Query/Response: 1 = response, 0 = query
	OpcodeMask uint16 = 0x7800 // Bits 14-11: operation type (use >> 11 to extract)
	RDFlag     uint16 = 0x0100 // Recursion Desired
	RCodeMask  uint16 = 0x000F // Bits 3-0: response code
)

// RecordType identifies the record type a question is asking for.
// shroudns never builds an answer record, so only the query types its
// blocklist and tests need to name are enumerated here.
type RecordType uint16

const (
	TypeA    RecordType = 1  // IPv4 address
	TypeAAAA RecordType = 28 // IPv6 address (RFC 3596)
)

// RecordClass represents a DNS resource record class.
type RecordClass uint16

const (
	ClassIN RecordClass = 1 // Internet class
)

// RCode represents a DNS response code (RFC 1035 §4.1.1).
type RCode uint16

const (
	RCodeNoError  RCode = 0 // No error
	RCodeFormErr  RCode = 1 // Format error: query malformed
	RCodeServFail RCode = 2 // Server failure: internal error
	RCodeNXDomain RCode = 3 // Non-existent domain
	RCodeNotImp   RCode = 4 // Not implemented: unsupported query type
	RCodeRefused  RCode = 5 // Query refused by policy
)

// RCodeFromFlags extracts the response code from the low 4 bits of a
// header's flags field.
func RCodeFromFlags(flags uint16) RCode {
	return RCode(flags & RCodeMask)
}
