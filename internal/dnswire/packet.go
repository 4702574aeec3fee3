package dnswire

// Packet is a DNS message reduced to the two sections shroudns touches:
// the header and the question. The answer, authority, and additional
// sections (RFC 1035 §4) are never modeled here — this proxy only ever
// emits a bare RCODE against the client's own question, never an answer
// record of its own, so ParsePacket stops once the questions are read
// and Marshal never writes a non-zero record count.
type Packet struct {
	Header    Header
	Questions []Question
}

// Marshal serializes the header and question section in wire format.
// ANCount, NSCount, and ARCount are always emitted as zero: nothing in
// shroudns ever populates an answer, authority, or additional record.
func (p Packet) Marshal() ([]byte, error) {
	h := Header{
		ID:      p.Header.ID,
		Flags:   p.Header.Flags,
		QDCount: uint16(len(p.Questions)),
	}

	hb, err := h.Marshal()
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, HeaderSize+len(p.Questions)*32)
	out = append(out, hb...)
	for _, q := range p.Questions {
		qb, err := q.Marshal()
		if err != nil {
			return nil, err
		}
		out = append(out, qb...)
	}
	return out, nil
}

// ParsePacket reads a header and its question section from msg. It does
// not descend into the answer/authority/additional sections a query may
// carry; ParseRequestBounded bounds those directly against the header's
// counts without materializing the records they describe.
func ParsePacket(msg []byte) (Packet, error) {
	off := 0
	h, err := ParseHeader(msg, &off)
	if err != nil {
		return Packet{}, err
	}

	p := Packet{Header: h}

	// Cap the slice preallocation so a hostile QDCount can't force a
	// large allocation before any question bytes are actually read.
	prealloc := int(h.QDCount)
	if prealloc > MaxQuestions {
		prealloc = MaxQuestions
	}
	p.Questions = make([]Question, 0, prealloc)
	for range h.QDCount {
		q, err := ParseQuestion(msg, &off)
		if err != nil {
			return Packet{}, err
		}
		p.Questions = append(p.Questions, q)
	}
	return p, nil
}
