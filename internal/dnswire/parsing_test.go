package dnswire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildQueryBytes(t *testing.T, id uint16, name string) []byte {
	t.Helper()
	pkt := Packet{
		Header:    Header{ID: id, Flags: RDFlag, QDCount: 1},
		Questions: []Question{{Name: name, Type: uint16(TypeA), Class: uint16(ClassIN)}},
	}
	b, err := pkt.Marshal()
	require.NoError(t, err)
	return b
}

func TestParseRequestBoundedAcceptsStandardQuery(t *testing.T) {
	req, err := ParseRequestBounded(buildQueryBytes(t, 0x1234, "example.com"))
	require.NoError(t, err)
	require.Len(t, req.Questions, 1)
	assert.Equal(t, "example.com", req.Questions[0].Name)
}

func TestParseRequestBoundedRejectsResponse(t *testing.T) {
	msg := make([]byte, 12)
	msg[2] = 0x80 // QR bit set
	msg[5] = 1    // QDCount = 1
	_, err := ParseRequestBounded(msg)
	assert.Error(t, err)
}

func TestParseRequestBoundedRejectsNonZeroOpcode(t *testing.T) {
	msg := make([]byte, 12)
	msg[2] = 0x08 // opcode bits 14-11 = 1 (IQUERY)
	msg[5] = 1
	_, err := ParseRequestBounded(msg)
	assert.Error(t, err)
}

func TestParseRequestBoundedRejectsMultipleQuestions(t *testing.T) {
	msg := make([]byte, 12)
	msg[5] = 2 // QDCount = 2
	_, err := ParseRequestBounded(msg)
	assert.Error(t, err)
}

func TestParseRequestBoundedRejectsOversizedMessage(t *testing.T) {
	msg := make([]byte, MaxIncomingDNSMessageSize+1)
	_, err := ParseRequestBounded(msg)
	assert.Error(t, err)
}

func TestBuildErrorResponsePreservesIDAndRD(t *testing.T) {
	req, err := ParseRequestBounded(buildQueryBytes(t, 0xbeef, "ads.example.com"))
	require.NoError(t, err)

	resp := BuildErrorResponse(req, uint16(RCodeNXDomain))

	assert.Equal(t, req.Header.ID, resp.Header.ID)
	assert.NotZero(t, resp.Header.Flags&QRFlag)
	assert.Equal(t, req.Header.Flags&RDFlag, resp.Header.Flags&RDFlag)
	assert.Equal(t, RCodeNXDomain, RCodeFromFlags(resp.Header.Flags))
	require.Len(t, resp.Questions, 1)
	assert.Equal(t, "ads.example.com", resp.Questions[0].Name)
}

func TestBuildErrorResponseMarshalsToHeaderPlusQuestion(t *testing.T) {
	req, err := ParseRequestBounded(buildQueryBytes(t, 0x4242, "example.com"))
	require.NoError(t, err)

	resp := BuildErrorResponse(req, uint16(RCodeServFail))
	b, err := resp.Marshal()
	require.NoError(t, err)

	parsed, err := ParsePacket(b)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x4242), parsed.Header.ID)
	assert.Equal(t, RCodeServFail, RCodeFromFlags(parsed.Header.Flags))
	require.Len(t, parsed.Questions, 1)
	assert.Equal(t, "example.com", parsed.Questions[0].Name)
}
