package krb5

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkime-go/capture/internal/field"
	"github.com/arkime-go/capture/internal/session"
)

// encodeLen appends a DER length header for the given content length.
func encodeLen(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	return []byte{0x81, byte(n)}
}

// tagged wraps content in a TLV with the given tag octet.
func tagged(tagByte byte, content []byte) []byte {
	out := []byte{tagByte}
	out = append(out, encodeLen(len(content))...)
	return append(out, content...)
}

func berInteger(v int) []byte {
	return tagged(0x02, []byte{byte(v)})
}

func generalString(s string) []byte {
	return tagged(0x1B, []byte(s))
}

func principalName(components ...string) []byte {
	var nameStrings []byte
	for _, c := range components {
		nameStrings = append(nameStrings, generalString(c)...)
	}
	// name-type[0] INTEGER
	nameType := tagged(0xA0, berInteger(1))
	nameStr := tagged(0xA1, tagged(0x30, nameStrings))
	body := append(append([]byte{}, nameType...), nameStr...)
	return tagged(0x30, body)
}

func buildASREQ(cnameComponents, snameComponents []string, etypes []int) []byte {
	var etypeSeq []byte
	for _, e := range etypes {
		etypeSeq = append(etypeSeq, berInteger(e)...)
	}

	cnameField := tagged(0xA1, principalName(cnameComponents...))
	realmField := tagged(0xA2, generalString("EXAMPLE.COM"))
	snameField := tagged(0xA3, principalName(snameComponents...))
	etypeField := tagged(0xA8, tagged(0x30, etypeSeq))

	reqBody := append([]byte{}, cnameField...)
	reqBody = append(reqBody, realmField...)
	reqBody = append(reqBody, snameField...)
	reqBody = append(reqBody, etypeField...)

	pvno := tagged(0xA1, berInteger(5))
	msgType := tagged(0xA2, berInteger(msgASReq))
	body := tagged(0xA4, tagged(0x30, reqBody))

	seqContent := append(append([]byte{}, pvno...), msgType...)
	seqContent = append(seqContent, body...)

	return tagged(0x6A, tagged(0x30, seqContent))
}

func TestParseASREQScenario4(t *testing.T) {
	reg := field.NewRegistry()
	fields := Register(reg)
	ip := net.ParseIP("10.0.0.1")
	s := session.NewSession(session.TupleID(ip, 49000, ip, 88, 0, 0), session.ProtocolTCP, ip, 49000, ip, 88, reg, time.Now())

	msg := buildASREQ(
		[]string{"alice"},
		[]string{"krbtgt", "EXAMPLE.COM"},
		[]int{18, 17, 23})

	require.True(t, ClassifyUDP(msg))

	err := Parse(s, fields, msg)
	require.NoError(t, err)

	cname, ok := s.Fields.Get(fields.CName)
	require.True(t, ok)
	assert.Equal(t, []interface{}{"alice"}, cname)

	sname, ok := s.Fields.Get(fields.SName)
	require.True(t, ok)
	assert.Equal(t, []interface{}{"krbtgt/EXAMPLE.COM"}, sname)

	etype, ok := s.Fields.Get(fields.EType)
	require.True(t, ok)
	assert.ElementsMatch(t, []interface{}{
		"aes256-cts-hmac-sha1-96",
		"aes128-cts-hmac-sha1-96",
		"rc4-hmac",
	}, etype)

	assert.True(t, s.HasProtocol("krb5"))
}

func TestTCPMessageExtractsLengthPrefixedBody(t *testing.T) {
	body := []byte{0x01, 0x02, 0x03}
	buf := append([]byte{0x00, 0x00, 0x00, byte(len(body))}, body...)

	msg, consumed, ok := TCPMessage(buf)
	require.True(t, ok)
	assert.Equal(t, body, msg)
	assert.Equal(t, len(buf), consumed)
}

func TestTCPMessageWaitsForMoreData(t *testing.T) {
	buf := []byte{0x00, 0x00, 0x00, 0x05, 0x01, 0x02}
	_, _, ok := TCPMessage(buf)
	assert.False(t, ok)
}

func TestClassifyTCPRejectsLengthsAboveSixtyFourKiB(t *testing.T) {
	msg := buildASREQ([]string{"alice"}, []string{"krbtgt", "EXAMPLE.COM"}, []int{18})
	frame := append([]byte{0x00, 0x01, 0x00, 0x00}, msg...) // high length byte nonzero
	assert.False(t, ClassifyTCP(frame))
}

func TestClassifyTCPAcceptsRecognizedTag(t *testing.T) {
	msg := buildASREQ([]string{"alice"}, []string{"krbtgt", "EXAMPLE.COM"}, []int{18})
	frame := append([]byte{0x00, 0x00, 0x00, byte(len(msg))}, msg...)
	assert.True(t, ClassifyTCP(frame))
}
