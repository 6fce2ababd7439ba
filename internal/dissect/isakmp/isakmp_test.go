package isakmp

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkime-go/capture/internal/field"
	"github.com/arkime-go/capture/internal/session"
)

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

// buildIKEv1MainModeSA builds a minimal IKEv1 header followed by a single
// SA payload with one proposal carrying one TV-encoded transform.
func buildIKEv1MainModeSA() []byte {
	// Transform: Transform#(1) TransformID(1) Reserved(2) then TV attrs.
	transform := []byte{1, 1, 0, 0}
	// attr: AF=1 (TV), type=1 (encryption) -> value 7 (aes-cbc)
	transform = append(transform, u16(0x8001)...)
	transform = append(transform, u16(7)...)
	// attr: type=4 (DH group) -> value 14 (modp2048)
	transform = append(transform, u16(0x8004)...)
	transform = append(transform, u16(14)...)

	transformLen := 4 + len(transform)
	transformHdr := append([]byte{0, 0}, u16(uint16(transformLen))...)
	transformBlock := append(transformHdr, transform...)

	// Proposal: Proposal#(1) ProtocolID(1) SPISize(1) NumTransforms(1)
	fullProposal := []byte{1, 1, 0, 1} // proposal#, protoID, spiSize=0, numTransforms=1
	fullProposal = append(fullProposal, transformBlock...)
	propHdr := append([]byte{0, 0}, u16(uint16(4+len(fullProposal)))...)
	propBlock := append(propHdr, fullProposal...)

	// SA payload body: DOI(4) Situation(4) Proposals
	saBody := make([]byte, 8)
	binary.BigEndian.PutUint32(saBody[0:4], 1) // IPSEC DOI
	saBody = append(saBody, propBlock...)

	// Payload header for SA: NextPayload(1) Reserved(1) Length(2)
	saPayloadLen := 4 + len(saBody)
	saPayload := append([]byte{0, 0}, u16(uint16(saPayloadLen))...)
	saPayload = append(saPayload, saBody...)

	header := make([]byte, 28)
	copy(header[0:8], []byte{1, 2, 3, 4, 5, 6, 7, 8})     // initiator SPI
	// responder SPI left zero
	header[16] = payloadSA // next payload = SA
	header[17] = 0x10      // version 1.0
	header[18] = 2         // identity-protection (main mode)
	header[19] = 0         // flags: not encrypted

	return append(header, saPayload...)
}

func TestParseIKEv1MainModeSA(t *testing.T) {
	reg := field.NewRegistry()
	fields := Register(reg)
	ip := net.ParseIP("10.0.0.1")
	s := session.NewSession(session.TupleID(ip, 500, ip, 500, 0, 0), session.ProtocolUDP, ip, 500, ip, 500, reg, time.Now())

	msg := buildIKEv1MainModeSA()
	require.True(t, Classify(500, 500, msg))

	require.NoError(t, Parse(s, fields, 500, 500, msg))

	version, ok := s.Fields.Get(fields.Version)
	require.True(t, ok)
	assert.Equal(t, []interface{}{"1.0"}, version)

	exchange, ok := s.Fields.Get(fields.ExchangeType)
	require.True(t, ok)
	assert.Equal(t, []interface{}{"identity-protection"}, exchange)

	enc, ok := s.Fields.Get(fields.Encryption)
	require.True(t, ok)
	assert.Equal(t, []interface{}{"aes-cbc"}, enc)

	dh, ok := s.Fields.Get(fields.DHGroup)
	require.True(t, ok)
	assert.Equal(t, []interface{}{"modp2048"}, dh)

	assert.True(t, s.HasProtocol("isakmp"))
}

func TestNATTMarkerIsSkippedOnPort4500(t *testing.T) {
	reg := field.NewRegistry()
	fields := Register(reg)
	ip := net.ParseIP("10.0.0.1")
	s := session.NewSession(session.TupleID(ip, 4500, ip, 4500, 0, 0), session.ProtocolUDP, ip, 4500, ip, 4500, reg, time.Now())

	msg := buildIKEv1MainModeSA()
	withMarker := append([]byte{0, 0, 0, 0}, msg...)

	require.True(t, Classify(4500, 4500, withMarker))
	require.NoError(t, Parse(s, fields, 4500, 4500, withMarker))
	assert.True(t, s.HasProtocol("isakmp"))
}

func TestEncryptedMessageStopsAtHeader(t *testing.T) {
	reg := field.NewRegistry()
	fields := Register(reg)
	ip := net.ParseIP("10.0.0.1")
	s := session.NewSession(session.TupleID(ip, 500, ip, 500, 0, 0), session.ProtocolUDP, ip, 500, ip, 500, reg, time.Now())

	msg := buildIKEv1MainModeSA()
	msg[19] = 0x01 // encryption flag set

	require.NoError(t, Parse(s, fields, 500, 500, msg))
	_, ok := s.Fields.Get(fields.Encryption)
	assert.False(t, ok, "encrypted payload body must not be parsed")
}

func TestClassifyRejectsShortHeader(t *testing.T) {
	assert.False(t, Classify(500, 500, []byte{1, 2, 3}))
}