package dcerpc

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkime-go/capture/internal/classify"
	"github.com/arkime-go/capture/internal/field"
	"github.com/arkime-go/capture/internal/session"
)

func buildHeader(fragLen uint16, ptype PacketType) []byte {
	h := make([]byte, 16)
	h[2] = byte(ptype)
	h[4] = 1 // little-endian data rep
	binary.LittleEndian.PutUint16(h[8:10], fragLen)
	binary.LittleEndian.PutUint32(h[12:16], 7)
	return h
}

func TestParseHeaderAcceptsInBoundFragLen(t *testing.T) {
	h := buildHeader(24, PTypeBind)
	hdr, err := ParseHeader(h)
	require.NoError(t, err)
	assert.Equal(t, uint16(24), hdr.FragLen)
	assert.True(t, hdr.LittleEndian)
	assert.Equal(t, uint32(7), hdr.CallID)
}

func TestParseHeaderRejectsOutOfBoundFragLen(t *testing.T) {
	_, err := ParseHeader(buildHeader(9000, PTypeBind))
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = ParseHeader(buildHeader(10, PTypeBind))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestParseBindResolvesKnownInterface(t *testing.T) {
	reg := field.NewRegistry()
	fields := Register(reg)
	subs := classify.NewSubParserRegistry()
	RegisterWellKnownInterfaces(subs)

	ip := net.ParseIP("10.0.0.1")
	s := session.NewSession(session.ID{}, session.ProtocolTCP, ip, 445, ip, 5000, reg, time.Now())

	hdr, err := ParseHeader(buildHeader(40, PTypeBind))
	require.NoError(t, err)

	body := make([]byte, 12+20)
	// drsuapi UUID, little-endian fields, after the 4-byte context item
	// prefix (ctx_id, n_trans, pad)
	binary.LittleEndian.PutUint32(body[16:20], 0xe3514235)
	binary.LittleEndian.PutUint16(body[20:22], 0x4b06)
	binary.LittleEndian.PutUint16(body[22:24], 0x11d1)
	copy(body[24:32], []byte{0xab, 0x04, 0x00, 0xc0, 0x4f, 0xc2, 0xdc, 0xd2})

	err = ParseBind(s, fields, subs, hdr, body)
	require.NoError(t, err)

	op, ok := s.Fields.Get(fields.Operation)
	require.True(t, ok)
	assert.Equal(t, []interface{}{"drsuapi"}, op)
	assert.True(t, s.HasProtocol("drsuapi"))
}