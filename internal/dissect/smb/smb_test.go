package smb

import (
	"encoding/binary"
	"net"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkime-go/capture/internal/field"
	"github.com/arkime-go/capture/internal/session"
)

func utf16leBytes(s string) []byte {
	u16 := utf16.Encode([]rune(s))
	b := make([]byte, len(u16)*2)
	for i, c := range u16 {
		binary.LittleEndian.PutUint16(b[i*2:], c)
	}
	return b
}

func buildSMB2TreeConnect(path string) []byte {
	header := make([]byte, 64)
	copy(header[0:4], []byte{0xFE, 'S', 'M', 'B'})
	binary.LittleEndian.PutUint16(header[12:14], 3) // TREE_CONNECT
	// Flags left zero: request, not server-to-redir.

	pathBytes := utf16leBytes(path)
	pathOffset := 64 + 8
	body := make([]byte, 8+len(pathBytes))
	binary.LittleEndian.PutUint16(body[4:6], uint16(pathOffset))
	binary.LittleEndian.PutUint16(body[6:8], uint16(len(pathBytes)))
	copy(body[8:], pathBytes)

	return append(header, body...)
}

func TestSMB2TreeConnectScenario3(t *testing.T) {
	reg := field.NewRegistry()
	fields := Register(reg)
	ip := net.ParseIP("10.0.0.1")
	s := session.NewSession(session.TupleID(ip, 445, ip, 5000, 0, 0), session.ProtocolTCP, ip, 445, ip, 5000, reg, time.Now())

	msg := buildSMB2TreeConnect(`\\server\share$`)

	err := ParseSMB2(s, fields, msg)
	require.NoError(t, err)

	share, ok := s.Fields.Get(fields.Share)
	require.True(t, ok)
	assert.Equal(t, []interface{}{`\\server\share$`}, share)
	assert.True(t, s.HasProtocol("smb"))
}

func TestParseSMB2RejectsWrongMagic(t *testing.T) {
	reg := field.NewRegistry()
	fields := Register(reg)
	ip := net.ParseIP("10.0.0.1")
	s := session.NewSession(session.ID{}, session.ProtocolTCP, ip, 445, ip, 5000, reg, time.Now())

	msg := make([]byte, 64)
	copy(msg[0:4], []byte{0x00, 'S', 'M', 'B'})

	assert.ErrorIs(t, ParseSMB2(s, fields, msg), ErrCorrupt)
}

func TestNetBIOSLengthParsesHeader(t *testing.T) {
	n, ok := NetBIOSLength([]byte{0x00, 0x00, 0x01, 0x00})
	assert.True(t, ok)
	assert.Equal(t, 256, n)
}