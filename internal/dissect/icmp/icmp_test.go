package icmp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkime-go/capture/internal/field"
	"github.com/arkime-go/capture/internal/session"
)

func TestParseEchoRequest(t *testing.T) {
	reg := field.NewRegistry()
	fields := Register(reg)
	ip := net.ParseIP("10.0.0.1")
	s := session.NewSession(session.AddressID(ip, ip), session.ProtocolICMP, ip, 0, ip, 0, reg, time.Now())

	err := Parse(s, fields, []byte{8, 0, 0, 0})
	require.NoError(t, err)

	typ, _ := s.Fields.Get(fields.Type)
	assert.Equal(t, []interface{}{"8"}, typ)
}

func TestParseRejectsShortPayload(t *testing.T) {
	reg := field.NewRegistry()
	fields := Register(reg)
	ip := net.ParseIP("10.0.0.1")
	s := session.NewSession(session.AddressID(ip, ip), session.ProtocolICMP, ip, 0, ip, 0, reg, time.Now())

	assert.ErrorIs(t, Parse(s, fields, []byte{8}), ErrCorrupt)
}