package dhcp

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

func buildV4(xid uint32, mac net.HardwareAddr, msgType byte) []byte {
	buf := make([]byte, 240)
	buf[0] = 1 // BOOTREQUEST
	buf[1] = 1 // htype ethernet
	buf[2] = byte(len(mac))
	binary.BigEndian.PutUint32(buf[4:8], xid)
	copy(buf[28:28+len(mac)], mac)
	binary.BigEndian.PutUint32(buf[236:240], magicCookie)

	buf = append(buf, 53, 1, msgType) // DHCP message type option
	buf = append(buf, 0xFF)           // End
	return buf
}

func TestDHCPv4ClientMACKeyingScenario6(t *testing.T) {
	reg := field.NewRegistry()
	fields := Register(reg)

	mac, err := net.ParseMAC("00:11:22:33:44:55")
	require.NoError(t, err)

	discover := buildV4(0xAAAA, mac, 1)
	offer := buildV4(0xBBBB, mac, 2)

	gotMAC1, err := ClientMAC(discover)
	require.NoError(t, err)
	gotMAC2, err := ClientMAC(offer)
	require.NoError(t, err)

	id1 := session.MACID(gotMAC1)
	id2 := session.MACID(gotMAC2)
	assert.Equal(t, id1, id2, "both packets must key to the same session")

	ip := net.ParseIP("0.0.0.0")
	s := session.NewSession(id1, session.ProtocolDHCP, ip, 0, ip, 0, reg, time.Now())

	require.NoError(t, ParseV4(s, fields, discover))
	require.NoError(t, ParseV4(s, fields, offer))

	typ, _ := s.Fields.Get(fields.Type)
	assert.ElementsMatch(t, []interface{}{"DISCOVER", "OFFER"}, typ)
	assert.Equal(t, 2, s.Fields.Len(fields.ID))
}

func TestDHCPv4RejectsBadMagicCookie(t *testing.T) {
	reg := field.NewRegistry()
	fields := Register(reg)
	s := session.NewSession(session.ID{}, session.ProtocolDHCP, net.IPv4zero, 0, net.IPv4zero, 0, reg, time.Now())

	buf := make([]byte, 240)
	err := ParseV4(s, fields, buf)
	assert.ErrorIs(t, err, ErrCorrupt)
}