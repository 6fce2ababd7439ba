package classify

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/arkime-go/capture/internal/field"
	"github.com/arkime-go/capture/internal/session"
)

func testSession() *session.Session {
	reg := field.NewRegistry()
	ip := net.ParseIP("10.0.0.1")
	return session.NewSession(session.AddressID(ip, ip), session.ProtocolUDP, ip, 0, ip, 0, reg, time.Now())
}

func TestBytePatternMatchesAtOffset(t *testing.T) {
	r := NewRegistry()
	var got string
	r.RegisterPattern(BytePattern{
		Family:  "smb",
		Offset:  4,
		Pattern: []byte{0xff, 'S', 'M', 'B'},
		Callback: func(s *session.Session, data []byte, dir int) {
			got = "smb1"
		},
	})

	data := append([]byte{0, 0, 0, 0}, []byte{0xff, 'S', 'M', 'B'}...)
	r.ClassifyBytes(testSession(), data, 0)

	assert.Equal(t, "smb1", got)
}

func TestBytePatternNoMatchOnShortData(t *testing.T) {
	r := NewRegistry()
	fired := false
	r.RegisterPattern(BytePattern{
		Offset:  4,
		Pattern: []byte{0xfe, 'S', 'M', 'B'},
		Callback: func(s *session.Session, data []byte, dir int) {
			fired = true
		},
	})

	r.ClassifyBytes(testSession(), []byte{0, 0, 0, 0, 0xfe}, 0)
	assert.False(t, fired)
}

func TestPortClassifierMatchesRegisteredPort(t *testing.T) {
	r := NewRegistry()
	fired := false
	r.RegisterPort(PortEntry{
		Family:    "dns",
		Port:      53,
		Transport: TransportUDP,
		Callback: func(s *session.Session, data []byte, dir int) {
			fired = true
		},
	})

	r.ClassifyPort(testSession(), nil, 0, TransportUDP, 53)
	assert.True(t, fired)

	fired = false
	r.ClassifyPort(testSession(), nil, 0, TransportTCP, 53)
	assert.False(t, fired, "UDP-registered classifier must not fire for TCP")
}

func TestSubParserRegistryLookup(t *testing.T) {
	r := NewSubParserRegistry()
	r.Register("dcerpc", "e3514235-4b06-11d1-ab04-00c04fc2dcd2", "drsuapi")

	name, ok := r.Lookup("dcerpc", "e3514235-4b06-11d1-ab04-00c04fc2dcd2")
	assert.True(t, ok)
	assert.Equal(t, "drsuapi", name)

	_, ok = r.Lookup("dcerpc", "unknown-uuid")
	assert.False(t, ok)
}