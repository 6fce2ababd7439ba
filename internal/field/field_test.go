package field

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleContainerKeepsLastValue(t *testing.T) {
	reg := NewRegistry()
	pos := reg.Define("proto", KindString, ContainerSingle, false)

	s := NewStore(reg)
	s.AddString(pos, "tcp")
	s.AddString(pos, "udp")

	v, ok := s.Get(pos)
	require.True(t, ok)
	assert.Equal(t, "udp", v)
}

func TestUniqueArrayDropsDuplicates(t *testing.T) {
	reg := NewRegistry()
	pos := reg.Define("dns.qt", KindString, ContainerUniqueArray, false)

	s := NewStore(reg)
	s.AddString(pos, "A")
	s.AddString(pos, "AAAA")
	s.AddString(pos, "A")

	assert.Equal(t, 2, s.Len(pos))
}

func TestArrayKeepsDuplicates(t *testing.T) {
	reg := NewRegistry()
	pos := reg.Define("dhcp.type", KindString, ContainerArray, false)

	s := NewStore(reg)
	s.AddString(pos, "DISCOVER")
	s.AddString(pos, "OFFER")

	assert.Equal(t, 2, s.Len(pos))
}

func TestForceUTF8DropsInvalidBytes(t *testing.T) {
	reg := NewRegistry()
	pos := reg.Define("smb.share", KindString, ContainerSingle, true)

	s := NewStore(reg)
	s.AddString(pos, string([]byte{0xff, 0xfe}))

	_, ok := s.Get(pos)
	assert.False(t, ok)
}

func TestIPv4CanonicalizedTo16Bytes(t *testing.T) {
	reg := NewRegistry()
	pos := reg.Define("ip", KindIP, ContainerUniqueArray, false)

	s := NewStore(reg)
	s.AddIP4(pos, net.ParseIP("10.0.0.1"))
	s.AddIP6(pos, net.ParseIP("::ffff:10.0.0.1"))

	// both forms of the same v4 address canonicalize identically and
	// therefore de-duplicate in a unique-array container.
	assert.Equal(t, 1, s.Len(pos))
}

type fakeObject struct {
	key string
}

func (f fakeObject) Equal(other ObjectValue) bool {
	o, ok := other.(fakeObject)
	return ok && o.key == f.key
}

func (f fakeObject) Hash() uint64 {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(f.key); i++ {
		h ^= uint64(f.key[i])
		h *= 1099511628211
	}
	return h
}

func (f fakeObject) JSON() interface{} {
	return map[string]string{"key": f.key}
}

func TestObjectFieldDeduplicatesByHash(t *testing.T) {
	reg := NewRegistry()
	pos := reg.Define("dns.answers", KindObject, ContainerSet, false)

	s := NewStore(reg)
	s.AddObject(pos, fakeObject{key: "a"})
	s.AddObject(pos, fakeObject{key: "a"})
	s.AddObject(pos, fakeObject{key: "b"})

	assert.Equal(t, 2, s.Len(pos))
}