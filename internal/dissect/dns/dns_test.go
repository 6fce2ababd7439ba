package dns

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

func newTestSession(reg *field.Registry) *session.Session {
	ip := net.ParseIP("10.0.0.1")
	return session.NewSession(session.AddressID(ip, ip), session.ProtocolUDP, ip, 53, ip, 12345, reg, time.Now())
}

// buildQuery constructs a minimal standard query for name, type A, class IN.
func buildQuery(id uint16, name string) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:2], id)
	// flags = 0 (query, opcode QUERY)
	binary.BigEndian.PutUint16(buf[4:6], 1) // qdcount

	for _, label := range splitLabels(name) {
		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
	}
	buf = append(buf, 0) // root label
	qtype := make([]byte, 2)
	binary.BigEndian.PutUint16(qtype, 1) // A
	qclass := make([]byte, 2)
	binary.BigEndian.PutUint16(qclass, 1) // IN
	buf = append(buf, qtype...)
	buf = append(buf, qclass...)
	return buf
}

func splitLabels(name string) []string {
	var labels []string
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			labels = append(labels, name[start:i])
			start = i + 1
		}
	}
	return labels
}

func TestParseStandardQueryScenario1(t *testing.T) {
	reg := field.NewRegistry()
	fields := Register(reg)
	s := newTestSession(reg)

	msg := buildQuery(0x1234, "www.example.com")

	err := Parse(s, fields, msg)
	require.NoError(t, err)

	host, ok := s.Fields.Get(fields.QueryHost)
	require.True(t, ok)
	assert.Equal(t, "www.example.com", host)

	opcode, ok := s.Fields.Get(fields.Opcode)
	require.True(t, ok)
	assert.Equal(t, "QUERY", opcode)

	_, hasStatus := s.Fields.Get(fields.Status)
	assert.False(t, hasStatus, "a query with no response bit must not set dns.status")

	qt, _ := s.Fields.Get(fields.QueryType)
	assert.Contains(t, qt, "A")

	qc, _ := s.Fields.Get(fields.QueryClass)
	assert.Contains(t, qc, "IN")
}

func TestNameDecompressionRejectsLongPointerChains(t *testing.T) {
	// Build 6 two-byte pointers each pointing to the previous one, so
	// resolving the last one requires 6 indirections -- over the cap.
	msg := make([]byte, 64)
	// offset 0: root label (terminates innermost pointer)
	msg[0] = 0
	prevOffset := 0
	offset := 2
	for i := 0; i < 6; i++ {
		binary.BigEndian.PutUint16(msg[offset:offset+2], uint16(0xC000|prevOffset))
		prevOffset = offset
		offset += 2
	}

	_, _, err := decodeName(msg, prevOffset)
	assert.Error(t, err)
}

func TestNameDecompressionEscapesNonPrintable(t *testing.T) {
	msg := []byte{3, 'a', 0x01, 'c', 0}
	name, _, err := decodeName(msg, 0)
	require.NoError(t, err)
	assert.Contains(t, name, "^")
}