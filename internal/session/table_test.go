package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkime-go/capture/internal/field"
	"github.com/arkime-go/capture/internal/freelater"
)

func newTestTable() (*Table, *field.Registry) {
	reg := field.NewRegistry()
	free := freelater.New(nil)
	tbl := NewTable(16, DefaultTimeouts(), reg, free)
	return tbl, reg
}

func TestCanonicalizationSwappedTupleSameID(t *testing.T) {
	ipA := net.ParseIP("10.0.0.1")
	ipB := net.ParseIP("10.0.0.2")

	id1 := TupleID(ipA, 4000, ipB, 80, 0, 0)
	id2 := TupleID(ipB, 80, ipA, 4000, 0, 0)

	assert.Equal(t, id1, id2)
}

func TestLookupCreatesExactlyOneSessionPerID(t *testing.T) {
	tbl, reg := newTestTable()
	now := time.Now()

	ipA := net.ParseIP("10.0.0.1")
	ipB := net.ParseIP("10.0.0.2")
	id := TupleID(ipA, 4000, ipB, 80, 0, 0)

	newCount := 0
	newFn := func() *Session {
		newCount++
		return NewSession(id, ProtocolTCP, ipA, 4000, ipB, 80, reg, now)
	}

	s1, created1 := tbl.Lookup(id, now, newFn)
	s2, created2 := tbl.Lookup(id, now, newFn)

	assert.True(t, created1)
	assert.False(t, created2)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, newCount)
	assert.Equal(t, 1, tbl.Count())
}

func TestTickExpiresIdleSession(t *testing.T) {
	tbl, reg := newTestTable()
	tbl.timeouts = Timeouts{UDP: time.Second, TCP: time.Second, ICMP: time.Second, ESP: time.Second, DHCP: time.Second, Other: time.Second}

	start := time.Now()
	ipA := net.ParseIP("10.0.0.1")
	ipB := net.ParseIP("10.0.0.2")
	id := AddressID(ipA, ipB)

	var expired *Session
	tbl.OnExpire = func(s *Session) { expired = s }

	s, _ := tbl.Lookup(id, start, func() *Session {
		return NewSession(id, ProtocolICMP, ipA, 0, ipB, 0, reg, start)
	})
	require.NotNil(t, s)

	tbl.Tick(start.Add(5 * time.Second))

	require.NotNil(t, expired)
	assert.Equal(t, 0, tbl.Count())
}

func TestQuiesceDefersSessionsWithOutstandingRefs(t *testing.T) {
	tbl, reg := newTestTable()
	now := time.Now()

	ipA := net.ParseIP("10.0.0.1")
	ipB := net.ParseIP("10.0.0.2")
	id := AddressID(ipA, ipB)

	s, _ := tbl.Lookup(id, now, func() *Session {
		return NewSession(id, ProtocolICMP, ipA, 0, ipB, 0, reg, now)
	})
	s.Ref()

	released := false
	tbl.OnExpire = func(*Session) { released = true }

	tbl.Quiesce(now)

	assert.False(t, released, "session with outstanding ref must not be released immediately")
	assert.Equal(t, 1, tbl.free.Pending())
}

func TestNextPrimePicksSmallestAboveTarget(t *testing.T) {
	assert.Equal(t, 10007, NextPrime(9999))
	assert.Equal(t, 1009, NextPrime(0))
}