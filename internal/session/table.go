package session

import (
	"encoding/binary"
	"time"

	"github.com/arkime-go/capture/internal/field"
	"github.com/arkime-go/capture/internal/freelater"
)

// primeLadder mirrors the fixed set of bucket-count choices the capture
// engine's session table picks from; NextPrime returns the smallest entry
// strictly greater than a configured target.
var primeLadder = []int{1009, 10007, 49999, 99991, 199799, 400009, 500009, 732209, 1299827, 2999999, 3999971, 4999999}

// NextPrime returns the smallest prime-ladder entry greater than v, or the
// ladder's largest entry if v exceeds it.
func NextPrime(v int) int {
	for _, p := range primeLadder {
		if p > v {
			return p
		}
	}
	return primeLadder[len(primeLadder)-1]
}

// Timeouts maps a Protocol to its idle-expiry duration.
type Timeouts struct {
	TCP   time.Duration
	UDP   time.Duration
	ICMP  time.Duration
	ESP   time.Duration
	DHCP  time.Duration
	Other time.Duration
}

// DefaultTimeouts matches the capture engine's documented defaults: long
// idle windows for stateful flows, short ones for connectionless traffic.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		TCP:   8 * time.Minute,
		UDP:   60 * time.Second,
		ICMP:  10 * time.Second,
		ESP:   60 * time.Second,
		DHCP:  30 * time.Second,
		Other: 60 * time.Second,
	}
}

func (t Timeouts) forProtocol(p Protocol) time.Duration {
	switch p {
	case ProtocolTCP:
		return t.TCP
	case ProtocolUDP:
		return t.UDP
	case ProtocolICMP:
		return t.ICMP
	case ProtocolESP:
		return t.ESP
	case ProtocolDHCP:
		return t.DHCP
	default:
		return t.Other
	}
}

// wheelSize is the number of slots in the timeout ring; a session's slot
// is last-seen-in-seconds mod wheelSize, or, once a tick has found it not
// yet idle, the second it becomes due mod wheelSize.
const wheelSize = 1024

// Table is one packet thread's shard of the session table: a hash-chained
// bucket array plus a timeout wheel for expiry, both owned exclusively by
// the packet thread that calls Lookup/Tick. No locking is required because
// a flow always hashes to the same shard and thus the same owning thread.
type Table struct {
	buckets  []*Session
	timeouts Timeouts
	reg      *field.Registry
	free     *freelater.Pool

	wheel    [wheelSize][]*Session // bucket index -> sessions whose wheelSlot matches
	wheelPos int64                 // last tick's "now" in whole seconds

	OnExpire func(*Session)

	count int
}

// NewTable creates a shard sized to the next prime above targetSlots.
func NewTable(targetSlots int, timeouts Timeouts, reg *field.Registry, free *freelater.Pool) *Table {
	n := NextPrime(targetSlots)
	return &Table{
		buckets:  make([]*Session, n),
		timeouts: timeouts,
		reg:      reg,
		free:     free,
	}
}

func hashID(id ID) uint64 {
	return binary.BigEndian.Uint64(id[0:8]) ^ binary.BigEndian.Uint64(id[8:16])
}

func (t *Table) bucketIndex(id ID) int {
	return int(hashID(id) % uint64(len(t.buckets)))
}

// Lookup finds an existing session for id, or creates one using newFn if
// absent. newFn is only invoked on a miss. Returns the session and whether
// it was newly created.
func (t *Table) Lookup(id ID, now time.Time, newFn func() *Session) (*Session, bool) {
	idx := t.bucketIndex(id)
	for s := t.buckets[idx]; s != nil; s = s.bucketNext {
		if s.ID == id {
			t.reslot(s, now)
			return s, false
		}
	}

	s := newFn()
	s.ID = id
	s.bucketNext = t.buckets[idx]
	t.buckets[idx] = s
	t.insertWheel(s, now)
	t.count++
	return s, true
}

func (t *Table) wheelSlotFor(now time.Time) int {
	return int(now.Unix() % wheelSize)
}

func (t *Table) insertWheel(s *Session, now time.Time) {
	slot := t.wheelSlotFor(now)
	s.wheelSlot = slot
	t.wheel[slot] = append(t.wheel[slot], s)
}

// reslot moves s to the wheel slot matching its new LastSeen; called on
// every successful lookup so expiry tracks the most recent activity.
func (t *Table) reslot(s *Session, now time.Time) {
	old := s.wheelSlot
	list := t.wheel[old]
	for i, cand := range list {
		if cand == s {
			list[i] = list[len(list)-1]
			t.wheel[old] = list[:len(list)-1]
			break
		}
	}
	t.insertWheel(s, now)
}

// Tick advances the wheel to now and expires every session whose idle
// time exceeds its protocol's configured timeout. Expired sessions whose
// refs haven't reached zero are handed to the free-later pool instead of
// being removed immediately, absorbing any in-flight parser/writer
// callback that still holds a pointer.
func (t *Table) Tick(now time.Time) {
	nowSec := now.Unix()
	if t.wheelPos == 0 {
		t.wheelPos = nowSec - wheelSize + 1
		if t.wheelPos < 0 {
			t.wheelPos = 0
		}
	}

	for sec := t.wheelPos; sec <= nowSec; sec++ {
		slot := int(sec % wheelSize)
		remaining := t.wheel[slot][:0]
		for _, s := range t.wheel[slot] {
			timeout := t.timeouts.forProtocol(s.Protocol)
			if now.Sub(s.LastSeen) < timeout {
				// Not idle yet: move it to the slot of the second it becomes due.
				due := s.LastSeen.Add(timeout).Unix()
				if due <= nowSec {
					due = nowSec + 1
				}
				if next := int(due % wheelSize); next != slot {
					s.wheelSlot = next
					t.wheel[next] = append(t.wheel[next], s)
					continue
				}
				remaining = append(remaining, s)
				continue
			}
			t.expire(s)
		}
		t.wheel[slot] = remaining
	}
	t.wheelPos = nowSec + 1
}

func (t *Table) expire(s *Session) {
	t.removeFromBucket(s)
	t.count--

	if s.Idle() {
		t.release(s)
		return
	}
	// Outstanding references: defer release until the grace period drains.
	t.free.Retire(s)
}

func (t *Table) removeFromBucket(s *Session) {
	idx := t.bucketIndex(s.ID)
	if t.buckets[idx] == s {
		t.buckets[idx] = s.bucketNext
		return
	}
	for prev := t.buckets[idx]; prev != nil; prev = prev.bucketNext {
		if prev.bucketNext == s {
			prev.bucketNext = s.bucketNext
			return
		}
	}
}

func (t *Table) release(s *Session) {
	for _, p := range s.parsers {
		if p.Free != nil {
			p.Free(p.State)
		}
	}
	if t.OnExpire != nil {
		t.OnExpire(s)
	}
}

// Count returns the number of live (non-retired) sessions in this shard.
func (t *Table) Count() int {
	return t.count
}

// Quiesce forces every remaining session through expire(), used during
// shutdown after the reader has stopped and no more packets will arrive
// for this shard.
func (t *Table) Quiesce(now time.Time) {
	for idx := range t.buckets {
		for s := t.buckets[idx]; s != nil; {
			next := s.bucketNext
			t.expire(s)
			s = next
		}
	}
}