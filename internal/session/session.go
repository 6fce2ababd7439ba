package session

import (
	"net"
	"time"

	"github.com/arkime-go/capture/internal/field"
)

// firstBytesCap is the number of leading payload bytes recorded per
// direction for pattern classification.
const firstBytesCap = 8

// streamBufCap bounds the per-direction streaming reassembly buffer used
// by parsers that need to see a complete message spanning packet
// boundaries.
const streamBufCap = 8192

// ParseResult is returned by a ParserEntry's callback after each call.
type ParseResult int

const (
	// ParseContinue keeps the parser registered for future data.
	ParseContinue ParseResult = iota
	// ParseUnregister removes the parser and invokes its free callback.
	ParseUnregister
)

// ParserFunc processes data arriving on one direction of a session. dir is
// 0 or 1. Implementations must tolerate short reads, malformed bytes, and
// unaligned access; they must never block.
type ParserFunc func(s *Session, state interface{}, data []byte, dir int) ParseResult

// ParserEntry couples a parser callback with its opaque per-session state
// and an optional cleanup invoked on unregister or session destruction.
type ParserEntry struct {
	Name  string
	Fn    ParserFunc
	State interface{}
	Free  func(state interface{})
}

// streamBuf is the bounded per-direction byte buffer backing the
// streaming-parser helper (buf_add/buf_del/buf_skip).
type streamBuf struct {
	data []byte
}

// Add appends data, returning false if doing so would exceed streamBufCap;
// on overflow the caller is expected to bail out of parsing.
func (b *streamBuf) Add(data []byte) bool {
	if len(b.data)+len(data) > streamBufCap {
		return false
	}
	b.data = append(b.data, data...)
	return true
}

// Del drops a prefix of n bytes, clamped to the buffer's current length.
func (b *streamBuf) Del(n int) {
	if n >= len(b.data) {
		b.data = b.data[:0]
		return
	}
	copy(b.data, b.data[n:])
	b.data = b.data[:len(b.data)-n]
}

// Skip advances past n bytes without exposing them to the caller; it is
// equivalent to Del for this buffer's append-only backing slice.
func (b *streamBuf) Skip(n int) {
	b.Del(n)
}

// Bytes returns the buffer's current contents. Callers must not retain the
// slice across a subsequent Add/Del/Skip call.
func (b *streamBuf) Bytes() []byte {
	return b.data
}

// Session is the per-flow record owned by exactly one packet thread: the
// one whose shard the flow's canonical ID hashes to.
type Session struct {
	ID ID

	// Endpoint order as first observed; direction for later packets is
	// derived by comparing raw src/dst against this recorded order.
	Addr1, Addr2 net.IP
	Port1, Port2 uint16
	VLAN         uint16
	VNI          uint32

	Protocol Protocol

	FirstSeen time.Time
	LastSeen  time.Time

	// Bytes and Packets are indexed by direction (0, 1).
	Bytes   [2]uint64
	Packets [2]uint64

	firstBytes [2][]byte
	streamBufs [2]streamBuf

	parsers       []*ParserEntry
	protocolNames map[string]struct{}

	Fields *field.Store

	StopSaving bool
	StopYara   bool

	// refs counts outstanding holders of this session (in-flight parser
	// callbacks, the writer). A session is only eligible for release once
	// it is both idle past timeout and refs == 0.
	refs int32

	// wheel linkage, managed exclusively by Table.
	wheelSlot int
	wheelPrev *Session
	wheelNext *Session

	// bucket chain linkage, managed exclusively by Table.
	bucketNext *Session
}

// NewSession constructs a session for the given canonical id and first
// direction 0 endpoint order.
func NewSession(id ID, protocol Protocol, addr1 net.IP, port1 uint16, addr2 net.IP, port2 uint16, reg *field.Registry, now time.Time) *Session {
	return &Session{
		ID:            id,
		Addr1:         addr1,
		Port1:         port1,
		Addr2:         addr2,
		Port2:         port2,
		Protocol:      protocol,
		FirstSeen:     now,
		LastSeen:      now,
		protocolNames: make(map[string]struct{}),
		Fields:        field.NewStore(reg),
	}
}

// Direction reports which recorded endpoint a raw src/dst pair matches: 0
// if src matches Addr1/Port1, 1 otherwise.
func (s *Session) Direction(srcIP net.IP, srcPort uint16) int {
	if srcIP.Equal(s.Addr1) && srcPort == s.Port1 {
		return 0
	}
	return 1
}

// RecordFirstBytes stores up to firstBytesCap leading bytes for dir if none
// have been recorded yet, for use by pattern classifiers.
func (s *Session) RecordFirstBytes(dir int, data []byte) {
	if s.firstBytes[dir] != nil {
		return
	}
	n := len(data)
	if n > firstBytesCap {
		n = firstBytesCap
	}
	buf := make([]byte, n)
	copy(buf, data[:n])
	s.firstBytes[dir] = buf
}

// FirstBytes returns the recorded first bytes for dir, or nil if none.
func (s *Session) FirstBytes(dir int) []byte {
	return s.firstBytes[dir]
}

// StreamBuffer returns the streaming reassembly buffer for dir.
func (s *Session) StreamBuffer(dir int) interface {
	Add([]byte) bool
	Del(int)
	Skip(int)
	Bytes() []byte
} {
	return &s.streamBufs[dir]
}

// AttachParser registers a new ParserEntry on the session.
func (s *Session) AttachParser(p *ParserEntry) {
	s.parsers = append(s.parsers, p)
}

// Dispatch hands data to every attached parser for dir, removing and
// freeing any that return ParseUnregister.
func (s *Session) Dispatch(data []byte, dir int) {
	kept := s.parsers[:0]
	for _, p := range s.parsers {
		switch p.Fn(s, p.State, data, dir) {
		case ParseUnregister:
			if p.Free != nil {
				p.Free(p.State)
			}
		default:
			kept = append(kept, p)
		}
	}
	s.parsers = kept
}

// TagProtocol records a named protocol as detected on this session (e.g.
// "dns", "smb").
func (s *Session) TagProtocol(name string) {
	s.protocolNames[name] = struct{}{}
}

// HasProtocol reports whether name has been tagged on this session.
func (s *Session) HasProtocol(name string) bool {
	_, ok := s.protocolNames[name]
	return ok
}

// Protocols returns the set of tagged protocol names.
func (s *Session) Protocols() []string {
	out := make([]string, 0, len(s.protocolNames))
	for name := range s.protocolNames {
		out = append(out, name)
	}
	return out
}

// Ref increments the outstanding-reference count; callers holding a
// session across an async boundary (writer enqueue, deferred parser work)
// must Ref before releasing control and Unref when done.
func (s *Session) Ref() {
	s.refs++
}

// Unref decrements the outstanding-reference count.
func (s *Session) Unref() {
	s.refs--
}

// Idle reports whether the session has no outstanding references, one of
// the two conditions (alongside timeout-wheel expiry) required before a
// session may be released.
func (s *Session) Idle() bool {
	return s.refs <= 0
}

// Touch updates LastSeen and direction-indexed counters for one observed
// packet.
func (s *Session) Touch(now time.Time, dir int, payloadLen int) {
	s.LastSeen = now
	s.Bytes[dir] += uint64(payloadLen)
	s.Packets[dir]++
}