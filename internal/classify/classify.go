// Package classify implements the protocol-parser registry: byte-pattern
// and port-based classifiers that decide which dissector attaches to a
// session's first observed bytes, plus a sub-parser registry for
// protocols that are recognized only inside another protocol's payload
// (DCE/RPC interface UUIDs, for instance).
package classify

import (
	"github.com/arkime-go/capture/internal/session"
)

// Transport selects which port table a PortClassifier is consulted from.
type Transport int

const (
	TransportTCP Transport = iota
	TransportUDP
	// TransportTCPDst matches only the TCP destination port, for
	// classifiers that should not fire on the ephemeral client side.
	TransportTCPDst
)

// Callback is invoked once a classifier matches; it is responsible for
// attaching a ParserEntry to the session if it wants to see further data.
type Callback func(s *session.Session, data []byte, dir int)

// BytePattern is a registered (offset, pattern, callback) tuple invoked
// when a session's recorded first bytes for a direction match at Offset.
type BytePattern struct {
	Family   string
	Offset   int
	Pattern  []byte
	Callback Callback
}

func (b BytePattern) matches(data []byte) bool {
	if b.Offset+len(b.Pattern) > len(data) {
		return false
	}
	for i, want := range b.Pattern {
		if data[b.Offset+i] != want {
			return false
		}
	}
	return true
}

// PortEntry is a registered (port, transport, callback) tuple.
type PortEntry struct {
	Family    string
	Port      uint16
	Transport Transport
	Callback  Callback
}

// Registry holds both classifier kinds. Registration happens once at
// startup; after that the tables are read-only and require no locking
// even though many packet threads consult them concurrently.
type Registry struct {
	// byFirstByte indexes byte patterns by their first pattern byte, a
	// short-prefix table so a miss on the most common byte doesn't require
	// scanning every registered pattern.
	byFirstByte map[byte][]BytePattern
	anyOffset   []BytePattern // patterns that cannot be indexed by data[0] (nonzero Offset or empty Pattern); scanned on every call

	portTCP    map[uint16][]PortEntry
	portUDP    map[uint16][]PortEntry
	portTCPDst map[uint16][]PortEntry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byFirstByte: make(map[byte][]BytePattern),
		portTCP:     make(map[uint16][]PortEntry),
		portUDP:     make(map[uint16][]PortEntry),
		portTCPDst:  make(map[uint16][]PortEntry),
	}
}

// RegisterPattern adds a byte-pattern classifier.
func (r *Registry) RegisterPattern(p BytePattern) {
	if len(p.Pattern) == 0 || p.Offset != 0 {
		r.anyOffset = append(r.anyOffset, p)
		return
	}
	key := p.Pattern[0]
	r.byFirstByte[key] = append(r.byFirstByte[key], p)
}

// RegisterPort adds a port classifier.
func (r *Registry) RegisterPort(p PortEntry) {
	switch p.Transport {
	case TransportUDP:
		r.portUDP[p.Port] = append(r.portUDP[p.Port], p)
	case TransportTCPDst:
		r.portTCPDst[p.Port] = append(r.portTCPDst[p.Port], p)
	default:
		r.portTCP[p.Port] = append(r.portTCP[p.Port], p)
	}
}

// ClassifyBytes runs the registered pattern classifiers against the
// recorded first bytes of s for dir, invoking every match's callback. The
// session records first bytes itself via RecordFirstBytes before this is
// called; ClassifyBytes is idempotent only in the sense that a classifier
// should itself guard against re-attaching if it already ran (first-bytes
// classification only fires on the earliest payload per direction).
func (r *Registry) ClassifyBytes(s *session.Session, data []byte, dir int) {
	if len(data) == 0 {
		return
	}
	for _, p := range r.byFirstByte[data[0]] {
		if p.matches(data) {
			p.Callback(s, data, dir)
		}
	}
	for _, p := range r.anyOffset {
		if p.matches(data) {
			p.Callback(s, data, dir)
		}
	}
}

// ClassifyPort runs the registered port classifiers for the given
// transport and port.
func (r *Registry) ClassifyPort(s *session.Session, data []byte, dir int, transport Transport, port uint16) {
	var table map[uint16][]PortEntry
	switch transport {
	case TransportUDP:
		table = r.portUDP
	case TransportTCPDst:
		table = r.portTCPDst
	default:
		table = r.portTCP
	}
	for _, p := range table[port] {
		p.Callback(s, data, dir)
	}
}

// SubParserRegistry maps a family name plus a sub-key (e.g. a DCE/RPC
// interface UUID string) to a human-readable protocol name, letting
// dissectors turn wire identifiers into protocol tags without hardcoding
// the mapping inline.
type SubParserRegistry struct {
	entries map[string]map[string]string
}

// NewSubParserRegistry returns an empty SubParserRegistry.
func NewSubParserRegistry() *SubParserRegistry {
	return &SubParserRegistry{entries: make(map[string]map[string]string)}
}

// Register associates family+key with name.
func (r *SubParserRegistry) Register(family, key, name string) {
	m, ok := r.entries[family]
	if !ok {
		m = make(map[string]string)
		r.entries[family] = m
	}
	m[key] = name
}

// Lookup resolves family+key to its registered name.
func (r *SubParserRegistry) Lookup(family, key string) (string, bool) {
	m, ok := r.entries[family]
	if !ok {
		return "", false
	}
	name, ok := m[key]
	return name, ok
}