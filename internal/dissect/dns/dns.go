// Package dns dissects DNS messages carried over UDP/TCP port 53: header,
// question, and answer/authority/additional resource records, with the
// pointer-chain-capped name decompression the wire format requires.
package dns

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"

	"github.com/arkime-go/capture/internal/field"
	"github.com/arkime-go/capture/internal/session"
)

// maxPointerChain caps name-decompression indirections to defeat crafted
// pointer loops; exceeding it is treated as corrupt.
const maxPointerChain = 5

// Fields are the field-store position ids this dissector writes to. They
// are resolved once via Register and then reused for every message.
type Fields struct {
	QueryHost      int
	Opcode         int
	Status         int
	QueryType      int
	QueryClass     int
	Host           int
	HostNameserver int
	HostMailserver int
	Puny           int
	Answers        int // object field, DNSOutputAnswers-shaped
}

// Register declares every DNS field on reg and returns their position ids.
func Register(reg *field.Registry) Fields {
	return Fields{
		QueryHost:      reg.Define("dns.queryHost", field.KindString, field.ContainerSingle, true),
		Opcode:         reg.Define("dns.opcode", field.KindString, field.ContainerSingle, false),
		Status:         reg.Define("dns.status", field.KindString, field.ContainerSingle, false),
		QueryType:      reg.Define("dns.qt", field.KindString, field.ContainerUniqueArray, false),
		QueryClass:     reg.Define("dns.qc", field.KindString, field.ContainerUniqueArray, false),
		Host:           reg.Define("dns.host", field.KindIP, field.ContainerUniqueArray, false),
		HostNameserver: reg.Define("dns.hostNameserver", field.KindIP, field.ContainerUniqueArray, false),
		HostMailserver: reg.Define("dns.hostMailserver", field.KindIP, field.ContainerUniqueArray, false),
		Puny:           reg.Define("dns.puny", field.KindString, field.ContainerUniqueArray, false),
		Answers:        reg.Define("dns.answers", field.KindObject, field.ContainerSet, false),
	}
}

var opcodes = []string{"QUERY", "IQUERY", "STATUS", "3", "NOTIFY", "UPDATE", "DSO Message", "7", "8", "9", "10", "11", "12", "13", "14", "15"}

var rcodes = []string{"NOERROR", "FORMERR", "SERVFAIL", "NXDOMAIN", "NOTIMPL", "REFUSED", "YXDOMAIN", "YXRRSET", "NXRRSET", "NOTAUTH", "NOTZONE"}

var qtypeNames = map[uint16]string{
	1: "A", 2: "NS", 5: "CNAME", 6: "SOA", 12: "PTR", 15: "MX", 16: "TXT",
	28: "AAAA", 33: "SRV", 65: "HTTPS", 257: "CAA",
}

var qclassNames = map[uint16]string{
	1: "IN", 2: "CS", 3: "CH", 4: "HS", 254: "NONE", 255: "ANY",
}

func opcodeName(id uint8) string {
	if int(id) < len(opcodes) {
		return opcodes[id]
	}
	return fmt.Sprintf("%d", id)
}

func rcodeName(id uint8) string {
	if int(id) < len(rcodes) {
		return rcodes[id]
	}
	return fmt.Sprintf("%d", id)
}

func typeName(id uint16) string {
	if n, ok := qtypeNames[id]; ok {
		return n
	}
	return fmt.Sprintf("%d", id)
}

func className(id uint16) string {
	if n, ok := qclassNames[id]; ok {
		return n
	}
	if id == 65280 {
		return "UNKNOWN"
	}
	return fmt.Sprintf("%d", id)
}

// ErrCorrupt is returned for any structurally invalid message; callers
// drop the packet per the fast-path error policy.
type ErrCorrupt struct{ reason string }

func (e ErrCorrupt) Error() string { return "dns: corrupt message: " + e.reason }

func corrupt(reason string) error { return ErrCorrupt{reason} }

// decodeName reads a (possibly compressed) name starting at off within
// full, returning the escaped presentation-format string and the offset
// immediately following the name in the buffer the caller was reading
// from (not following any pointer jump).
func decodeName(full []byte, off int) (string, int, error) {
	var b strings.Builder
	pos := off
	jumps := 0
	endPos := -1 // offset to resume non-pointer reading from

	for {
		if pos >= len(full) {
			return "", 0, corrupt("name runs past end of message")
		}
		lenByte := full[pos]
		if lenByte == 0 {
			pos++
			if endPos == -1 {
				endPos = pos
			}
			break
		}
		if lenByte&0xC0 == 0xC0 {
			if pos+1 >= len(full) {
				return "", 0, corrupt("truncated compression pointer")
			}
			if jumps >= maxPointerChain {
				return "", 0, corrupt("pointer chain too long")
			}
			jumps++
			if endPos == -1 {
				endPos = pos + 2
			}
			target := int(binary.BigEndian.Uint16(full[pos:pos+2]) & 0x3FFF)
			pos = target
			continue
		}
		labelLen := int(lenByte)
		pos++
		if pos+labelLen > len(full) {
			return "", 0, corrupt("label runs past end of message")
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		for i := 0; i < labelLen; i++ {
			c := full[pos+i]
			if c < 0x20 || c >= 0x7f {
				b.WriteByte('M')
				b.WriteByte('-')
				c &^= 0x80
			}
			if c < 0x20 || c == 0x7f {
				b.WriteByte('^')
				c ^= 0x40
			}
			b.WriteByte(c)
		}
		pos += labelLen
	}
	if endPos == -1 {
		endPos = pos
	}
	return b.String(), endPos, nil
}

// Answer is the dedupable object-field value attached to a session for
// each parsed resource record.
type Answer struct {
	Name   string
	Type   string
	Class  string
	TTL    uint32
	PortID uint16 // message id, part of the dedup key
	Opcode string
	Data   string // presentation-format rdata (IP string, CNAME target, etc.)
}

func (a Answer) Equal(other field.ObjectValue) bool {
	o, ok := other.(Answer)
	return ok && o.Name == a.Name && o.Opcode == a.Opcode && o.PortID == a.PortID && o.Type == a.Type && o.Class == a.Class
}

func (a Answer) Hash() uint64 {
	var h uint64 = 1469598103934665603
	for _, s := range []string{a.Name, a.Opcode, a.Type, a.Class} {
		for i := 0; i < len(s); i++ {
			h ^= uint64(s[i])
			h *= 1099511628211
		}
	}
	h ^= uint64(a.PortID)
	h *= 1099511628211
	return h
}

func (a Answer) JSON() interface{} {
	return map[string]interface{}{
		"name":  a.Name,
		"type":  a.Type,
		"class": a.Class,
		"ttl":   a.TTL,
		"data":  a.Data,
	}
}

type rrSection struct {
	offset int // position right after a question/rr when walking sequentially
}

// Parse dissects a complete DNS message (header through additional
// records) and writes extracted fields to s.Fields using fields. data must
// be the full message with any transport framing (NetBIOS/4-byte TCP
// length) already stripped by the caller.
func Parse(s *session.Session, fields Fields, data []byte) error {
	if len(data) < 12 {
		return corrupt("header shorter than 12 bytes")
	}

	id := binary.BigEndian.Uint16(data[0:2])
	flags := binary.BigEndian.Uint16(data[2:4])
	qdCount := binary.BigEndian.Uint16(data[4:6])
	anCount := binary.BigEndian.Uint16(data[6:8])
	nsCount := binary.BigEndian.Uint16(data[8:10])
	arCount := binary.BigEndian.Uint16(data[10:12])

	isResponse := flags&0x8000 != 0
	opcodeID := uint8((flags >> 11) & 0x0F)
	rcodeID := uint8(flags & 0x0F)

	opcode := opcodeName(opcodeID)
	s.Fields.AddString(fields.Opcode, opcode)

	if isResponse {
		s.Fields.AddString(fields.Status, rcodeName(rcodeID))
	}

	pos := 12
	var queryType, queryClass uint16

	for i := uint16(0); i < qdCount; i++ {
		name, next, err := decodeName(data, pos)
		if err != nil {
			return err
		}
		pos = next
		if pos+4 > len(data) {
			return corrupt("question runs past end of message")
		}
		queryType = binary.BigEndian.Uint16(data[pos : pos+2])
		queryClass = binary.BigEndian.Uint16(data[pos+2 : pos+4])
		pos += 4

		if i == 0 {
			s.Fields.AddStringLower(fields.QueryHost, name)
			if isPunycode(name) {
				s.Fields.AddString(fields.Puny, name)
			}
		}
		s.Fields.AddString(fields.QueryType, typeName(queryType))
		s.Fields.AddString(fields.QueryClass, className(queryClass))
	}

	total := int(anCount) + int(nsCount) + int(arCount)
	for i := 0; i < total; i++ {
		var err error
		pos, err = parseRR(s, fields, data, pos, id, opcode)
		if err != nil {
			return err
		}
	}
	return nil
}

func isPunycode(name string) bool {
	for _, label := range strings.Split(name, ".") {
		if strings.HasPrefix(label, "xn--") {
			return true
		}
	}
	return false
}

func parseRR(s *session.Session, fields Fields, data []byte, pos int, msgID uint16, opcode string) (int, error) {
	name, next, err := decodeName(data, pos)
	if err != nil {
		return 0, err
	}
	pos = next
	if pos+10 > len(data) {
		return 0, corrupt("RR fixed fields run past end of message")
	}
	rrType := binary.BigEndian.Uint16(data[pos : pos+2])
	rrClass := binary.BigEndian.Uint16(data[pos+2 : pos+4])
	ttl := binary.BigEndian.Uint32(data[pos+4 : pos+8])
	rdLen := int(binary.BigEndian.Uint16(data[pos+8 : pos+10]))
	pos += 10
	if pos+rdLen > len(data) {
		return 0, corrupt("rdata runs past end of message")
	}
	rdata := data[pos : pos+rdLen]

	var rendered string
	switch rrType {
	case 1: // A
		if len(rdata) == 4 {
			ip := net.IP(rdata)
			rendered = ip.String()
			s.Fields.AddIP4(fields.Host, ip)
		}
	case 28: // AAAA
		if len(rdata) == 16 {
			ip := net.IP(rdata)
			rendered = ip.String()
			s.Fields.AddIP6(fields.Host, ip)
		}
	case 5: // CNAME
		cname, _, err := decodeName(data, pos)
		if err == nil {
			rendered = cname
		}
	case 2: // NS
		ns, _, err := decodeName(data, pos)
		if err == nil {
			rendered = ns
		}
	case 15: // MX
		if len(rdata) >= 2 {
			exch, _, err := decodeName(data, pos+2)
			if err == nil {
				rendered = exch
			}
		}
	case 16: // TXT
		rendered = decodeTXT(rdata)
	}

	s.Fields.AddObject(fields.Answers, Answer{
		Name:   name,
		Type:   typeName(rrType),
		Class:  className(rrClass),
		TTL:    ttl,
		PortID: msgID,
		Opcode: opcode,
		Data:   rendered,
	})

	return pos + rdLen, nil
}

func decodeTXT(rdata []byte) string {
	var b strings.Builder
	i := 0
	for i < len(rdata) {
		n := int(rdata[i])
		i++
		if i+n > len(rdata) {
			break
		}
		b.Write(rdata[i : i+n])
		i += n
	}
	return b.String()
}