// Package dcerpc dissects DCE/RPC PDUs carried over SMB named pipes or
// bare TCP: the 16-byte common header, fragment-length bounds, and the
// Bind PDU's interface UUID, which is looked up in a sub-parser registry
// to attach a named protocol tag (drsuapi, samr, netlogon, ...).
package dcerpc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/arkime-go/capture/internal/classify"
	"github.com/arkime-go/capture/internal/field"
	"github.com/arkime-go/capture/internal/session"
)

// ErrCorrupt is returned for malformed input or a fragment length outside
// the accepted [16, 8192] bound.
var ErrCorrupt = errors.New("dcerpc: corrupt or out-of-bound header")

const (
	minFragLen = 16
	maxFragLen = 8192
)

// PacketType is the subset of DCE/RPC PTYPE values this dissector acts on.
type PacketType uint8

const (
	PTypeRequest  PacketType = 0
	PTypeResponse PacketType = 2
	PTypeBind     PacketType = 11
	PTypeBindAck  PacketType = 12
)

// Fields are the field-store position ids this dissector writes to.
type Fields struct {
	Interface int // UUID string
	Operation int // named sub-protocol, if recognized
}

// Register declares DCE/RPC fields on reg.
func Register(reg *field.Registry) Fields {
	return Fields{
		Interface: reg.Define("dcerpc.interface", field.KindString, field.ContainerUniqueArray, false),
		Operation: reg.Define("dcerpc.operation", field.KindString, field.ContainerUniqueArray, false),
	}
}

// Header is the decoded common DCE/RPC header.
type Header struct {
	Type         PacketType
	LittleEndian bool
	FragLen      uint16
	CallID       uint32
}

// ParseHeader decodes and validates the 16-byte common header, enforcing
// the [16, 8192] fragment-length bound (an out-of-bound value causes the
// parser to drop the stream, per the documented contract).
func ParseHeader(data []byte) (Header, error) {
	if len(data) < 16 {
		return Header{}, ErrCorrupt
	}
	dataRep := data[4]
	little := dataRep&0x0F == 1

	var fragLen uint16
	if little {
		fragLen = binary.LittleEndian.Uint16(data[8:10])
	} else {
		fragLen = binary.BigEndian.Uint16(data[8:10])
	}
	if fragLen < minFragLen || fragLen > maxFragLen {
		return Header{}, ErrCorrupt
	}

	var callID uint32
	if little {
		callID = binary.LittleEndian.Uint32(data[12:16])
	} else {
		callID = binary.BigEndian.Uint32(data[12:16])
	}

	return Header{
		Type:         PacketType(data[2]),
		LittleEndian: little,
		FragLen:      fragLen,
		CallID:       callID,
	}, nil
}

// formatUUID renders a 16-byte UUID field with DCE/RPC's mixed byte
// order: the first three components are endian-sensitive, the last two
// (clock-seq and node) are always big-endian on the wire.
func formatUUID(b []byte, little bool) string {
	var timeLow uint32
	var timeMid, timeHiVer uint16
	if little {
		timeLow = binary.LittleEndian.Uint32(b[0:4])
		timeMid = binary.LittleEndian.Uint16(b[4:6])
		timeHiVer = binary.LittleEndian.Uint16(b[6:8])
	} else {
		timeLow = binary.BigEndian.Uint32(b[0:4])
		timeMid = binary.BigEndian.Uint16(b[4:6])
		timeHiVer = binary.BigEndian.Uint16(b[6:8])
	}
	return fmt.Sprintf("%08x-%04x-%04x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		timeLow, timeMid, timeHiVer,
		b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15])
}

// ParseBind dissects a Bind PDU's first presentation-context item to
// extract the abstract-syntax interface UUID, looks it up against subs,
// and tags the session with the resolved sub-protocol name if known.
func ParseBind(s *session.Session, fields Fields, subs *classify.SubParserRegistry, hdr Header, body []byte) error {
	// body layout: max_xmit(2) max_recv(2) assoc_group(4) n_ctx(1) pad(3)
	// then one or more context items: ctx_id(2) n_trans(1) pad(1) uuid(16) ver(2) vermin(2) ...
	if len(body) < 12+16 {
		return ErrCorrupt
	}
	item := body[12:]
	if len(item) < 4+16 {
		return ErrCorrupt
	}
	uuidBytes := item[4 : 4+16]
	uuid := formatUUID(uuidBytes, hdr.LittleEndian)

	s.Fields.AddString(fields.Interface, uuid)
	s.TagProtocol("dcerpc")

	if subs != nil {
		if name, ok := subs.Lookup("dcerpc", uuid); ok {
			s.Fields.AddString(fields.Operation, name)
			s.TagProtocol(name)
		}
	}
	return nil
}

// RegisterWellKnownInterfaces seeds subs with the handful of interface
// UUIDs the capture engine names explicitly.
func RegisterWellKnownInterfaces(subs *classify.SubParserRegistry) {
	subs.Register("dcerpc", "e3514235-4b06-11d1-ab04-00c04fc2dcd2", "drsuapi")
	subs.Register("dcerpc", "12345778-1234-abcd-ef00-0123456789ac", "samr")
	subs.Register("dcerpc", "12345678-1234-abcd-ef00-01234567cffb", "netlogon")
	subs.Register("dcerpc", "367abb81-9844-35f1-ad32-98f038001003", "svcctl")
}