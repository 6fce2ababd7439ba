// Package dhcp dissects DHCPv4 and DHCPv6 messages, keying sessions on the
// client identity (MAC for v4, transaction id for v6) rather than on the
// usual address/port tuple, since a single DHCP exchange spans multiple
// source addresses (0.0.0.0 during DISCOVER, an assigned address later).
package dhcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/arkime-go/capture/internal/field"
	"github.com/arkime-go/capture/internal/session"
)

// magicCookie is the fixed DHCPv4 option-area marker (RFC 2131 §3).
const magicCookie = 0x63825363

// ErrCorrupt is returned for malformed input.
var ErrCorrupt = errors.New("dhcp: corrupt message")

// Fields are the field-store position ids this dissector writes to.
type Fields struct {
	Type     int
	Host     int
	ClassID  int
	ClientID int
	ID       int // transaction id, a set (duplicates dropped) per spec scenario 6
}

// Register declares DHCP fields on reg.
func Register(reg *field.Registry) Fields {
	return Fields{
		Type:     reg.Define("dhcp.type", field.KindString, field.ContainerArray, false),
		Host:     reg.Define("dhcp.host", field.KindString, field.ContainerUniqueArray, true),
		ClassID:  reg.Define("dhcp.classId", field.KindString, field.ContainerUniqueArray, false),
		ClientID: reg.Define("dhcp.clientId", field.KindString, field.ContainerUniqueArray, false),
		ID:       reg.Define("dhcp.id", field.KindInt, field.ContainerUniqueArray, false),
	}
}

var msgTypeNames = map[byte]string{
	1: "DISCOVER", 2: "OFFER", 3: "REQUEST", 4: "DECLINE",
	5: "ACK", 6: "NAK", 7: "RELEASE", 8: "INFORM",
}

// ClientMAC extracts the client hardware address (chaddr at offset 28,
// hlen bytes long; 6 for Ethernet) from a DHCPv4 message, used by the
// caller to compute the session's
// MAC-keyed ID before Parse is invoked.
func ClientMAC(data []byte) (net.HardwareAddr, error) {
	if len(data) < 34 {
		return nil, ErrCorrupt
	}
	hlen := data[2]
	if hlen == 0 || hlen > 16 {
		return nil, ErrCorrupt
	}
	return net.HardwareAddr(data[28 : 28+int(hlen)]), nil
}

// ParseV4 validates the magic cookie and walks the TLV option area,
// writing extracted fields to s.
func ParseV4(s *session.Session, fields Fields, data []byte) error {
	if len(data) < 240 {
		return ErrCorrupt
	}
	if binary.BigEndian.Uint32(data[236:240]) != magicCookie {
		return ErrCorrupt
	}

	xid := binary.BigEndian.Uint32(data[4:8])
	s.Fields.AddInt(fields.ID, int64(xid))

	opts := data[240:]
	pos := 0
	for pos < len(opts) {
		code := opts[pos]
		if code == 0xFF { // End
			break
		}
		if code == 0x00 { // Pad
			pos++
			continue
		}
		if pos+1 >= len(opts) {
			return ErrCorrupt
		}
		optLen := int(opts[pos+1])
		if pos+2+optLen > len(opts) {
			return ErrCorrupt
		}
		val := opts[pos+2 : pos+2+optLen]

		switch code {
		case 12: // Host name
			s.Fields.AddStringLower(fields.Host, string(val))
		case 53: // DHCP message type
			if len(val) == 1 {
				if name, ok := msgTypeNames[val[0]]; ok {
					s.Fields.AddString(fields.Type, name)
				} else {
					s.Fields.AddString(fields.Type, fmt.Sprintf("%d", val[0]))
				}
			}
		case 60: // Class identifier
			s.Fields.AddString(fields.ClassID, string(val))
		case 61: // Client identifier
			s.Fields.AddString(fields.ClientID, fmt.Sprintf("% x", val))
		}
		pos += 2 + optLen
	}
	return nil
}

// TransactionIDV6 extracts the 3-byte transaction id from a DHCPv6 message
// header, used to key the session.
func TransactionIDV6(data []byte) ([3]byte, error) {
	var txn [3]byte
	if len(data) < 4 {
		return txn, ErrCorrupt
	}
	copy(txn[:], data[1:4])
	return txn, nil
}

// ParseV6 walks the DHCPv6 option stream (code/length/value, 2+2 bytes
// each) following the 4-byte fixed header.
func ParseV6(s *session.Session, fields Fields, data []byte) error {
	if len(data) < 4 {
		return ErrCorrupt
	}
	opts := data[4:]
	pos := 0
	for pos+4 <= len(opts) {
		code := binary.BigEndian.Uint16(opts[pos : pos+2])
		optLen := int(binary.BigEndian.Uint16(opts[pos+2 : pos+4]))
		if pos+4+optLen > len(opts) {
			return ErrCorrupt
		}
		val := opts[pos+4 : pos+4+optLen]

		switch code {
		case 39: // Client FQDN (RFC 4704)
			if len(val) > 1 {
				s.Fields.AddStringLower(fields.Host, string(val[1:]))
			}
		case 1: // Client Identifier (DUID)
			s.Fields.AddString(fields.ClientID, fmt.Sprintf("% x", val))
		}
		pos += 4 + optLen
	}
	return nil
}