package session

import (
	"encoding/binary"
	"net"
)

// Protocol is the top-level transport classification assigned to a packet;
// it selects which session-id function, pre-processor, and processor run.
type Protocol uint8

const (
	ProtocolOther Protocol = iota
	ProtocolTCP
	ProtocolUDP
	ProtocolICMP
	ProtocolESP
	ProtocolDHCP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	case ProtocolICMP:
		return "icmp"
	case ProtocolESP:
		return "esp"
	case ProtocolDHCP:
		return "dhcp"
	default:
		return "other"
	}
}

// ID is a fixed-width opaque session key built from a canonical endpoint
// tuple, so that swapping a flow's source and destination produces the
// same ID (invariant 4 of the packet-processing contract).
type ID [16]byte

// endpoint is one side of a flow-defining tuple, comparable so the two
// endpoints of a flow can be sorted into a canonical order.
type endpoint struct {
	addr [16]byte
	port uint16
}

func toEndpoint(ip net.IP, port uint16) endpoint {
	var e endpoint
	if v4 := ip.To4(); v4 != nil {
		copy(e.addr[12:], v4)
	} else if v6 := ip.To16(); v6 != nil {
		copy(e.addr[:], v6)
	}
	e.port = port
	return e
}

func (e endpoint) less(o endpoint) bool {
	for i := range e.addr {
		if e.addr[i] != o.addr[i] {
			return e.addr[i] < o.addr[i]
		}
	}
	return e.port < o.port
}

// TupleID computes a canonical SessionId for TCP/UDP/SCTP-style flows from
// the tuple {addr, port, addr, port, vlan, vni}: the two endpoints are
// sorted so both directions of the same flow hash identically.
func TupleID(ipA net.IP, portA uint16, ipB net.IP, portB uint16, vlan uint16, vni uint32) ID {
	a := toEndpoint(ipA, portA)
	b := toEndpoint(ipB, portB)
	if b.less(a) {
		a, b = b, a
	}

	var id ID
	copy(id[0:6], a.addr[10:16])
	binary.BigEndian.PutUint16(id[6:8], a.port)
	copy(id[8:14], b.addr[10:16])
	binary.BigEndian.PutUint16(id[14:16], b.port^uint16(vlan)^uint16(vni))
	return id
}

// AddressID computes a SessionId for protocols keyed only on the address
// pair (ICMP echoes, ESP), again sorted for direction independence.
func AddressID(ipA, ipB net.IP) ID {
	a := toEndpoint(ipA, 0)
	b := toEndpoint(ipB, 0)
	if b.less(a) {
		a, b = b, a
	}
	var id ID
	copy(id[0:8], a.addr[8:16])
	copy(id[8:16], b.addr[8:16])
	return id
}

// MACID computes a SessionId keyed on a single 6-byte hardware address,
// used by DHCP to key a session on the client's MAC regardless of the
// transaction id carried by any particular packet.
func MACID(mac net.HardwareAddr) ID {
	var id ID
	copy(id[0:6], mac)
	return id
}