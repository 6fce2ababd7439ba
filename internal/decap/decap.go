// Package decap implements link- and network-layer dispatch and tunnel
// peeling: EtherType, IP-protocol, and UDP-destination-port tables drive a
// chain of small header-stripping functions that either recurse into the
// same set of tables (further peeling) or terminate at the IP-transport
// layer, where the session table takes over.
package decap

import (
	"encoding/binary"
	"errors"
)

// ErrCorrupt is returned by any peeling function when the remaining
// buffer is shorter than the header it must validate. Per the fast-path
// error policy, callers drop the packet and increment a counter; they
// never propagate this further up.
var ErrCorrupt = errors.New("decap: corrupt or truncated header")

// TunnelFlag records which encapsulations a packet traversed, accumulated
// as a bitmask while peeling recurses.
type TunnelFlag uint32

const (
	TunnelVLAN TunnelFlag = 1 << iota
	TunnelVXLAN
	TunnelVXLANGPE
	TunnelNSH
	TunnelGRE
	TunnelL2TP
	TunnelPPP
	TunnelMPLS
	TunnelGTP
	TunnelAH
	TunnelIPIP
	TunnelESP
)

// EtherType is the subset of IEEE 802 EtherTypes the dispatch table
// recognizes.
type EtherType uint16

const (
	EtherTypeIPv4  EtherType = 0x0800
	EtherTypeARP   EtherType = 0x0806
	EtherTypeVLAN  EtherType = 0x8100
	EtherTypeIPv6  EtherType = 0x86DD
	EtherTypeMPLS  EtherType = 0x8847
	EtherTypeNSH   EtherType = 0x894F
)

// IPProto is the subset of IP protocol numbers the dispatch table
// recognizes.
type IPProto uint8

const (
	IPProtoICMP   IPProto = 1
	IPProtoTCP    IPProto = 6
	IPProtoUDP    IPProto = 17
	IPProtoGRE    IPProto = 47
	IPProtoESP    IPProto = 50
	IPProtoAH     IPProto = 51
	IPProtoIPIP   IPProto = 4
	IPProtoIPV6   IPProto = 41
	IPProtoICMPv6 IPProto = 58
)

// well-known UDP destination ports bound to tunnel protocols.
const (
	udpPortVXLAN    = 4789
	udpPortVXLANGPE = 4790
	udpPortGeneve   = 6081
)

// Frame carries the remaining bytes to decode plus the accumulated
// metadata recorded while peeling. A Frame is mutated in place as each
// peeling function advances past its own header.
type Frame struct {
	Data    []byte
	Tunnel  TunnelFlag
	VLAN    uint16
	VNI     uint32
	IsIPv6  bool

	// EtherType/IPProto are the next-layer selector once a peeling
	// function has stripped its own header; the caller's dispatch loop
	// reads these to decide the next table lookup.
	NextEtherType EtherType
	NextIPProto   IPProto

	// TransportSrcPort/DstPort are filled in once a UDP or TCP header has
	// been parsed, for the session layer's tuple construction.
	SrcPort, DstPort uint16
}

func need(f *Frame, n int) error {
	if len(f.Data) < n {
		return ErrCorrupt
	}
	return nil
}

func (f *Frame) advance(n int) {
	f.Data = f.Data[n:]
}

// PeelEthernet strips a 14-byte Ethernet header (no 802.1Q) and sets
// NextEtherType from the type/length field.
func PeelEthernet(f *Frame) error {
	if err := need(f, 14); err != nil {
		return err
	}
	f.NextEtherType = EtherType(binary.BigEndian.Uint16(f.Data[12:14]))
	f.advance(14)
	return nil
}

// PeelVLAN strips an 802.1Q tag, recording the 12-bit VLAN id and the
// encapsulated EtherType, per the tpacketv3 "reinstate fake 802.1Q header"
// recovery mode documented for live capture.
func PeelVLAN(f *Frame) error {
	if err := need(f, 4); err != nil {
		return err
	}
	tci := binary.BigEndian.Uint16(f.Data[0:2])
	f.VLAN = tci & 0x0FFF
	f.Tunnel |= TunnelVLAN
	f.NextEtherType = EtherType(binary.BigEndian.Uint16(f.Data[2:4]))
	f.advance(4)
	return nil
}

// PeelIPv4 strips an IPv4 header (including options, per IHL) and records
// NextIPProto. It does not compare the header's total-length field with
// the remaining bytes and does not validate the checksum; corrupt-packet
// detection downstream is left to the transport parsers.
func PeelIPv4(f *Frame) error {
	if err := need(f, 20); err != nil {
		return err
	}
	verIHL := f.Data[0]
	if verIHL>>4 != 4 {
		return ErrCorrupt
	}
	ihl := int(verIHL&0x0F) * 4
	if ihl < 20 {
		return ErrCorrupt
	}
	if err := need(f, ihl); err != nil {
		return err
	}
	f.NextIPProto = IPProto(f.Data[9])
	f.IsIPv6 = false
	f.advance(ihl)
	return nil
}

// PeelIPv6 strips the fixed 40-byte IPv6 header. Extension headers are not
// walked; NextIPProto is taken directly from the next-header field, which
// is sufficient for the protocols this engine dissects.
func PeelIPv6(f *Frame) error {
	if err := need(f, 40); err != nil {
		return err
	}
	f.NextIPProto = IPProto(f.Data[6])
	f.IsIPv6 = true
	f.advance(40)
	return nil
}

// PeelAH strips an IPsec Authentication Header. Header length is
// `(byte1 + 2) * 4` per RFC 4302; on underrun the packet is corrupt. On
// success the caller re-enters the IP-protocol dispatcher with the
// next-header byte at offset 0.
func PeelAH(f *Frame) error {
	if err := need(f, 2); err != nil {
		return err
	}
	nextProto := f.Data[0]
	headerLen := (int(f.Data[1]) + 2) * 4
	if err := need(f, headerLen); err != nil {
		return ErrCorrupt
	}
	f.Tunnel |= TunnelAH
	f.NextIPProto = IPProto(nextProto)
	f.advance(headerLen)
	return nil
}

// PeelIPIP strips nothing (the inner packet is a full IP datagram
// immediately following) but tags the tunnel bit and re-enters the
// EtherType-equivalent IP dispatch directly, since there is no Ethernet
// framing inside an IP-in-IP tunnel.
func PeelIPIP(f *Frame) error {
	if err := need(f, 1); err != nil {
		return err
	}
	f.Tunnel |= TunnelIPIP
	innerVersion := f.Data[0] >> 4
	if innerVersion == 6 {
		f.NextEtherType = EtherTypeIPv6
	} else {
		f.NextEtherType = EtherTypeIPv4
	}
	return nil
}

// PeelGRE strips a GRE header: 4 bytes fixed, plus 4 more for each of the
// checksum, key and sequence-number flags that are set.
func PeelGRE(f *Frame) error {
	if err := need(f, 4); err != nil {
		return err
	}
	flags := binary.BigEndian.Uint16(f.Data[0:2])
	proto := binary.BigEndian.Uint16(f.Data[2:4])
	hdrLen := 4
	if flags&0x8000 != 0 { // checksum present
		hdrLen += 4
	}
	if flags&0x2000 != 0 { // key present
		hdrLen += 4
	}
	if flags&0x1000 != 0 { // sequence number present
		hdrLen += 4
	}
	if err := need(f, hdrLen); err != nil {
		return ErrCorrupt
	}
	f.Tunnel |= TunnelGRE
	f.NextEtherType = EtherType(proto)
	f.advance(hdrLen)
	return nil
}

// PeelVXLAN validates and strips an 8-byte VXLAN header per RFC 7348: the
// reserved bits in bytes 0 and 1 must be zero, and when the I-bit (flag
// 0x08) is set the 24-bit VNI occupies bytes 4-6. On success the caller
// re-enters the Ethernet dispatcher on the encapsulated frame.
func PeelVXLAN(f *Frame) error {
	if err := need(f, 8); err != nil {
		return err
	}
	flags := f.Data[0]
	reservedByte1 := f.Data[1]
	if flags&0xF7 != 0 || reservedByte1 != 0 {
		return ErrCorrupt
	}
	if flags&0x08 == 0 {
		return ErrCorrupt
	}
	vni := uint32(f.Data[4])<<16 | uint32(f.Data[5])<<8 | uint32(f.Data[6])
	f.VNI = vni
	f.Tunnel |= TunnelVXLAN
	f.NextEtherType = 0 // inner payload is a full Ethernet frame: caller must call PeelEthernet directly
	f.advance(8)
	return nil
}

// NeedsEthernetRedispatch reports whether tunnel includes the VXLAN or GRE
// flag. NSH is not included.
func NeedsEthernetRedispatch(tunnel TunnelFlag) bool {
	return tunnel&(TunnelVXLAN|TunnelGRE) != 0
}

// vxlanGPENextProto mirrors VXLAN-GPE's next-protocol byte at offset 3,
// selecting IPv4, IPv6, Ethernet, NSH, or MPLS framing for the payload.
type vxlanGPENextProto uint8

const (
	gpeNextIPv4     vxlanGPENextProto = 0x1
	gpeNextIPv6     vxlanGPENextProto = 0x2
	gpeNextEthernet vxlanGPENextProto = 0x3
	gpeNextNSH      vxlanGPENextProto = 0x4
	gpeNextMPLS     vxlanGPENextProto = 0x5
)

// PeelVXLANGPE strips an 8-byte VXLAN-GPE header, selecting the
// downstream frame's interpretation from the next-protocol byte at
// offset 3.
func PeelVXLANGPE(f *Frame) error {
	if err := need(f, 8); err != nil {
		return err
	}
	nextProto := vxlanGPENextProto(f.Data[3])
	vni := uint32(f.Data[4])<<16 | uint32(f.Data[5])<<8 | uint32(f.Data[6])
	f.VNI = vni
	f.Tunnel |= TunnelVXLANGPE
	f.advance(8)

	switch nextProto {
	case gpeNextIPv4:
		f.NextEtherType = EtherTypeIPv4
	case gpeNextIPv6:
		f.NextEtherType = EtherTypeIPv6
	case gpeNextEthernet:
		f.NextEtherType = 0 // caller must call PeelEthernet directly
	case gpeNextNSH:
		f.NextEtherType = EtherTypeNSH
	case gpeNextMPLS:
		f.NextEtherType = EtherTypeMPLS
	default:
		return ErrCorrupt
	}
	return nil
}

// PeelNSH strips a Network Service Header's mandatory 8-byte base+service
// path header, ignoring optional TLV metadata (length field in bits
// 0-5 of byte 1, in 4-byte words, includes the TLVs which are skipped in
// bulk here since no dissector in this engine consumes them).
func PeelNSH(f *Frame) error {
	if err := need(f, 8); err != nil {
		return err
	}
	totalLen := int(f.Data[1]&0x3F) * 4
	if totalLen < 8 {
		return ErrCorrupt
	}
	nextProto := f.Data[3]
	if err := need(f, totalLen); err != nil {
		return ErrCorrupt
	}
	f.Tunnel |= TunnelNSH
	f.advance(totalLen)

	// NSH's next-protocol values reuse a small IANA registry distinct from
	// EtherType; 0x1 is IPv4, 0x2 is IPv6, 0x3 is Ethernet.
	switch nextProto {
	case 0x1:
		f.NextEtherType = EtherTypeIPv4
	case 0x2:
		f.NextEtherType = EtherTypeIPv6
	case 0x3:
		f.NextEtherType = 0
	default:
		return ErrCorrupt
	}
	return nil
}

// PeelUDP strips an 8-byte UDP header and records both ports; it does not
// consume the payload, leaving the tunnel port dispatch table (keyed on
// DstPort) to decide whether this UDP payload is itself a tunnel header.
func PeelUDP(f *Frame) error {
	if err := need(f, 8); err != nil {
		return err
	}
	f.SrcPort = binary.BigEndian.Uint16(f.Data[0:2])
	f.DstPort = binary.BigEndian.Uint16(f.Data[2:4])
	f.advance(8)
	return nil
}

// UDPTunnelProto reports which tunnel peeling function, if any, owns the
// well-known destination port a UDP datagram arrived on.
func UDPTunnelProto(dstPort uint16) (name string, ok bool) {
	switch dstPort {
	case udpPortVXLAN:
		return "vxlan", true
	case udpPortVXLANGPE:
		return "vxlan-gpe", true
	case udpPortGeneve:
		return "geneve", true
	default:
		return "", false
	}
}