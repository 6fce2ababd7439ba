package pcap

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// defaultSrcMAC/defaultDstMAC fill the Ethernet layer for every builder
// below; the engine's decap layer never inspects MAC addresses, so a
// fixed pair is fine for synthesized test frames.
var (
	defaultSrcMAC = net.HardwareAddr{0xFF, 0xAA, 0xFA, 0xAA, 0xFF, 0xAA}
	defaultDstMAC = net.HardwareAddr{0xBD, 0xBD, 0xBD, 0xBD, 0xBD, 0xBD}
)

func serialize(layers ...gopacket.SerializableLayer) []byte {
	buffer := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buffer, opts, layers...); err != nil {
		panic(err) // only reachable with a malformed test fixture
	}
	return buffer.Bytes()
}

// BuildEthernetIPv4TCP serializes a full Ethernet+IPv4+TCP(+payload) frame,
// the raw wire bytes the engine's reader hands to decapFlow. Used by
// engine/session/classify integration tests that need a real frame rather
// than hand-built header bytes.
func BuildEthernetIPv4TCP(src, dst net.IP, srcPort, dstPort int, seq uint32, syn, ack bool, payload []byte) []byte {
	eth := &layers.Ethernet{EthernetType: layers.EthernetTypeIPv4, SrcMAC: defaultSrcMAC, DstMAC: defaultDstMAC}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: src, DstIP: dst}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), Seq: seq, SYN: syn, ACK: ack, Window: 65535}
	_ = tcp.SetNetworkLayerForChecksum(ip)
	return serialize(eth, ip, tcp, gopacket.Payload(payload))
}

// BuildEthernetIPv4UDP serializes a full Ethernet+IPv4+UDP(+payload)
// frame.
func BuildEthernetIPv4UDP(src, dst net.IP, srcPort, dstPort int, payload []byte) []byte {
	eth := &layers.Ethernet{EthernetType: layers.EthernetTypeIPv4, SrcMAC: defaultSrcMAC, DstMAC: defaultDstMAC}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: src, DstIP: dst}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	_ = udp.SetNetworkLayerForChecksum(ip)
	return serialize(eth, ip, udp, gopacket.Payload(payload))
}

// BuildEthernetIPv4ICMP serializes a full Ethernet+IPv4+ICMP(echo) frame,
// typeCode packed as (type<<8)|code followed by the identifier/sequence
// and payload the dissector expects at offset 0 of its handed-in data.
func BuildEthernetIPv4ICMP(src, dst net.IP, typ, code uint8, payload []byte) []byte {
	eth := &layers.Ethernet{EthernetType: layers.EthernetTypeIPv4, SrcMAC: defaultSrcMAC, DstMAC: defaultDstMAC}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolICMPv4, SrcIP: src, DstIP: dst}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(typ, code)}
	return serialize(eth, ip, icmp, gopacket.Payload(payload))
}

// BuildVLANEthernetIPv4TCP wraps BuildEthernetIPv4TCP's layer set behind
// an 802.1Q tag, used by engine tests exercising VLAN peeling.
func BuildVLANEthernetIPv4TCP(vlanID uint16, src, dst net.IP, srcPort, dstPort int, seq uint32, syn bool, payload []byte) []byte {
	eth := &layers.Ethernet{EthernetType: layers.EthernetTypeDot1Q, SrcMAC: defaultSrcMAC, DstMAC: defaultDstMAC}
	dot1q := &layers.Dot1Q{VLANIdentifier: vlanID, Type: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: src, DstIP: dst}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), Seq: seq, SYN: syn, Window: 65535}
	_ = tcp.SetNetworkLayerForChecksum(ip)
	return serialize(eth, dot1q, ip, tcp, gopacket.Payload(payload))
}
