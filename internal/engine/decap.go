package engine

import (
	"encoding/binary"
	"hash/fnv"
	"net"

	"github.com/arkime-go/capture/internal/decap"
	"github.com/arkime-go/capture/internal/session"
)

// maxPeelDepth bounds how many link/network-layer peels a single packet
// may go through, guarding against a crafted or malformed tunnel chain
// that would otherwise loop the dispatch forever.
const maxPeelDepth = 8

// flowInfo is everything the packet-thread loop needs out of decap to key
// and route a packet: the canonical endpoint pair, the transport payload
// handed to the session's dissectors, and the metadata recorded onto the
// session on creation.
type flowInfo struct {
	proto   session.Protocol
	addr1   net.IP
	addr2   net.IP
	port1   uint16
	port2   uint16
	vlan    uint16
	vni     uint32
	tunnel  decap.TunnelFlag
	payload []byte
}

// decapFlow peels a raw captured frame down to its innermost IP transport
// layer, recording endpoint addresses/ports as it goes. decap.go's Frame
// only tracks protocol-dispatch selectors (EtherType/IPProto) and tunnel
// metadata, not addresses, so this function reads the address fields
// directly out of the IP header bytes immediately before handing them to
// decap's peeling functions, which is the one piece of address-aware
// logic the engine owns instead of decap.
func decapFlow(raw []byte) (flowInfo, bool) {
	var info flowInfo
	f := &decap.Frame{Data: raw}

	etherType := decap.EtherType(0)
	pendingEthernet := true

	for depth := 0; depth < maxPeelDepth; depth++ {
		if pendingEthernet {
			if err := decap.PeelEthernet(f); err != nil {
				return flowInfo{}, false
			}
			etherType = f.NextEtherType
			pendingEthernet = false
		}

		if etherType == decap.EtherTypeVLAN {
			if err := decap.PeelVLAN(f); err != nil {
				return flowInfo{}, false
			}
			info.vlan = f.VLAN
			etherType = f.NextEtherType
			continue
		}

		switch etherType {
		case decap.EtherTypeIPv4:
			if len(f.Data) < 20 {
				return flowInfo{}, false
			}
			info.addr1 = append(net.IP(nil), f.Data[12:16]...)
			info.addr2 = append(net.IP(nil), f.Data[16:20]...)
			if err := decap.PeelIPv4(f); err != nil {
				return flowInfo{}, false
			}
		case decap.EtherTypeIPv6:
			if len(f.Data) < 40 {
				return flowInfo{}, false
			}
			info.addr1 = append(net.IP(nil), f.Data[8:24]...)
			info.addr2 = append(net.IP(nil), f.Data[24:40]...)
			if err := decap.PeelIPv6(f); err != nil {
				return flowInfo{}, false
			}
		default:
			return flowInfo{}, false
		}

		redispatch, ok := dispatchIPProto(f, &info)
		if ok {
			return info, true
		}
		if !redispatch {
			return flowInfo{}, false
		}
		if f.NextEtherType == 0 {
			pendingEthernet = true
		} else {
			etherType = f.NextEtherType
		}
	}
	return flowInfo{}, false
}

// dispatchIPProto walks the IP-protocol chain starting at f.NextIPProto.
// ok reports a terminal transport layer was reached (info fully
// populated); redispatch reports a tunnel was peeled and the caller
// should re-enter decapFlow's outer loop on the frame's new next-layer
// selector.
func dispatchIPProto(f *decap.Frame, info *flowInfo) (redispatch, ok bool) {
	ipProto := f.NextIPProto

	for depth := 0; depth < maxPeelDepth; depth++ {
		switch ipProto {
		case decap.IPProtoTCP:
			if len(f.Data) < 20 {
				return false, false
			}
			info.port1 = binary.BigEndian.Uint16(f.Data[0:2])
			info.port2 = binary.BigEndian.Uint16(f.Data[2:4])
			dataOff := int(f.Data[12]>>4) * 4
			if dataOff < 20 || len(f.Data) < dataOff {
				return false, false
			}
			info.payload = f.Data[dataOff:]
			info.proto = session.ProtocolTCP
			return false, true

		case decap.IPProtoUDP:
			if err := decap.PeelUDP(f); err != nil {
				return false, false
			}
			info.port1, info.port2 = f.SrcPort, f.DstPort
			if name, isTunnel := decap.UDPTunnelProto(f.DstPort); isTunnel {
				switch name {
				case "vxlan":
					if err := decap.PeelVXLAN(f); err != nil {
						return false, false
					}
					info.vni = f.VNI
					info.tunnel |= decap.TunnelVXLAN
					return true, false
				case "vxlan-gpe":
					if err := decap.PeelVXLANGPE(f); err != nil {
						return false, false
					}
					info.vni = f.VNI
					info.tunnel |= decap.TunnelVXLANGPE
					return true, false
				}
				// geneve is recognized but has no peeling function; fall
				// through and treat the datagram as ordinary UDP payload.
			}
			info.payload = f.Data
			info.proto = session.ProtocolUDP
			return false, true

		case decap.IPProtoICMP, decap.IPProtoICMPv6:
			info.proto = session.ProtocolICMP
			info.payload = f.Data
			return false, true

		case decap.IPProtoESP:
			info.proto = session.ProtocolESP
			info.payload = f.Data
			return false, true

		case decap.IPProtoAH:
			if err := decap.PeelAH(f); err != nil {
				return false, false
			}
			info.tunnel |= decap.TunnelAH
			ipProto = f.NextIPProto
			continue

		case decap.IPProtoIPIP:
			if err := decap.PeelIPIP(f); err != nil {
				return false, false
			}
			info.tunnel |= decap.TunnelIPIP
			return true, false

		case decap.IPProtoGRE:
			if err := decap.PeelGRE(f); err != nil {
				return false, false
			}
			info.tunnel |= decap.TunnelGRE
			return true, false

		default:
			return false, false
		}
	}
	return false, false
}

// flowHash derives a stable shard-assignment key from a flow's canonical
// endpoint pair, standing in for the symmetric hash a TPACKETv3 ring
// cluster computes in hardware/kernel space (spec §5's "a flow's packets
// always land on the same packet thread"). Endpoints are combined
// order-independently so either direction of a flow hashes identically.
func flowHash(info flowInfo) uint32 {
	h := fnv.New32a()
	var a, b [18]byte
	copy(a[:16], info.addr1.To16())
	binary.BigEndian.PutUint16(a[16:18], info.port1)
	copy(b[:16], info.addr2.To16())
	binary.BigEndian.PutUint16(b[16:18], info.port2)

	// XOR the two endpoint encodings together before hashing so swapping
	// src/dst produces the same key, matching session.TupleID's symmetry.
	var combined [18]byte
	for i := range combined {
		combined[i] = a[i] ^ b[i]
	}
	_, _ = h.Write(combined[:])
	return h.Sum32()
}
