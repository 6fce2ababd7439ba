// Package protocols wires every protocol dissector's field definitions and
// classifiers into one shared bundle: each dissector only knows how to
// parse its own wire format (see internal/dissect/...), so something has
// to register its byte patterns and well-known ports with the classifier
// and hand it the field position ids it resolved at startup. That glue
// lives here rather than in each dissector package, mirroring how the
// capture engine's parsers.c keeps interface-UUID/port tables separate
// from each individual parser's dissection logic.
package protocols

import (
	"github.com/arkime-go/capture/internal/classify"
	"github.com/arkime-go/capture/internal/dissect/dcerpc"
	"github.com/arkime-go/capture/internal/dissect/dhcp"
	"github.com/arkime-go/capture/internal/dissect/dns"
	"github.com/arkime-go/capture/internal/dissect/icmp"
	"github.com/arkime-go/capture/internal/dissect/isakmp"
	"github.com/arkime-go/capture/internal/dissect/krb5"
	"github.com/arkime-go/capture/internal/dissect/smb"
	"github.com/arkime-go/capture/internal/field"
	"github.com/arkime-go/capture/internal/session"
)

const (
	portDNS      = 53
	portDHCPv4S  = 67
	portDHCPv4C  = 68
	portDHCPv6S  = 547
	portDHCPv6C  = 546
	portSMB      = 445
	portSMBNetBIOS = 139
	portDCERPC   = 135
	portKerberos = 88
	portISAKMP   = 500
	portISAKMPNAT = 4500
)

// Bundle is every dissector's resolved field ids plus the classifier
// registries they were wired into. One Bundle is built at startup and
// shared read-only by every packet thread.
type Bundle struct {
	Fields    *field.Registry
	Classify  *classify.Registry
	SubParser *classify.SubParserRegistry

	DNS    dns.Fields
	DHCP   dhcp.Fields
	SMB    smb.Fields
	DCERPC dcerpc.Fields
	KRB5   krb5.Fields
	ICMP   icmp.Fields
	ISAKMP isakmp.Fields
}

// Register builds a Bundle: declares every dissector's fields against a
// fresh field.Registry, then wires their classification triggers into a
// fresh classify.Registry. Must run once, before any packet is processed.
func Register() *Bundle {
	b := &Bundle{
		Fields:    field.NewRegistry(),
		Classify:  classify.NewRegistry(),
		SubParser: classify.NewSubParserRegistry(),
	}

	b.DNS = dns.Register(b.Fields)
	b.DHCP = dhcp.Register(b.Fields)
	b.SMB = smb.Register(b.Fields)
	b.DCERPC = dcerpc.Register(b.Fields)
	b.KRB5 = krb5.Register(b.Fields)
	b.ICMP = icmp.Register(b.Fields)
	b.ISAKMP = isakmp.Register(b.Fields)

	dcerpc.RegisterWellKnownInterfaces(b.SubParser)

	b.wireDNS()
	b.wireDHCP()
	b.wireSMB()
	b.wireDCERPC()
	b.wireKerberos()
	b.wireISAKMP()

	return b
}

func (b *Bundle) wireDNS() {
	cb := classify.Callback(func(s *session.Session, data []byte, dir int) {
		_ = dns.Parse(s, b.DNS, data)
	})
	b.Classify.RegisterPort(classify.PortEntry{Family: "dns", Port: portDNS, Transport: classify.TransportUDP, Callback: cb})
	b.Classify.RegisterPort(classify.PortEntry{Family: "dns", Port: portDNS, Transport: classify.TransportTCPDst, Callback: cb})
}

func (b *Bundle) wireDHCP() {
	v4 := classify.Callback(func(s *session.Session, data []byte, dir int) {
		_ = dhcp.ParseV4(s, b.DHCP, data)
	})
	v6 := classify.Callback(func(s *session.Session, data []byte, dir int) {
		_ = dhcp.ParseV6(s, b.DHCP, data)
	})
	b.Classify.RegisterPort(classify.PortEntry{Family: "dhcp", Port: portDHCPv4S, Transport: classify.TransportUDP, Callback: v4})
	b.Classify.RegisterPort(classify.PortEntry{Family: "dhcp", Port: portDHCPv4C, Transport: classify.TransportUDP, Callback: v4})
	b.Classify.RegisterPort(classify.PortEntry{Family: "dhcp", Port: portDHCPv6S, Transport: classify.TransportUDP, Callback: v6})
	b.Classify.RegisterPort(classify.PortEntry{Family: "dhcp", Port: portDHCPv6C, Transport: classify.TransportUDP, Callback: v6})
}

// smbStreamParser and dcerpcStreamParser below implement the same "attach a streaming
// parser on first classification, pull whole frames off the session's
// per-direction buffer" shape the original parsers use internally, since
// both protocols ride NetBIOS/fragment length prefixes over TCP rather
// than resolving to a single-datagram message the way DNS/DHCP do.

func (b *Bundle) wireSMB() {
	attach := classify.Callback(func(s *session.Session, data []byte, dir int) {
		if s.HasProtocol("smb") {
			return
		}
		s.TagProtocol("smb")
		s.AttachParser(&session.ParserEntry{
			Name: "smb",
			Fn:   b.smbStreamParser,
		})
		// Feed the bytes that triggered classification through the new
		// parser immediately; data has not been buffered yet.
		s.Dispatch(data, dir)
	})
	b.Classify.RegisterPort(classify.PortEntry{Family: "smb", Port: portSMB, Transport: classify.TransportTCP, Callback: attach})
	b.Classify.RegisterPort(classify.PortEntry{Family: "smb", Port: portSMBNetBIOS, Transport: classify.TransportTCP, Callback: attach})
}

// smbStreamParser strips NetBIOS Session Service framing and hands each
// complete SMB1/SMB2 message to the matching dissector.
func (b *Bundle) smbStreamParser(s *session.Session, state interface{}, data []byte, dir int) session.ParseResult {
	buf := s.StreamBuffer(dir)
	if !buf.Add(data) {
		return session.ParseUnregister
	}
	for {
		raw := buf.Bytes()
		msgLen, haveHeader := smb.NetBIOSLength(raw)
		if !haveHeader {
			return session.ParseContinue
		}
		total := 4 + msgLen
		if len(raw) < total {
			return session.ParseContinue
		}
		msg := raw[4:total]
		if len(msg) >= 4 && msg[0] == 0xFE {
			_ = smb.ParseSMB2(s, b.SMB, msg)
		} else if len(msg) >= 4 && msg[0] == 0xFF {
			_ = smb.ParseSMB1(s, b.SMB, msg)
		}
		buf.Del(total)
	}
}

func (b *Bundle) wireDCERPC() {
	attach := classify.Callback(func(s *session.Session, data []byte, dir int) {
		if s.HasProtocol("dcerpc-stream") {
			return
		}
		s.TagProtocol("dcerpc-stream")
		s.AttachParser(&session.ParserEntry{
			Name: "dcerpc",
			Fn:   b.dcerpcStreamParser,
		})
		s.Dispatch(data, dir)
	})
	b.Classify.RegisterPort(classify.PortEntry{Family: "dcerpc", Port: portDCERPC, Transport: classify.TransportTCP, Callback: attach})
}

// dcerpcStreamParser buffers until a full PDU (per its own FragLen) is
// available, decodes the common header, and dissects Bind PDUs.
func (b *Bundle) dcerpcStreamParser(s *session.Session, state interface{}, data []byte, dir int) session.ParseResult {
	buf := s.StreamBuffer(dir)
	if !buf.Add(data) {
		return session.ParseUnregister
	}
	for {
		raw := buf.Bytes()
		if len(raw) < 16 {
			return session.ParseContinue
		}
		hdr, err := dcerpc.ParseHeader(raw)
		if err != nil {
			return session.ParseUnregister
		}
		total := int(hdr.FragLen)
		if len(raw) < total {
			return session.ParseContinue
		}
		if hdr.Type == dcerpc.PTypeBind {
			_ = dcerpc.ParseBind(s, b.DCERPC, b.SubParser, hdr, raw[16:total])
		}
		buf.Del(total)
	}
}

func (b *Bundle) wireKerberos() {
	udp := classify.Callback(func(s *session.Session, data []byte, dir int) {
		if !krb5.ClassifyUDP(data) {
			return
		}
		_ = krb5.Parse(s, b.KRB5, data)
	})
	b.Classify.RegisterPort(classify.PortEntry{Family: "krb5", Port: portKerberos, Transport: classify.TransportUDP, Callback: udp})

	attach := classify.Callback(func(s *session.Session, data []byte, dir int) {
		if !krb5.ClassifyTCP(data) {
			return
		}
		if s.HasProtocol("krb5-stream") {
			return
		}
		s.TagProtocol("krb5-stream")
		s.AttachParser(&session.ParserEntry{
			Name: "krb5",
			Fn:   b.krb5StreamParser,
		})
		s.Dispatch(data, dir)
	})
	b.Classify.RegisterPort(classify.PortEntry{Family: "krb5", Port: portKerberos, Transport: classify.TransportTCP, Callback: attach})
}

func (b *Bundle) krb5StreamParser(s *session.Session, state interface{}, data []byte, dir int) session.ParseResult {
	buf := s.StreamBuffer(dir)
	if !buf.Add(data) {
		return session.ParseUnregister
	}
	for {
		msg, consumed, ok := krb5.TCPMessage(buf.Bytes())
		if !ok {
			return session.ParseContinue
		}
		_ = krb5.Parse(s, b.KRB5, msg)
		buf.Del(consumed)
	}
}

func (b *Bundle) wireISAKMP() {
	cb := classify.Callback(func(s *session.Session, data []byte, dir int) {
		if !isakmp.Classify(s.Port1, s.Port2, data) {
			return
		}
		_ = isakmp.Parse(s, b.ISAKMP, s.Port1, s.Port2, data)
	})
	b.Classify.RegisterPort(classify.PortEntry{Family: "isakmp", Port: portISAKMP, Transport: classify.TransportUDP, Callback: cb})
	b.Classify.RegisterPort(classify.PortEntry{Family: "isakmp", Port: portISAKMPNAT, Transport: classify.TransportUDP, Callback: cb})
}

// ParseICMP dissects an ICMP/ICMPv6 payload directly; unlike the
// port-keyed protocols above, ICMP has no transport port to register
// against, so the engine calls this straight from its IP-protocol
// dispatch once a session has been resolved via session.AddressID.
func (b *Bundle) ParseICMP(s *session.Session, data []byte) {
	_ = icmp.Parse(s, b.ICMP, data)
}