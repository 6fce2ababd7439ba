package engine

import (
	"net"
	"testing"
	"time"

	"github.com/arkime-go/capture/internal/freelater"
	"github.com/arkime-go/capture/internal/packetpool"
	"github.com/arkime-go/capture/internal/protocols"
	"github.com/arkime-go/capture/internal/session"
	"github.com/arkime-go/capture/pcap"
)

func newTestEngine(t *testing.T, numThreads int) *Engine {
	t.Helper()
	bundle := protocols.Register()
	free := freelater.New(nil)
	return New(numThreads, 16, 64, session.DefaultTimeouts(), bundle, DiscardWriter{}, free, RealClock())
}

// packetFor wraps a raw frame in a pooled Packet the way a reader would,
// for tests that call processPacket directly instead of running a full
// Reader/Dispatcher loop.
func packetFor(data []byte, ts time.Time) *packetpool.Packet {
	p := packetpool.Get()
	p.Data = append(p.Data[:0], data...)
	p.Timestamp = ts
	p.CapLen = len(data)
	p.FullLen = len(data)
	return p
}

func TestProcessPacketTCPSessionTracksBothDirections(t *testing.T) {
	e := newTestEngine(t, 1)
	table := e.Tables[0]
	now := time.Now()

	clientIP := net.IPv4(10, 0, 0, 1)
	serverIP := net.IPv4(10, 0, 0, 2)

	req := pcap.BuildEthernetIPv4TCP(clientIP, serverIP, 40000, 80, 1000, true, false, []byte("GET / HTTP/1.0\r\n\r\n"))
	e.processPacket(0, table, packetFor(req, now))
	if table.Count() != 1 {
		t.Fatalf("expected 1 session after the request, got %d", table.Count())
	}

	resp := pcap.BuildEthernetIPv4TCP(serverIP, clientIP, 80, 40000, 5000, true, true, []byte("hello"))
	e.processPacket(0, table, packetFor(resp, now.Add(time.Millisecond)))

	if table.Count() != 1 {
		t.Fatalf("expected response to join the existing session, got %d sessions", table.Count())
	}
}

func TestProcessPacketUDPDHCPKeyedByClientMAC(t *testing.T) {
	e := newTestEngine(t, 1)
	table := e.Tables[0]
	now := time.Now()

	clientMAC := net.HardwareAddr{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}
	msg := make([]byte, 240)
	msg[0] = 1 // BOOTREQUEST
	msg[1] = 1 // htype: ethernet
	msg[2] = 6 // hlen
	copy(msg[28:34], clientMAC)

	frame := pcap.BuildEthernetIPv4UDP(net.IPv4(0, 0, 0, 0), net.IPv4(255, 255, 255, 255), 68, 67, msg)
	e.processPacket(0, table, packetFor(frame, now))

	if table.Count() != 1 {
		t.Fatalf("expected 1 DHCP session, got %d", table.Count())
	}

	// A second message from a different client MAC, same address/port
	// tuple, must land in a distinct session since DHCP keys on client
	// identity rather than the UDP tuple.
	otherMAC := net.HardwareAddr{0x02, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE}
	copy(msg[28:34], otherMAC)
	frame2 := pcap.BuildEthernetIPv4UDP(net.IPv4(0, 0, 0, 0), net.IPv4(255, 255, 255, 255), 68, 67, msg)
	e.processPacket(0, table, packetFor(frame2, now))

	if table.Count() != 2 {
		t.Fatalf("expected distinct sessions per client MAC, got %d", table.Count())
	}
}

func TestProcessPacketICMPKeyedByAddressPair(t *testing.T) {
	e := newTestEngine(t, 1)
	table := e.Tables[0]
	now := time.Now()

	frame := pcap.BuildEthernetIPv4ICMP(net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2), 8, 0, []byte("ping"))
	e.processPacket(0, table, packetFor(frame, now))

	if table.Count() != 1 {
		t.Fatalf("expected 1 ICMP session, got %d", table.Count())
	}
}

func TestProcessPacketEmptyPayloadNeverCreatesSession(t *testing.T) {
	e := newTestEngine(t, 1)
	table := e.Tables[0]
	now := time.Now()

	// A bare SYN carries no payload once decapsulated; per the documented
	// zero-length-payload boundary it must never create a session.
	frame := pcap.BuildEthernetIPv4TCP(net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2), 1234, 80, 1, true, false, nil)
	e.processPacket(0, table, packetFor(frame, now))

	if table.Count() != 0 {
		t.Fatalf("expected no session from a zero-payload packet, got %d", table.Count())
	}
}

func TestFlowHashIsSymmetric(t *testing.T) {
	frame := pcap.BuildEthernetIPv4TCP(net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2), 40000, 80, 1, true, false, []byte("x"))
	info, ok := decapFlow(frame)
	if !ok {
		t.Fatalf("decapFlow failed")
	}
	reverse := flowInfo{
		proto: info.proto,
		addr1: info.addr2, addr2: info.addr1,
		port1: info.port2, port2: info.port1,
	}
	if flowHash(info) != flowHash(reverse) {
		t.Fatalf("flowHash must be symmetric across direction")
	}
}
