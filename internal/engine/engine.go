package engine

import (
	"net"
	"time"

	"github.com/arkime-go/capture/internal/classify"
	"github.com/arkime-go/capture/internal/dissect/dhcp"
	"github.com/arkime-go/capture/internal/freelater"
	"github.com/arkime-go/capture/internal/packetpool"
	"github.com/arkime-go/capture/internal/protocols"
	"github.com/arkime-go/capture/internal/session"
	"github.com/arkime-go/capture/printer"
	"github.com/arkime-go/capture/util"
)

// PacketWriter is the subset of *writer.Writer a packet thread depends on,
// kept as an interface so engine tests can swap in a no-op stand-in
// instead of standing up a real S3 uploader.
type PacketWriter interface {
	WritePacket(threadIdx int, p *packetpool.Packet, now time.Time) (int64, error)
}

// Engine wires the allocator/dispatch (A), decap (B), session table (C),
// classifier/parser registry (D/E), and writer (G) into the running
// packet-processing pipeline: one goroutine per packet-thread shard,
// each serially draining its own channel and owning its own session
// table, exactly as §5's ownership discipline requires.
type Engine struct {
	Dispatcher *packetpool.Dispatcher
	Tables     []*session.Table
	Bundle     *protocols.Bundle
	Writer     PacketWriter
	Free       *freelater.Pool
	Clock      Clock

	Drops util.DropCounter
}

// New builds an Engine with one session-table shard per packet thread.
// timeouts and targetSlots size every shard identically; reg/free are
// shared across shards since the field registry and free-later pool are
// the two pieces of global state §5 documents as requiring no per-shard
// copy.
func New(numThreads, queueDepth, targetSlots int, timeouts session.Timeouts, bundle *protocols.Bundle, w PacketWriter, free *freelater.Pool, clock Clock) *Engine {
	e := &Engine{
		Dispatcher: packetpool.NewDispatcher(numThreads, queueDepth),
		Tables:     make([]*session.Table, numThreads),
		Bundle:     bundle,
		Writer:     w,
		Free:       free,
		Clock:      clock,
	}
	for i := range e.Tables {
		e.Tables[i] = session.NewTable(targetSlots, timeouts, bundle.Fields, free)
	}
	return e
}

// RunPacketThread drains shard idx until the dispatcher closes it,
// processing each packet in capture order. Packet threads never block on
// each other; the only cross-thread communication is the dispatcher's
// channel handoff from the reader.
func (e *Engine) RunPacketThread(idx int) {
	table := e.Tables[idx]
	for p := range e.Dispatcher.Shard(idx) {
		e.processPacket(idx, table, p)
	}
}

// sessionKey resolves a flow's mProtocol-specific canonical ID, per §3's
// "protocol-specific reductions" (TCP/UDP tuple, ICMP/ESP address-only,
// DHCP client-MAC).
func sessionKey(info flowInfo) (session.ID, session.Protocol) {
	if info.proto == session.ProtocolUDP {
		if mac, ok := dhcpKey(info); ok {
			return session.MACID(mac), session.ProtocolDHCP
		}
	}

	switch info.proto {
	case session.ProtocolTCP, session.ProtocolUDP:
		return session.TupleID(info.addr1, info.port1, info.addr2, info.port2, info.vlan, info.vni), info.proto
	case session.ProtocolICMP, session.ProtocolESP:
		return session.AddressID(info.addr1, info.addr2), info.proto
	default:
		return session.AddressID(info.addr1, info.addr2), session.ProtocolOther
	}
}

// isDHCPv4Port reports whether port is one of the two DHCPv4 well-known
// ports (the only family whose client MAC lives at a fixed offset in the
// payload; see ClientMAC). DHCPv6's ports (546/547) are classified and
// parsed independently by the port classifiers protocols.Register wires
// up, and are deliberately not keyed here.
func isDHCPv4Port(port uint16) bool {
	return port == 67 || port == 68
}

// dhcpKey extracts the client MAC used to key a DHCPv4 session's
// SessionId, peeking into the UDP payload before a session exists. DHCPv6
// has no fixed-offset MAC field — bytes 28-33 of a v6 message are part of
// its options area, not a hardware address — so a v6 flow falls through
// to the caller's normal address/port tuple keying. DHCPv6 sessions are
// not keyed on the transaction id, and the transaction id is not recorded
// as a field.
func dhcpKey(info flowInfo) (net.HardwareAddr, bool) {
	if !isDHCPv4Port(info.port1) && !isDHCPv4Port(info.port2) {
		return nil, false
	}
	mac, err := dhcp.ClientMAC(info.payload)
	if err != nil {
		return nil, false
	}
	return mac, true
}

func (e *Engine) processPacket(threadIdx int, table *session.Table, p *packetpool.Packet) {
	defer packetpool.Put(p)

	info, ok := decapFlow(p.Data)
	if !ok {
		e.Drops.Inc()
		return
	}
	if len(info.payload) == 0 {
		// §8 boundary: zero-length payloads after decapsulation never
		// create a session.
		return
	}

	now := p.Timestamp
	id, proto := sessionKey(info)

	sess, created := table.Lookup(id, now, func() *session.Session {
		return session.NewSession(id, proto, info.addr1, info.port1, info.addr2, info.port2, e.Bundle.Fields, now)
	})
	if created {
		sess.VLAN = info.vlan
		sess.VNI = info.vni
		if proto == session.ProtocolESP {
			// ESP payloads are not recorded: StopSaving is set as the
			// session is created and is checked on this thread before
			// every WritePacket call below, so no packet of the session
			// reaches the writer.
			sess.StopSaving = true
		}
	}

	dir := sess.Direction(info.addr1, info.port1)
	sess.Touch(now, dir, len(info.payload))

	if sess.FirstBytes(dir) == nil {
		sess.RecordFirstBytes(dir, info.payload)
		e.Bundle.Classify.ClassifyBytes(sess, info.payload, dir)
		e.classifyPorts(sess, info, dir)
	}

	sess.Dispatch(info.payload, dir)

	if proto == session.ProtocolICMP {
		e.Bundle.ParseICMP(sess, info.payload)
	}

	if !sess.StopSaving {
		pos, err := e.Writer.WritePacket(threadIdx, p, now)
		if err != nil {
			printer.Errorf("engine: writer failed for thread %d: %v\n", threadIdx, err)
		} else {
			p.FilePos = pos
		}
	}
}

// classifyPorts runs the port classifier table against both of this
// packet's observed ports, matching either-side "tcp"/"udp" registrations
// plus destination-only "tcp-dst" registrations (spec §4.D).
func (e *Engine) classifyPorts(sess *session.Session, info flowInfo, dir int) {
	var transport classify.Transport
	isTCP := info.proto == session.ProtocolTCP
	switch info.proto {
	case session.ProtocolTCP:
		transport = classify.TransportTCP
	case session.ProtocolUDP, session.ProtocolDHCP:
		transport = classify.TransportUDP
	default:
		return
	}

	e.Bundle.Classify.ClassifyPort(sess, info.payload, dir, transport, info.port1)
	e.Bundle.Classify.ClassifyPort(sess, info.payload, dir, transport, info.port2)
	if isTCP {
		e.Bundle.Classify.ClassifyPort(sess, info.payload, dir, classify.TransportTCPDst, info.port2)
	}
}

// Tick advances every packet thread's timeout wheel and drains the
// free-later pool; called from the main loop (§4.H), never from a packet
// thread.
func (e *Engine) Tick(now time.Time) {
	for _, t := range e.Tables {
		t.Tick(now)
	}
	e.Free.Drain()
}

// Quiesce forces every shard's remaining sessions through expiry, the
// first step of the documented shutdown sequence (§4.C Quiesce) once the
// reader has stopped and no more packets will arrive.
func (e *Engine) Quiesce(now time.Time) {
	for _, t := range e.Tables {
		t.Quiesce(now)
	}
}

// SessionCount sums live sessions across every shard, used for stats/health
// reporting.
func (e *Engine) SessionCount() int {
	n := 0
	for _, t := range e.Tables {
		n += t.Count()
	}
	return n
}
