// Package packetpool holds the fixed-size packet buffers and the shard
// dispatch used to hand captured packets from reader goroutines to the
// fixed pool of packet-processing goroutines that own the session table.
//
// The reader/packet-thread split and the fixed thread count mirror the
// TPACKETv3 ring-to-thread assignment in the capture engine's reader; Go's
// channel-based fan-out replaces the original's per-thread ring + cluster
// hashing, but the contract is the same: a flow's packets always land on
// the same packet thread so the session table never needs cross-thread
// locking on the hot path.
package packetpool

import (
	"sync"
	"time"
)

// Packet is a captured frame plus its capture metadata. Timestamp, CapLen
// and FullLen mirror the gopacket.CaptureInfo fields the engine actually
// needs, so this package doesn't have to import gopacket just to carry a
// timestamp and length.
type Packet struct {
	Data      []byte
	Timestamp time.Time
	CapLen    int
	FullLen   int

	// ThreadHash selects which packet thread owns this packet's flow; it's
	// filled in by the caller (decap layer) from the packet's 4-tuple, not
	// computed here, since packetpool knows nothing about protocols.
	ThreadHash uint32

	// FilePos is the writer's packed file position for this packet,
	// assigned once the writer has enqueued it (§3 "file-position (set by
	// writer)"). Zero until the writer processes the packet.
	FilePos int64
}

// pool recycles Packet values (and their backing arrays where possible) to
// avoid an allocation per captured frame under sustained line-rate load.
var pool = sync.Pool{
	New: func() interface{} { return new(Packet) },
}

// Get returns a zeroed Packet ready to be filled in by a reader goroutine.
func Get() *Packet {
	p := pool.Get().(*Packet)
	p.Data = p.Data[:0]
	p.Timestamp = time.Time{}
	p.CapLen = 0
	p.FullLen = 0
	p.ThreadHash = 0
	p.FilePos = 0
	return p
}

// Put returns a Packet to the pool once every packet thread is done with
// it. Callers must not retain p or any slice derived from p.Data afterward.
func Put(p *Packet) {
	pool.Put(p)
}

// Dispatcher fans packets out from reader goroutines to a fixed number of
// packet-processing goroutines, each exclusively owning a shard of the
// session table. The shard for a packet is ThreadHash % len(shards).
type Dispatcher struct {
	shards []chan *Packet
}

// NewDispatcher creates a Dispatcher with numThreads receive channels, each
// buffered to queueDepth packets so a momentary stall in one packet
// thread doesn't immediately block the reader.
func NewDispatcher(numThreads, queueDepth int) *Dispatcher {
	if numThreads < 1 {
		numThreads = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	d := &Dispatcher{shards: make([]chan *Packet, numThreads)}
	for i := range d.shards {
		d.shards[i] = make(chan *Packet, queueDepth)
	}
	return d
}

// NumShards returns the number of packet-thread channels.
func (d *Dispatcher) NumShards() int {
	return len(d.shards)
}

// Shard returns the receive-only channel for packet thread i.
func (d *Dispatcher) Shard(i int) <-chan *Packet {
	return d.shards[i]
}

// Dispatch routes p to the shard selected by p.ThreadHash, blocking if that
// shard's queue is full; callers wanting a non-blocking send should use
// TryDispatch instead.
func (d *Dispatcher) Dispatch(p *Packet) {
	shard := d.shards[p.ThreadHash%uint32(len(d.shards))]
	shard <- p
}

// TryDispatch is Dispatch's non-blocking form; it reports whether the
// packet was enqueued. A false return means the target shard's queue was
// full and the caller must decide whether to drop the packet and count it.
func (d *Dispatcher) TryDispatch(p *Packet) bool {
	shard := d.shards[p.ThreadHash%uint32(len(d.shards))]
	select {
	case shard <- p:
		return true
	default:
		return false
	}
}

// Close closes every shard channel. Only the dispatch side (readers) may
// call this, and only after every reader has stopped sending.
func (d *Dispatcher) Close() {
	for _, s := range d.shards {
		close(s)
	}
}