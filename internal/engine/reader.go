// reader.go implements the reader-thread half of the pipeline: pulling
// raw frames from a live interface or an offline capture file via
// gopacket/pcap, and handing them to the packet-thread dispatcher by
// flow hash (§4.A). Reader threads never touch session state; all they
// compute is the shard-assignment hash.
package engine

import (
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/pkg/errors"

	"github.com/arkime-go/capture/internal/packetpool"
	"github.com/arkime-go/capture/printer"
)

// Source is the subset of gopacket.PacketDataSource a reader goroutine
// consumes; *pcap.Handle (live interface or offline savefile) satisfies
// it directly, letting tests substitute a synthetic in-memory source.
type Source interface {
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
}

// Reader pulls frames from one Source and dispatches them to the engine's
// packet threads. ReaderIndex distinguishes multiple reader goroutines
// (e.g. one per TPACKETv3 fanout slot) for statistics; it plays no role
// in shard assignment, which is derived purely from the flow hash.
type Reader struct {
	Engine      *Engine
	Source      Source
	ReaderIndex int

	// Drops counts frames that failed decapsulation far enough to compute
	// a shard hash (the reader does a lightweight decode purely to route
	// the packet; the owning packet thread repeats full decapsulation,
	// which is also where drop-disposition per §7 is recorded for
	// malformed headers found once the packet actually reaches a shard).
	Drops uint64
}

// Run reads until the source is exhausted (offline) or ctx-like done
// channel closes (live capture, stopped by the main loop's quit
// sequence). Each frame is copied into a pooled Packet, hashed by its
// decoded flow tuple, and handed to the dispatcher; a frame that can't be
// decoded far enough to compute a hash is dropped here rather than
// forwarded, since component A only knows how to route by flow, not how
// to decapsulate a whole tunnel stack on its own.
func (r *Reader) Run(done <-chan struct{}) error {
	for {
		select {
		case <-done:
			return nil
		default:
		}

		data, ci, err := r.Source.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "reader: capture source failed")
		}

		p := packetpool.Get()
		p.Data = append(p.Data[:0], data...)
		p.Timestamp = ci.Timestamp
		p.CapLen = ci.CaptureLength
		p.FullLen = ci.Length

		info, ok := decapFlow(p.Data)
		if !ok {
			r.Drops++
			packetpool.Put(p)
			continue
		}
		p.ThreadHash = flowHash(info)

		if !r.Engine.Dispatcher.TryDispatch(p) {
			// Bounded queue full: the documented fast-path disposition is
			// drop and count, never block the reader indefinitely.
			r.Drops++
			packetpool.Put(p)
		}
	}
}

// waitForDrain gives a reader a brief window to notice a closed done
// channel and return before the main loop proceeds with quiesce; it is
// not a substitute for the reader itself checking done, just a guard
// against it blocking on ReadPacketData past the point capture has
// already stopped producing frames.
func waitForDrain(readerDone <-chan struct{}) {
	select {
	case <-readerDone:
	case <-time.After(2 * time.Second):
		printer.Warningf("engine: reader did not stop within grace period\n")
	}
}
