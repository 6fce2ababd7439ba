package engine

import (
	"context"
	"time"

	"github.com/arkime-go/capture/internal/packetpool"
)

// DiscardWriter is a PacketWriter/Quiescer that tracks sessions and runs
// every classifier and dissector without ever persisting a packet; it
// backs --dryrun and any run with no s3Bucket configured, letting the
// rest of the pipeline (decap, session table, classification) be
// exercised without AWS credentials.
type DiscardWriter struct{}

func (DiscardWriter) WritePacket(threadIdx int, p *packetpool.Packet, now time.Time) (int64, error) {
	return 0, nil
}

func (DiscardWriter) Quiesce(ctx context.Context) {}

func (DiscardWriter) QueueLength() int { return 0 }
