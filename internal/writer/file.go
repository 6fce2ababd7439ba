package writer

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arkime-go/capture/cfg"
	"github.com/arkime-go/capture/internal/packetpool"
)

// minPartSize is the S3 multipart minimum for any part but the last
// (§4.G, "uploaded in numbered parts of at least 5 MiB").
const minPartSize = 5 * 1024 * 1024

// File is one active output artifact owned by a single packet thread:
// the accumulating compressed buffer, the multipart upload it is being
// sent through, and the roll triggers that eventually close it.
type File struct {
	key      string
	uploadID string

	codec   *blockCodec
	pending bytes.Buffer // compressed bytes not yet handed off as a part

	// partNumber is the last part number assigned; assignment happens
	// serially on the packet thread inside Writer.enqueueReadyParts so a
	// chunk's number always matches its position in the file, even though
	// the chunks themselves are uploaded concurrently and may be acked out
	// of order by the worker pool.
	partNumber int32
	parts      []Part // completed parts, appended in ack order, not part-number order
	settled    int32  // count of parts the worker pool has finished with (ok or failed)
	failed     bool   // true once any part PUT for this file has failed

	// beginOnce/abortOnce ensure exactly one CreateMultipartUpload and at
	// most one AbortMultipartUpload call happen per file even though many
	// worker goroutines may race to process this file's first/failing job.
	beginOnce sync.Once
	beginErr  error
	abortOnce sync.Once

	packets      uint64
	bytesWritten uint64
	openedAt     time.Time

	maxFileSizeB int64
	maxFileAge   time.Duration
}

func newFile(c cfg.Config, node string, threadIdx int, now time.Time, linkType, snapLen uint32) *File {
	f := &File{
		// uuid suffix (not just node-thread-timestamp) keeps keys unique
		// across a clock that jumps backward (NTP step) or a restart
		// within the same nanosecond bucket.
		key:          fmt.Sprintf("%s-%d-%d-%s.pcap", node, threadIdx, now.UnixNano(), uuid.New().String()[0:8]),
		openedAt:     now,
		maxFileSizeB: c.EffectiveMaxFileSizeB(),
	}
	if c.MaxFileTimeM > 0 {
		f.maxFileAge = time.Duration(c.MaxFileTimeM) * time.Minute
	}
	f.codec = newBlockCodec(&f.pending, c.S3Compression, c.S3CompressionLevel, c.S3CompressionBlockSize)
	header := FileHeader(linkType, snapLen)
	f.codec.Write(header)
	f.codec.MaybeRoll()
	return f
}

// AppendPacket writes one packet's record header then its payload to the
// file, returning the packed writer-file-position recorded on the
// packet's header write (§4.G, append_to_output's two-call contract).
func (f *File) AppendPacket(p *packetpool.Packet) int64 {
	sec := uint32(p.Timestamp.Unix())
	usec := uint32(p.Timestamp.Nanosecond() / 1000)

	pos := f.codec.Pos()
	header := RecordHeader(sec, usec, uint32(p.CapLen), uint32(p.FullLen))
	f.codec.Write(header)
	f.codec.Write(p.Data)
	f.codec.MaybeRoll()

	f.packets++
	f.bytesWritten += uint64(len(p.Data))
	return pos
}

// ShouldRoll reports whether this file has crossed a size or age
// threshold and should be rolled, per §4.G's per-file roll triggers.
func (f *File) ShouldRoll(now time.Time) bool {
	if f.codec.TotalWritten() >= f.maxFileSizeB {
		return true
	}
	if f.maxFileAge > 0 && now.Sub(f.openedAt) >= f.maxFileAge {
		return true
	}
	return false
}

// Draining and completion of a file's parts is owned by Writer (see
// enqueueReadyParts/rollLocked/awaitAndComplete in writer.go), which
// dispatches to the shared upload worker pool instead of blocking the
// packet thread that calls AppendPacket.