package writer

import (
	"io"

	"github.com/DataDog/zstd"
	"github.com/klauspost/compress/gzip"

	"github.com/arkime-go/capture/cfg"
)

// blockCodec wraps a single compressed output stream with forced block
// boundaries: every blockSize (post-compression) bytes, the current
// compressor is finalized and a fresh one started, so any block can be
// decompressed independently starting at its own byte offset (§4.G,
// testable property 5). This mirrors writer-s3.c's "full-flush"/"end of
// frame" boundary, expressed in Go as a sequence of independently
// decodable members rather than a mid-stream dictionary-reset flush,
// since neither klauspost/compress/gzip nor DataDog/zstd expose
// Z_FULL_FLUSH-style resets without ending the stream.
type blockCodec struct {
	out         io.Writer // the underlying accumulating buffer for the active writer file
	kind        cfg.Compression
	level       int
	blockSizeB  int64 // forced boundary, post-compression, from s3CompressionBlockSize

	cur          io.WriteCloser // nil for CompressionNone
	blockStart   int64          // compressed offset where the current block began
	actualPos    int64          // total compressed bytes written so far (tracked via countingWriter)
	offsetInBlk  uint32         // decompressed bytes written into the current block
	counting     *countingWriter
}

// countingWriter tracks total bytes written through it, letting the codec
// compute outputActualFilePos without depending on the compressor's own
// internal counters (which differ between gzip and zstd).
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// newBlockCodec creates a codec writing compressed bytes to out. For
// CompressionNone, writes pass through unmodified and positions are plain
// byte offsets.
func newBlockCodec(out io.Writer, kind cfg.Compression, level int, blockSizeB int) *blockCodec {
	return &blockCodec{
		out:        out,
		kind:       kind,
		level:      level,
		blockSizeB: int64(blockSizeB),
		counting:   &countingWriter{w: out},
	}
}

func (c *blockCodec) openBlock() error {
	if c.cur != nil {
		return nil
	}
	c.blockStart = c.counting.n
	c.offsetInBlk = 0
	switch c.kind {
	case cfg.CompressionGzip:
		lvl := c.level
		if lvl <= 0 {
			lvl = gzip.DefaultCompression
		}
		gw, err := gzip.NewWriterLevel(c.counting, lvl)
		if err != nil {
			return err
		}
		c.cur = gw
	case cfg.CompressionZstd:
		lvl := c.level
		if lvl <= 0 {
			lvl = zstd.DefaultCompression
		}
		c.cur = zstd.NewWriterLevel(c.counting, lvl)
	}
	return nil
}

// Pos returns the packed writer-file-position a packet record header
// written right now would receive.
func (c *blockCodec) Pos() int64 {
	if c.kind == cfg.CompressionNone {
		return c.counting.n
	}
	return PackFilePosition(c.blockStart, c.offsetInBlk)
}

// Write appends data to the current block, opening one if none is active.
func (c *blockCodec) Write(data []byte) (int, error) {
	if c.kind == cfg.CompressionNone {
		return c.counting.Write(data)
	}
	if err := c.openBlock(); err != nil {
		return 0, err
	}
	n, err := c.cur.Write(data)
	c.offsetInBlk += uint32(n)
	return n, err
}

// MaybeRoll forces a new block to begin if the current one has grown past
// its configured size or is nearing the 20-bit within-block offset limit,
// matching append_to_output's post-packet boundary check in writer-s3.c.
func (c *blockCodec) MaybeRoll() error {
	if c.kind == cfg.CompressionNone || c.cur == nil {
		return nil
	}
	tooBig := c.counting.n-c.blockStart > c.blockSizeB
	nearOverflow := c.offsetInBlk >= (1<<withinBlockBits)-16
	if tooBig || nearOverflow {
		return c.newBlock()
	}
	return nil
}

// newBlock finalizes the current compressor (ending its gzip member or
// zstd frame, making the bytes written so far independently decodable)
// and clears state so the next Write opens a fresh one.
func (c *blockCodec) newBlock() error {
	if c.cur == nil {
		return nil
	}
	err := c.cur.Close()
	c.cur = nil
	return err
}

// Flush finalizes any open block without starting a new one; used when
// rolling or closing the file entirely.
func (c *blockCodec) Flush() error {
	return c.newBlock()
}

// TotalWritten returns the total compressed bytes emitted so far, the
// writer-file's outputActualFilePos.
func (c *blockCodec) TotalWritten() int64 {
	return c.counting.n
}