package writer

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkime-go/capture/cfg"
)

func TestBlockCodecNoneIsPlainOffsets(t *testing.T) {
	var buf bytes.Buffer
	c := newBlockCodec(&buf, cfg.CompressionNone, 0, 1024)

	require.Equal(t, int64(0), c.Pos())
	n, err := c.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, int64(5), c.Pos())
	assert.Equal(t, int64(5), c.TotalWritten())
}

func TestBlockCodecGzipProducesIndependentMembers(t *testing.T) {
	var buf bytes.Buffer
	// A tiny block size forces a roll after nearly every write.
	c := newBlockCodec(&buf, cfg.CompressionGzip, 1, 8)

	_, err := c.Write([]byte("first block payload"))
	require.NoError(t, err)
	require.NoError(t, c.MaybeRoll())

	_, err = c.Write([]byte("second block payload"))
	require.NoError(t, err)
	require.NoError(t, c.Flush())

	// Two independently-decodable gzip members were concatenated; both
	// must be readable back to their original plaintext in sequence.
	r, err := gzip.NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	r.Multistream(true)
	var out bytes.Buffer
	_, err = out.ReadFrom(r)
	require.NoError(t, err)
	assert.Equal(t, "first block payloadsecond block payload", out.String())
}

func TestBlockCodecPosAdvancesWithinBlock(t *testing.T) {
	var buf bytes.Buffer
	c := newBlockCodec(&buf, cfg.CompressionGzip, 1, 1<<20)

	_, err := c.Write([]byte("abc"))
	require.NoError(t, err)
	blockStart, offset := UnpackFilePosition(c.Pos())
	assert.Equal(t, int64(0), blockStart)
	assert.Equal(t, uint32(3), offset)
}