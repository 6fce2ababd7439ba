package writer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkime-go/capture/cfg"
	"github.com/arkime-go/capture/internal/packetpool"
)

func testConfig() cfg.Config {
	c := cfg.Defaults()
	c.Node = "testnode"
	c.S3Compression = cfg.CompressionNone
	return c
}

func TestNewFileWritesGlobalHeader(t *testing.T) {
	c := testConfig()
	f := newFile(c, c.Node, 0, time.Unix(1000, 0), 1, 65535)

	assert.Equal(t, int64(pcapGlobalHdrLen), f.codec.TotalWritten())
	assert.Contains(t, f.key, "testnode")
}

func TestAppendPacketAdvancesPositionAndStats(t *testing.T) {
	c := testConfig()
	f := newFile(c, c.Node, 0, time.Unix(1000, 0), 1, 65535)

	p := packetpool.Get()
	p.Data = []byte{1, 2, 3, 4}
	p.Timestamp = time.Unix(1000, 500000)
	p.CapLen = 4
	p.FullLen = 4

	pos := f.AppendPacket(p)
	assert.Equal(t, int64(pcapGlobalHdrLen), pos)
	assert.Equal(t, uint64(1), f.packets)
	assert.Equal(t, uint64(4), f.bytesWritten)

	wantTotal := int64(pcapGlobalHdrLen + pcapRecordHdrLen + len(p.Data))
	assert.Equal(t, wantTotal, f.codec.TotalWritten())
}

func TestShouldRollOnSize(t *testing.T) {
	c := testConfig()
	f := newFile(c, c.Node, 0, time.Unix(1000, 0), 1, 65535)
	f.maxFileSizeB = pcapGlobalHdrLen // already exceeded by the header alone

	require.True(t, f.ShouldRoll(time.Unix(1000, 0)))
}

func TestShouldRollOnAge(t *testing.T) {
	c := testConfig()
	f := newFile(c, c.Node, 0, time.Unix(1000, 0), 1, 65535)
	f.maxFileAge = time.Minute

	assert.False(t, f.ShouldRoll(time.Unix(1000, 0)))
	assert.True(t, f.ShouldRoll(time.Unix(1000, 0).Add(2*time.Minute)))
}