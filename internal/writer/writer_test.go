package writer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkime-go/capture/internal/packetpool"
)

// newTestWriter builds a Writer whose uploader is never dereferenced, since
// every packet written here stays far below minPartSize and no file ever
// rolls - so no job is ever handed to the upload worker pool.
func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	c := testConfig()
	w := New(c, nil, 1, 65535, 2, true)
	t.Cleanup(func() { close(w.jobs) })
	return w
}

func TestWriterAssignsOnePerThreadFile(t *testing.T) {
	w := newTestWriter(t)
	now := time.Unix(1000, 0)

	f0a := w.currentFile(0, now)
	f0b := w.currentFile(0, now)
	f1 := w.currentFile(1, now)

	assert.Same(t, f0a, f0b)
	assert.NotSame(t, f0a, f1)
}

func TestWritePacketReturnsIncreasingPositions(t *testing.T) {
	w := newTestWriter(t)
	now := time.Unix(1000, 0)

	mkPacket := func() *packetpool.Packet {
		p := packetpool.Get()
		p.Data = []byte{1, 2, 3}
		p.Timestamp = now
		p.CapLen = 3
		p.FullLen = 3
		return p
	}

	pos1, err := w.WritePacket(0, mkPacket(), now)
	require.NoError(t, err)
	pos2, err := w.WritePacket(0, mkPacket(), now)
	require.NoError(t, err)

	assert.Less(t, pos1, pos2)
}

func TestQueueLengthReflectsInFlightAndQueuedCounts(t *testing.T) {
	w := newTestWriter(t)
	assert.Equal(t, 0, w.QueueLength())

	atomic.AddInt32(&w.queued, 2)
	atomic.AddInt32(&w.inFlight, 1)
	assert.Equal(t, 3, w.QueueLength())

	atomic.AddInt32(&w.queued, -2)
	atomic.AddInt32(&w.inFlight, -1)
	assert.Equal(t, 0, w.QueueLength())
}