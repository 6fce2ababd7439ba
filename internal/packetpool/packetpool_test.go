package packetpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetPutResetsPacket(t *testing.T) {
	p := Get()
	p.Data = append(p.Data, 1, 2, 3)
	p.CapLen = 3
	Put(p)

	p2 := Get()
	assert.Equal(t, 0, len(p2.Data))
	assert.Equal(t, 0, p2.CapLen)
}

func TestDispatchSameHashSameShard(t *testing.T) {
	d := NewDispatcher(4, 8)

	p1 := &Packet{ThreadHash: 5}
	p2 := &Packet{ThreadHash: 9} // 5 % 4 == 9 % 4 == 1
	d.Dispatch(p1)
	d.Dispatch(p2)

	got1 := <-d.Shard(1)
	got2 := <-d.Shard(1)
	assert.Same(t, p1, got1)
	assert.Same(t, p2, got2)
}

func TestTryDispatchReportsFullQueue(t *testing.T) {
	d := NewDispatcher(1, 1)
	assert.True(t, d.TryDispatch(&Packet{}))
	assert.False(t, d.TryDispatch(&Packet{}))
}

func TestNewDispatcherClampsMinimums(t *testing.T) {
	d := NewDispatcher(0, 0)
	assert.Equal(t, 1, d.NumShards())
}