package writer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackFilePositionRoundTrip(t *testing.T) {
	cases := []struct {
		blockStart int64
		offset     uint32
	}{
		{0, 0},
		{0, 1},
		{4096, 1337},
		{1 << 30, (1 << withinBlockBits) - 1},
	}
	for _, c := range cases {
		pos := PackFilePosition(c.blockStart, c.offset)
		gotBlock, gotOffset := UnpackFilePosition(pos)
		assert.Equal(t, c.blockStart, gotBlock)
		assert.Equal(t, c.offset, gotOffset)
	}
}

func TestPackFilePositionMasksOversizedOffset(t *testing.T) {
	pos := PackFilePosition(1, 1<<withinBlockBits)
	_, offset := UnpackFilePosition(pos)
	assert.Equal(t, uint32(0), offset)
}