package writer

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileHeaderLayout(t *testing.T) {
	h := FileHeader(1, 65535)
	if assert.Len(t, h, pcapGlobalHdrLen) {
		assert.Equal(t, uint32(pcapMagic), binary.LittleEndian.Uint32(h[0:4]))
		assert.Equal(t, uint16(pcapVersionMajor), binary.LittleEndian.Uint16(h[4:6]))
		assert.Equal(t, uint16(pcapVersionMinor), binary.LittleEndian.Uint16(h[6:8]))
		assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(h[20:24]))
		assert.Equal(t, uint32(65535), binary.LittleEndian.Uint32(h[16:20]))
	}
}

func TestRecordHeaderLayout(t *testing.T) {
	h := RecordHeader(100, 200, 60, 1500)
	if assert.Len(t, h, pcapRecordHdrLen) {
		assert.Equal(t, uint32(100), binary.LittleEndian.Uint32(h[0:4]))
		assert.Equal(t, uint32(200), binary.LittleEndian.Uint32(h[4:8]))
		assert.Equal(t, uint32(60), binary.LittleEndian.Uint32(h[8:12]))
		assert.Equal(t, uint32(1500), binary.LittleEndian.Uint32(h[12:16]))
	}
}