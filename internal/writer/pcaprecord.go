// pcaprecord.go implements the classic libpcap savefile framing the
// writer emits: a 24-byte global header followed by one 16-byte record
// header per packet. The layout is intentionally identical to libpcap's
// on-disk format (§6, "Writer output format") so any pcap-compatible tool
// can read an uncompressed capture, and so a random-access reader that
// has decompressed a single block can parse it without special-casing.
package writer

import "encoding/binary"

const (
	pcapMagic        = 0xa1b2c3d4
	pcapVersionMajor  = 2
	pcapVersionMinor  = 4
	pcapRecordHdrLen  = 16
	pcapGlobalHdrLen  = 24
)

// FileHeader renders the 24-byte pcap global header for the given link
// type and snap length.
func FileHeader(linkType uint32, snapLen uint32) []byte {
	b := make([]byte, pcapGlobalHdrLen)
	binary.LittleEndian.PutUint32(b[0:4], pcapMagic)
	binary.LittleEndian.PutUint16(b[4:6], pcapVersionMajor)
	binary.LittleEndian.PutUint16(b[6:8], pcapVersionMinor)
	// thiszone, sigfigs left zero
	binary.LittleEndian.PutUint32(b[16:20], snapLen)
	binary.LittleEndian.PutUint32(b[20:24], linkType)
	return b
}

// RecordHeader renders the 16-byte per-packet header: capture timestamp
// (seconds, microseconds), captured length, and original wire length.
func RecordHeader(tsSec, tsUsec uint32, capLen, origLen uint32) []byte {
	b := make([]byte, pcapRecordHdrLen)
	binary.LittleEndian.PutUint32(b[0:4], tsSec)
	binary.LittleEndian.PutUint32(b[4:8], tsUsec)
	binary.LittleEndian.PutUint32(b[8:12], capLen)
	binary.LittleEndian.PutUint32(b[12:16], origLen)
	return b
}