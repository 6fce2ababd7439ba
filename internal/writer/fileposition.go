package writer

// withinBlockBits is the number of low bits a packed file position reserves
// for the offset within a compression block (§4.G): up to 1 MiB of
// decompressed data per block before a new one is forced.
const withinBlockBits = 20

const withinBlockMask = (1 << withinBlockBits) - 1

// PackFilePosition combines a compressed block-start offset and an
// in-block decompressed offset into the single int64 stored as a packet's
// writerFilePos: (blockStart << 20) | offsetInBlock.
func PackFilePosition(blockStart int64, offsetInBlock uint32) int64 {
	return (blockStart << withinBlockBits) | int64(offsetInBlock&withinBlockMask)
}

// UnpackFilePosition splits a packed writerFilePos back into its
// compressed block-start offset and in-block decompressed offset, the
// inverse of PackFilePosition. A reader fetches the compressed region
// starting at blockStart, decompresses it as an independent unit, and
// skips offsetInBlock bytes to reach the packet's pcap record header.
func UnpackFilePosition(pos int64) (blockStart int64, offsetInBlock uint32) {
	return pos >> withinBlockBits, uint32(pos & withinBlockMask)
}