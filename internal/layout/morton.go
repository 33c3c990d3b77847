package layout

import "math/bits"

// Morton (Z-order) codes interleave the bits of two grid coordinates into a
// single integer whose ordering has spatial locality. The engine uses 24 bits
// per axis, so a full code occupies 48 bits of a uint64 and the finest grid
// cell sits at level maxLevel.
const (
	mortonBitsPerAxis = 24
	maxLevel          = mortonBitsPerAxis
	gridResolution    = 1 << mortonBitsPerAxis
)

// spreadBits inserts a zero bit between each of the low 32 bits of v.
func spreadBits(v uint64) uint64 {
	v &= 0x00000000ffffffff
	v = (v | v<<16) & 0x0000ffff0000ffff
	v = (v | v<<8) & 0x00ff00ff00ff00ff
	v = (v | v<<4) & 0x0f0f0f0f0f0f0f0f
	v = (v | v<<2) & 0x3333333333333333
	v = (v | v<<1) & 0x5555555555555555
	return v
}

// compactBits is the inverse of spreadBits: it drops every odd bit of v and
// packs the even bits together.
func compactBits(v uint64) uint64 {
	v &= 0x5555555555555555
	v = (v | v>>1) & 0x3333333333333333
	v = (v | v>>2) & 0x0f0f0f0f0f0f0f0f
	v = (v | v>>4) & 0x00ff00ff00ff00ff
	v = (v | v>>8) & 0x0000ffff0000ffff
	v = (v | v>>16) & 0x00000000ffffffff
	return v
}

// mortonEncode interleaves two grid coordinates, x in the even bits and y in
// the odd bits.
func mortonEncode(x, y uint32) uint64 {
	return spreadBits(uint64(x)) | spreadBits(uint64(y))<<1
}

// mortonX extracts the x grid coordinate from a code.
func mortonX(code uint64) uint32 {
	return uint32(compactBits(code))
}

// mortonY extracts the y grid coordinate from a code.
func mortonY(code uint64) uint32 {
	return uint32(compactBits(code >> 1))
}

// commonAncestorLevel returns the first (shallowest) level at which the cells
// of the two codes differ: maxLevel - floor(msb(a^b)/2). The lowest common
// ancestor of the two cells sits one level above the returned value. Equal
// codes share every cell, so the result is maxLevel+1.
func commonAncestorLevel(a, b uint64) int32 {
	if a == b {
		return maxLevel + 1
	}
	msb := bits.Len64(a^b) - 1
	return int32(maxLevel - msb/2)
}

// cellPrefix truncates a code to the cell that contains it at the given level.
func cellPrefix(code uint64, level int32) uint64 {
	shift := 2 * (maxLevel - uint(level))
	return code >> shift << shift
}
