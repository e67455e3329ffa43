// Package crc implements byte-wise checksums used on serial links.
package crc

// Sum8 is modulo-256 sum of all bytes, continuing from acc.
// VE.Direct text blocks are valid when Sum8 over the whole block is 0.
func Sum8(acc byte, data []byte) byte {
	for _, b := range data {
		acc += b
	}
	return acc
}

// Sum8Fix returns the byte that brings Sum8(acc, data) to zero.
func Sum8Fix(acc byte, data []byte) byte {
	return -Sum8(acc, data)
}
