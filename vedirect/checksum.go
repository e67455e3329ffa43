package vedirect

import (
	"bytes"

	"github.com/temoto/vebridge/crc"
)

var lineEnd = []byte("\r\n")

// ChecksumValid reports whether raw frame bytes sum to zero modulo 256.
//
// Line reader splits on LF, so a checksum byte equal to LF ends the line early
// and the CR LF of the block arrives as a separate line after the frame.
// That case is accepted when adding the missing CR LF zeroes the sum.
func ChecksumValid(raw []byte) bool {
	sum := crc.Sum8(0, raw)
	if sum == 0 {
		return true
	}
	if bytes.HasSuffix(raw, []byte{Separator, '\n'}) {
		return crc.Sum8(sum, lineEnd) == 0
	}
	return false
}

// ChecksumLine returns "<key>\t<byte>\r\n" which completes raw into a valid frame.
func ChecksumLine(raw []byte, key string) []byte {
	line := make([]byte, 0, len(key)+4)
	line = append(line, key...)
	line = append(line, Separator)
	fix := crc.Sum8Fix(crc.Sum8(crc.Sum8(0, raw), line), lineEnd)
	line = append(line, fix)
	line = append(line, lineEnd...)
	return line
}
