// Package vedirect reassembles the VE.Direct text protocol into frames.
//
// Device sends blocks of "<label>\t<value>\r\n" lines. A block ends with
// Checksum line, its value is one byte that makes modulo 256 sum of all block
// bytes zero. Some firmware also marks end of telemetry with HSDS field.
package vedirect

import (
	"bytes"
	"strings"
)

const (
	Separator     = '\t'
	hexLinePrefix = ':'
)

type Record struct {
	Key   string
	Value string
}

// ParseRecord decodes one raw line into a Record.
// Invalid UTF-8 is dropped. Line without Separator is not a record.
// Only line terminators are stripped before splitting so that
// a whitespace checksum byte does not eat the separator.
func ParseRecord(raw []byte) (Record, bool) {
	s := strings.ToValidUTF8(string(raw), "")
	s = strings.TrimLeft(s, " \t\r\n\v\f")
	s = strings.TrimRight(s, "\r\n")
	if s == "" {
		return Record{}, false
	}
	i := strings.IndexByte(s, Separator)
	if i < 0 {
		return Record{}, false
	}
	r := Record{
		Key:   strings.TrimSpace(s[:i]),
		Value: strings.TrimSpace(s[i+1:]),
	}
	return r, true
}

// IsHexLine reports asynchronous HEX protocol message, e.g. ":A0102000543\n".
func IsHexLine(raw []byte) bool {
	raw = bytes.TrimLeft(raw, "\r\n")
	return len(raw) > 0 && raw[0] == hexLinePrefix
}
