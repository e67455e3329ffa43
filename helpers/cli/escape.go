package cli

import (
	"encoding/hex"

	"github.com/juju/errors"
)

// Unescape interprets \t \r \n \\ and \xHH in typed input.
func Unescape(s string) ([]byte, error) {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b = append(b, c)
			continue
		}
		if i+1 >= len(s) {
			return nil, errors.NotValidf("escape at end of %q", s)
		}
		i++
		switch s[i] {
		case 't':
			b = append(b, '\t')
		case 'r':
			b = append(b, '\r')
		case 'n':
			b = append(b, '\n')
		case '\\':
			b = append(b, '\\')
		case 'x':
			if i+3 > len(s) {
				return nil, errors.NotValidf("short \\x escape in %q", s)
			}
			x, err := hex.DecodeString(s[i+1 : i+3])
			if err != nil {
				return nil, errors.Annotatef(err, "escape in %q", s)
			}
			b = append(b, x[0])
			i += 2
		default:
			return nil, errors.NotValidf("escape \\%c in %q", s[i], s)
		}
	}
	return b, nil
}
