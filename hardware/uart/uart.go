// Package uart provides line oriented reading from serial devices.
package uart

import (
	"bytes"
	"io"

	"github.com/juju/errors"
)

// MaxLine limits buffered line length. Longer input is returned in MaxLine chunks.
const MaxLine = 512

type ErrTimeoutT string

type Timeouter interface {
	Timeout() bool
}

func (e ErrTimeoutT) Error() string { return string(e) }
func (ErrTimeoutT) Timeout() bool   { return true }

const ErrTimeout = ErrTimeoutT("uart: read timeout")

// IsTimeout tells "no data yet" apart from transport faults.
func IsTimeout(err error) bool {
	if errors.IsTimeout(err) {
		return true
	}
	if t, ok := errors.Cause(err).(Timeouter); ok {
		return t.Timeout()
	}
	return false
}

// Liner delivers one LF terminated line at a time.
// ReadLine returns ErrTimeout when no complete line arrived within read timeout,
// any other error means the link is broken and must be reopened.
// Returned slice is valid until next ReadLine.
type Liner interface {
	Open(path string, baud int) error
	ReadLine() ([]byte, error)
	Close() error
}

// lineReader splits io.Reader into lines.
// Reader must return (0, nil) on timeout, like go.bug.st/serial with read timeout set.
// store[:b] already consumed, store[b:l] ready to consume, store[l:] space for reads
type lineReader struct {
	r     io.Reader
	store [MaxLine]byte
	b, l  int
}

func (lr *lineReader) reset(r io.Reader) {
	lr.r = r
	lr.b, lr.l = 0, 0
}

func (lr *lineReader) readLine() ([]byte, error) {
	for {
		if lr.l > lr.b {
			if di := bytes.IndexByte(lr.store[lr.b:lr.l], '\n'); di >= 0 {
				line := lr.store[lr.b : lr.b+di+1]
				lr.b += di + 1
				return line, nil
			}
		}
		if lr.b > 0 {
			lr.l = copy(lr.store[:], lr.store[lr.b:lr.l])
			lr.b = 0
		}
		if lr.l == len(lr.store) {
			lr.b = lr.l
			return lr.store[:lr.l], nil
		}
		n, err := lr.r.Read(lr.store[lr.l:])
		lr.l += n
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, ErrTimeout
		}
	}
}
