package uart

// Public API to easy create line source stubs to test your code.
import (
	"encoding/hex"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
)

// Mock Liner over plain reader, io.EOF is reported as link fault.
type nullUart struct {
	src io.Reader
	lr  lineReader
}

func NewNullUart(r io.Reader) *nullUart {
	u := &nullUart{src: r}
	u.lr.reset(r)
	return u
}

func (self *nullUart) Open(path string, baud int) error {
	self.lr.reset(self.src)
	return nil
}

func (self *nullUart) ReadLine() ([]byte, error) { return self.lr.readLine() }

func (self *nullUart) Close() error { return nil }

type MockRead struct {
	B     []byte
	Delay time.Duration
	Err   error
}

// MockSession scripts one Open..Close cycle.
// Exhausted reads keep returning ErrTimeout.
type MockSession struct {
	OpenErr error
	Reads   []MockRead
}

// MockUart plays MockSession per Open call.
// Open after last session fails with io.ErrClosedPipe.
type MockUart struct {
	mu       sync.Mutex
	sessions []MockSession
	opens    int
	closes   int
	path     string
	baud     int
	cur      *mockReader
	lr       lineReader
}

func NewMockUart(sessions ...MockSession) *MockUart {
	return &MockUart{sessions: sessions}
}

func (self *MockUart) Open(path string, baud int) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.path, self.baud = path, baud
	if self.opens >= len(self.sessions) {
		self.opens++
		return errors.Annotatef(io.ErrClosedPipe, "mock open path=%s", path)
	}
	s := self.sessions[self.opens]
	self.opens++
	if s.OpenErr != nil {
		return s.OpenErr
	}
	self.cur = &mockReader{vs: s.Reads}
	self.lr.reset(self.cur)
	return nil
}

func (self *MockUart) ReadLine() ([]byte, error) {
	self.mu.Lock()
	cur := self.cur
	self.mu.Unlock()
	if cur == nil {
		return nil, errors.New("mock uart is not open")
	}
	return self.lr.readLine()
}

func (self *MockUart) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.closes++
	self.cur = nil
	return nil
}

// Stat returns number of Open and Close calls.
func (self *MockUart) Stat() (opens, closes int) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.opens, self.closes
}

func (self *MockUart) Params() (string, int) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.path, self.baud
}

// Done reports all scripted sessions were opened and read to the end.
func (self *MockUart) Done() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.opens >= len(self.sessions) && (self.cur == nil || self.cur.exhausted())
}

type mockReader struct {
	mu  sync.Mutex
	pos int
	off int
	vs  []MockRead
}

func (self *mockReader) exhausted() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.pos >= len(self.vs)
}

func (self *mockReader) Read(p []byte) (int, error) {
	self.mu.Lock()
	if self.pos >= len(self.vs) {
		self.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	mr := self.vs[self.pos]
	if self.off == 0 && mr.Delay != 0 {
		self.mu.Unlock()
		time.Sleep(mr.Delay)
		self.mu.Lock()
	}
	if mr.Err != nil {
		self.pos++
		self.mu.Unlock()
		return 0, mr.Err
	}
	n := copy(p, mr.B[self.off:])
	self.off += n
	if self.off >= len(mr.B) {
		self.pos++
		self.off = 0
	}
	self.mu.Unlock()
	return n, nil
}

// MockLines makes one read per line, "\n" is appended when missing.
func MockLines(lines ...string) []MockRead {
	rs := make([]MockRead, 0, len(lines))
	for _, l := range lines {
		if !strings.HasSuffix(l, "\n") {
			l += "\n"
		}
		rs = append(rs, MockRead{B: []byte(l)})
	}
	return rs
}

// ParseMockReads parses compact script like "b5609 d50ms,b0d0a t eIO".
// Effects are space separated, tokens within effect comma separated:
// b<hex> data, d<duration> delay before read, e<text> error, t read timeout.
func ParseMockReads(s string) ([]MockRead, error) {
	var rs []MockRead
	for _, es := range strings.Fields(s) {
		mr := MockRead{}
		for _, token := range strings.Split(es, ",") {
			if token == "" {
				continue
			}
			switch token[0] {
			case 'b':
				b, err := hex.DecodeString(token[1:])
				if err != nil {
					return nil, errors.Annotatef(err, "mock token=%s", token)
				}
				mr.B = b
			case 'd':
				d, err := time.ParseDuration(token[1:])
				if err != nil {
					return nil, errors.Annotatef(err, "mock token=%s", token)
				}
				mr.Delay = d
			case 'e':
				mr.Err = errors.New(token[1:])
			case 't':
				mr.B = nil
			default:
				return nil, errors.NotValidf("mock token=%s", token)
			}
		}
		rs = append(rs, mr)
	}
	return rs, nil
}
