package vedirect

import (
	"fmt"
	"strings"
	"time"

	"github.com/juju/errors"
)

const (
	DefaultSentinel      = "HSDS"
	DefaultChecksumField = "Checksum"
	DefaultMaxRecords    = 128
	DefaultMaxBytes      = 16 << 10
	DefaultIdleTimeout   = 8 * time.Second
)

type Mode uint8

const (
	// ModeChecksum publishes only frames with zero modulo 256 byte sum.
	// Only checksum field terminates a frame.
	ModeChecksum Mode = iota
	// ModeSentinel publishes on sentinel or checksum field without validation,
	// for firmware that omits or breaks checksums. Checksum field is kept as data.
	ModeSentinel
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "checksum":
		return ModeChecksum, nil
	case "sentinel":
		return ModeSentinel, nil
	}
	return 0, errors.NotValidf("frame mode=%q, expected checksum|sentinel", s)
}

func (m Mode) String() string {
	switch m {
	case ModeChecksum:
		return "checksum"
	case ModeSentinel:
		return "sentinel"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

type State uint8

const (
	StateEmpty State = iota
	StateAccumulating
)

func (s State) String() string {
	if s == StateAccumulating {
		return "accumulating"
	}
	return "empty"
}

// Outcome of one Feed/Tick/Reset call.
type Outcome uint8

const (
	OutcomeSkip     Outcome = iota // no frame open, input ignored
	OutcomePending                 // frame open, waiting for sentinel
	OutcomeComplete                // Frame returned, publish it
	OutcomeEmpty                   // sentinel without data fields
	OutcomeDiscardChecksum
	OutcomeDiscardRunaway
	OutcomeDiscardIdle
	OutcomeDiscardReset
	outcomeMax
)

var outcomeNames = [outcomeMax]string{"skip", "pending", "complete", "empty", "checksum", "runaway", "idle", "reset"}

func (o Outcome) String() string {
	if o < outcomeMax {
		return outcomeNames[o]
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}

func (o Outcome) Discarded() bool { return o >= OutcomeDiscardChecksum && o < outcomeMax }

// Outcomes lists final outcomes, handy for metric labels.
func Outcomes() []Outcome {
	return []Outcome{OutcomeComplete, OutcomeEmpty, OutcomeDiscardChecksum, OutcomeDiscardRunaway, OutcomeDiscardIdle, OutcomeDiscardReset}
}

type Stat struct {
	counts [outcomeMax]uint64
}

func (s Stat) Count(o Outcome) uint64 {
	if o >= outcomeMax {
		return 0
	}
	return s.counts[o]
}

func (s Stat) String() string {
	var b strings.Builder
	for _, o := range Outcomes() {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%d", o, s.counts[o])
	}
	return b.String()
}

type Options struct {
	Mode          Mode
	Sentinel      string // case-sensitive, not used in ModeChecksum
	ChecksumField string // case-insensitive
	MaxRecords    int
	MaxBytes      int           // raw line bytes of pending frame, records or not
	IdleTimeout   time.Duration // 0 disables idle guard
	SkipHex       bool
}

func DefaultOptions() Options {
	return Options{
		Mode:          ModeChecksum,
		Sentinel:      DefaultSentinel,
		ChecksumField: DefaultChecksumField,
		MaxRecords:    DefaultMaxRecords,
		MaxBytes:      DefaultMaxBytes,
		IdleTimeout:   DefaultIdleTimeout,
	}
}

// Frame is a completed telemetry block. Fields map is owned by receiver.
type Frame struct {
	Fields map[string]string
	Time   time.Time
}

func (f Frame) Filtered(reserved string) map[string]string {
	return FilterFields(f.Fields, reserved)
}

// Assembler accumulates lines into frames.
// Not safe for concurrent use, owned by one reader loop.
// Call Tick before Feed to run idle guard.
type Assembler struct {
	opt       Options
	state     State
	fields    map[string]string
	count     int
	size      int
	raw       []byte
	lastInput time.Time
	stat      Stat
}

func NewAssembler(opt Options) *Assembler {
	if opt.MaxRecords <= 0 {
		opt.MaxRecords = DefaultMaxRecords
	}
	if opt.MaxBytes <= 0 {
		opt.MaxBytes = DefaultMaxBytes
	}
	if opt.ChecksumField == "" {
		opt.ChecksumField = DefaultChecksumField
	}
	return &Assembler{opt: opt}
}

func (a *Assembler) Options() Options { return a.opt }
func (a *Assembler) State() State     { return a.state }
func (a *Assembler) Stat() Stat       { return a.stat }

// Count is number of records in pending frame.
func (a *Assembler) Count() int { return a.count }

// Raw bytes of pending frame, checksum mode only. Valid until next Feed.
func (a *Assembler) Raw() []byte { return a.raw }

// Feed processes one raw line including its terminator.
// Frame is meaningful only with OutcomeComplete.
func (a *Assembler) Feed(line []byte, now time.Time) (Frame, Outcome) {
	if a.opt.SkipHex && IsHexLine(line) {
		return Frame{}, a.touch(now)
	}
	rec, ok := ParseRecord(line)
	if a.state == StateEmpty {
		if !ok {
			return Frame{}, OutcomeSkip
		}
		a.begin()
	}
	a.lastInput = now
	a.size += len(line)
	if a.size > a.opt.MaxBytes {
		return Frame{}, a.discard(OutcomeDiscardRunaway)
	}
	if a.opt.Mode == ModeChecksum {
		a.raw = append(a.raw, line...)
	}
	if !ok {
		return Frame{}, OutcomePending
	}

	a.count++
	if a.count > a.opt.MaxRecords {
		return Frame{}, a.discard(OutcomeDiscardRunaway)
	}
	checksumField := strings.EqualFold(rec.Key, a.opt.ChecksumField)
	if !checksumField || a.opt.Mode == ModeSentinel {
		a.fields[rec.Key] = rec.Value
	}
	if checksumField || (a.opt.Mode == ModeSentinel && a.opt.Sentinel != "" && rec.Key == a.opt.Sentinel) {
		return a.finish(now)
	}
	return Frame{}, OutcomePending
}

// Tick runs idle guard. Returns OutcomeDiscardIdle if pending frame was dropped.
func (a *Assembler) Tick(now time.Time) Outcome {
	if a.state != StateAccumulating {
		return OutcomeSkip
	}
	if a.opt.IdleTimeout > 0 && now.Sub(a.lastInput) > a.opt.IdleTimeout {
		return a.discard(OutcomeDiscardIdle)
	}
	return OutcomePending
}

// Reset drops pending frame, e.g. after line source fault.
// Returns OutcomeSkip if there was nothing to drop.
func (a *Assembler) Reset() Outcome {
	if a.state != StateAccumulating {
		return OutcomeSkip
	}
	return a.discard(OutcomeDiscardReset)
}

func (a *Assembler) touch(now time.Time) Outcome {
	if a.state != StateAccumulating {
		return OutcomeSkip
	}
	a.lastInput = now
	return OutcomePending
}

func (a *Assembler) begin() {
	a.state = StateAccumulating
	a.fields = make(map[string]string, 32)
	a.count = 0
	a.size = 0
	a.raw = a.raw[:0]
}

func (a *Assembler) clear() {
	a.state = StateEmpty
	a.fields = nil
	a.count = 0
	a.size = 0
	a.raw = a.raw[:0]
}

func (a *Assembler) discard(o Outcome) Outcome {
	a.clear()
	a.stat.counts[o]++
	return o
}

func (a *Assembler) finish(now time.Time) (Frame, Outcome) {
	if a.opt.Mode == ModeChecksum && !ChecksumValid(a.raw) {
		return Frame{}, a.discard(OutcomeDiscardChecksum)
	}
	fields := a.fields
	if len(fields) == 0 {
		return Frame{}, a.discard(OutcomeEmpty)
	}
	a.clear()
	a.stat.counts[OutcomeComplete]++
	return Frame{Fields: fields, Time: now}, OutcomeComplete
}
