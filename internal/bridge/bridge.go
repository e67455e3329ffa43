// Package bridge runs read-assemble-publish loop and keeps both links alive.
package bridge

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/vebridge/hardware/uart"
	"github.com/temoto/vebridge/helpers"
	"github.com/temoto/vebridge/internal/config"
	"github.com/temoto/vebridge/internal/metrics"
	"github.com/temoto/vebridge/log2"
	"github.com/temoto/vebridge/vedirect"
)

const DefaultCloseTimeout = 2 * time.Second

type Publisher interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	PublishFrame(fields map[string]string, ts time.Time) (int, error)
	Close(timeout time.Duration)
}

type Options struct {
	Device       string
	Baud         int
	OpenRetry    time.Duration
	ReopenRetry  time.Duration
	ConnectRetry time.Duration
	CloseTimeout time.Duration
	Frame        vedirect.Options
	Reserved     string
}

func OptionsFromConfig(c *config.Config) Options {
	return Options{
		Device:       c.Serial.Device,
		Baud:         c.Serial.Baudrate,
		OpenRetry:    c.SerialOpenRetry(),
		ReopenRetry:  c.SerialReopenRetry(),
		ConnectRetry: c.MqttConnectRetry(),
		CloseTimeout: DefaultCloseTimeout,
		Frame:        c.FrameOptions(),
		Reserved:     c.Frame.ReservedChars,
	}
}

// Bridge is built once in main and owns everything the loop touches.
// Assembler belongs to Run goroutine.
type Bridge struct {
	Alive   *alive.Alive
	Log     *log2.Log
	Metrics *metrics.Metrics

	// OnReady is called once both links are up for the first time.
	OnReady func()

	opt      Options
	uart     uart.Liner
	pub      Publisher
	asm      *vedirect.Assembler
	now      func() time.Time
	lastLine atomic_clock.Clock
	serial   link
	mqtt     link

	watchdog         func()
	watchdogInterval time.Duration
	watchdogLast     time.Time
}

func New(a *alive.Alive, log *log2.Log, opt Options, liner uart.Liner, pub Publisher, m *metrics.Metrics) *Bridge {
	if opt.CloseTimeout == 0 {
		opt.CloseTimeout = DefaultCloseTimeout
	}
	if opt.Reserved == "" {
		opt.Reserved = vedirect.DefaultReserved
	}
	return &Bridge{
		Alive:   a,
		Log:     log,
		Metrics: m,
		opt:     opt,
		uart:    liner,
		pub:     pub,
		asm:     vedirect.NewAssembler(opt.Frame),
		now:     time.Now,
	}
}

// SetClock replaces time source for assembler timestamps and idle guard.
func (b *Bridge) SetClock(now func() time.Time) { b.now = now }

// SetWatchdog makes loop call f at most once per interval.
func (b *Bridge) SetWatchdog(interval time.Duration, f func()) {
	b.watchdogInterval = interval
	b.watchdog = f
}

func (b *Bridge) SerialState() LinkState { return b.serial.Load() }
func (b *Bridge) MqttState() LinkState   { return b.mqtt.Load() }

// SinceLastLine is time since serial delivered last line, 0 if there was none.
func (b *Bridge) SinceLastLine() time.Duration {
	if b.lastLine.IsZero() {
		return 0
	}
	return atomic_clock.Since(&b.lastLine)
}

// MqttStateHandler is fed by publisher connect/lost events.
func (b *Bridge) MqttStateHandler(connected bool) {
	s := LinkDisconnected
	if connected {
		s = LinkConnected
	}
	b.setLink(&b.mqtt, metrics.LinkMqtt, s)
}

func (b *Bridge) setLink(l *link, name string, s LinkState) {
	if prev := l.Store(s); prev != s {
		b.Log.Debugf("link %s %s -> %s", name, prev, s)
	}
	b.Metrics.Link(name, s == LinkConnected)
}

// Run blocks until Alive is stopped or ctx is done.
// Returns only stop related errors, everything else is retried.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.Alive.Add(1) {
		return helpers.ErrStopped
	}
	defer b.Alive.Done()
	stop := b.Alive.StopChan()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			b.Alive.Stop()
		case <-stop:
			cancel()
		}
	}()

	b.Log.Infof("frame mode=%s max_records=%d max_bytes=%d idle=%v", b.opt.Frame.Mode, b.opt.Frame.MaxRecords, b.opt.Frame.MaxBytes, b.opt.Frame.IdleTimeout)
	defer b.shutdown()
	if err := b.connectMqtt(ctx, stop); err != nil {
		return nil
	}
	if err := b.openSerial(stop); err != nil {
		return nil
	}
	if b.OnReady != nil {
		b.OnReady()
	}
	for b.Alive.IsRunning() {
		b.step(stop)
	}
	return nil
}

func (b *Bridge) connectMqtt(ctx context.Context, stop <-chan struct{}) error {
	if b.mqtt.Load() != LinkConnected {
		b.setLink(&b.mqtt, metrics.LinkMqtt, LinkConnecting)
	}
	err := helpers.Retry(stop, helpers.NewFixedBackoff(b.opt.ConnectRetry), func() error {
		return b.pub.Connect(ctx)
	}, func(err error, delay time.Duration) {
		b.Log.Errorf("%v, retry in %v", err, delay)
	})
	if err == nil && b.pub.IsConnected() {
		b.setLink(&b.mqtt, metrics.LinkMqtt, LinkConnected)
	}
	return err
}

func (b *Bridge) openSerial(stop <-chan struct{}) error {
	b.setLink(&b.serial, metrics.LinkSerial, LinkConnecting)
	err := helpers.Retry(stop, helpers.NewFixedBackoff(b.opt.OpenRetry), func() error {
		return b.uart.Open(b.opt.Device, b.opt.Baud)
	}, func(err error, delay time.Duration) {
		b.Log.Errorf("serial open device=%s err=%v, retry in %v", b.opt.Device, err, delay)
	})
	if err != nil {
		return err
	}
	b.Log.Infof("serial open device=%s baud=%d", b.opt.Device, b.opt.Baud)
	b.setLink(&b.serial, metrics.LinkSerial, LinkConnected)
	return nil
}

func (b *Bridge) reopenSerial(stop <-chan struct{}, cause error) {
	b.Log.Errorf("serial fault device=%s err=%v", b.opt.Device, cause)
	b.setLink(&b.serial, metrics.LinkSerial, LinkDisconnected)
	if err := b.uart.Close(); err != nil {
		b.Log.Debugf("serial close err=%v", err)
	}
	b.outcome(b.asm.Reset())
	b.Metrics.SerialReopenInc()
	if !helpers.SleepStop(stop, b.opt.ReopenRetry) {
		return
	}
	_ = b.openSerial(stop)
}

// step is one loop iteration, panics are logged and loop continues.
func (b *Bridge) step(stop <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			b.Log.Errorf("loop panic: %v", r)
		}
	}()
	line, err := b.uart.ReadLine()
	now := b.now()
	b.outcome(b.asm.Tick(now))
	switch {
	case err == nil:
		b.lastLine.SetNow()
		frame, o := b.asm.Feed(line, now)
		b.outcome(o)
		if o == vedirect.OutcomeComplete {
			b.publish(frame)
		}
	case uart.IsTimeout(err):
	default:
		b.reopenSerial(stop, err)
	}
	b.notifyWatchdog(now)
}

func (b *Bridge) outcome(o vedirect.Outcome) {
	switch o {
	case vedirect.OutcomeSkip, vedirect.OutcomePending:
		return
	case vedirect.OutcomeDiscardChecksum, vedirect.OutcomeEmpty:
		b.Log.Debugf("frame %s", o)
	case vedirect.OutcomeDiscardRunaway, vedirect.OutcomeDiscardIdle, vedirect.OutcomeDiscardReset:
		b.Log.Infof("frame discarded: %s", o)
	}
	b.Metrics.Outcome(o)
}

func (b *Bridge) publish(f vedirect.Frame) {
	fields := f.Filtered(b.opt.Reserved)
	if len(fields) == 0 {
		b.Log.Debugf("frame has only reserved keys, skip")
		return
	}
	n, err := b.pub.PublishFrame(fields, f.Time)
	failed := 0
	if err != nil {
		failed = len(fields) + 1 - n
		if b.pub.IsConnected() {
			b.Log.Error(errors.Annotate(err, "frame publish"))
		} else {
			b.Log.Debugf("frame publish while mqtt offline err=%v", err)
		}
	} else {
		b.Log.Debugf("frame published fields=%d", len(fields))
	}
	b.Metrics.FramePublished(n, failed, f.Time)
}

func (b *Bridge) notifyWatchdog(now time.Time) {
	if b.watchdog == nil {
		return
	}
	if b.watchdogLast.IsZero() || now.Sub(b.watchdogLast) >= b.watchdogInterval {
		b.watchdogLast = now
		b.watchdog()
	}
}

func (b *Bridge) shutdown() {
	b.Log.Infof("shutdown frames %s", b.asm.Stat())
	b.pub.Close(b.opt.CloseTimeout)
	b.setLink(&b.mqtt, metrics.LinkMqtt, LinkDisconnected)
	if b.serial.Load() != LinkDisconnected {
		if err := b.uart.Close(); err != nil {
			b.Log.Errorf("serial close err=%v", err)
		}
		b.setLink(&b.serial, metrics.LinkSerial, LinkDisconnected)
	}
}
