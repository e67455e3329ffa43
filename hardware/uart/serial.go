package uart

import (
	"time"

	"github.com/juju/errors"
	"go.bug.st/serial"
)

const DefaultReadTimeout = time.Second

type serialUart struct {
	port        serial.Port
	readTimeout time.Duration
	lr          lineReader
}

func NewSerialUart(readTimeout time.Duration) *serialUart {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &serialUart{readTimeout: readTimeout}
}

func (self *serialUart) Open(path string, baud int) error {
	if self.port != nil {
		_ = self.Close()
	}
	if baud <= 0 {
		return errors.NotValidf("serial baud=%d", baud)
	}
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return errors.Annotatef(err, "serial open path=%s", path)
	}
	if err = port.SetReadTimeout(self.readTimeout); err != nil {
		_ = port.Close()
		return errors.Annotate(err, "serial set read timeout")
	}
	if err = port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return errors.Annotate(err, "serial reset input")
	}
	self.port = port
	self.lr.reset(port)
	return nil
}

func (self *serialUart) ReadLine() ([]byte, error) {
	if self.port == nil {
		return nil, errors.New("serial port is not open")
	}
	line, err := self.lr.readLine()
	if err != nil && !IsTimeout(err) {
		return nil, errors.Annotate(err, "serial read")
	}
	return line, err
}

func (self *serialUart) Close() error {
	if self.port == nil {
		return nil
	}
	err := self.port.Close()
	self.port = nil
	self.lr.reset(nil)
	return err
}
