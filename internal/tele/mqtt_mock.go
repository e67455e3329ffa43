package tele

import (
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
)

// MqttMock is mqtt.Client recording published messages into Pub.
// Connect fails with ConnectErrs in order, then succeeds and calls OnConnect handler.
type MqttMock struct {
	mu          sync.Mutex
	Opt         *mqtt.ClientOptions
	Pub         chan MockMsg
	ConnectErrs []error
	PublishErr  error
	connects    int
	connected   bool
}

var _ mqtt.Client = (*MqttMock)(nil)

func NewMqttMock() *MqttMock {
	return &MqttMock{Pub: make(chan MockMsg, 1024)}
}

// MockNew is ClientFactory.
func (self *MqttMock) MockNew(opt *mqtt.ClientOptions) mqtt.Client {
	self.mu.Lock()
	self.Opt = opt
	self.mu.Unlock()
	return self
}

func (self *MqttMock) Connects() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.connects
}

// Drop simulates network failure.
func (self *MqttMock) Drop(err error) {
	self.mu.Lock()
	self.connected = false
	opt := self.Opt
	self.mu.Unlock()
	if opt != nil && opt.OnConnectionLost != nil {
		opt.OnConnectionLost(self, err)
	}
}

// Expect reads next published message or fails test after timeout.
func (self *MqttMock) Expect(t testing.TB, timeout time.Duration) MockMsg {
	t.Helper()
	select {
	case msg := <-self.Pub:
		return msg
	case <-time.After(timeout):
		t.Fatalf("mqtt mock: no publish within %v", timeout)
	}
	return MockMsg{}
}

// Drain returns already published messages without waiting.
func (self *MqttMock) Drain() []MockMsg {
	var ms []MockMsg
	for {
		select {
		case msg := <-self.Pub:
			ms = append(ms, msg)
		default:
			return ms
		}
	}
}

func (self *MqttMock) Disconnect(uint) {
	self.mu.Lock()
	self.connected = false
	self.mu.Unlock()
}

func (self *MqttMock) IsConnected() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.connected
}
func (self *MqttMock) IsConnectionOpen() bool { return self.IsConnected() }

func (self *MqttMock) Connect() mqtt.Token {
	self.mu.Lock()
	i := self.connects
	self.connects++
	if i < len(self.ConnectErrs) && self.ConnectErrs[i] != nil {
		err := self.ConnectErrs[i]
		self.mu.Unlock()
		return newMockToken(err)
	}
	self.connected = true
	opt := self.Opt
	self.mu.Unlock()
	if opt != nil && opt.OnConnect != nil {
		opt.OnConnect(self)
	}
	return newMockToken(nil)
}

func (self *MqttMock) Publish(topic string, qos byte, retain bool, payload interface{}) mqtt.Token {
	self.mu.Lock()
	connected, perr := self.connected, self.PublishErr
	self.mu.Unlock()
	if !connected {
		return newMockToken(mqtt.ErrNotConnected)
	}
	if perr != nil {
		return newMockToken(perr)
	}
	var p []byte
	switch x := payload.(type) {
	case string:
		p = []byte(x)
	case []byte:
		p = x
	default:
		return newMockToken(errors.NotSupportedf("payload type %T", payload))
	}
	self.Pub <- MockMsg{T: topic, P: p, Q: qos, R: retain}
	return newMockToken(nil)
}

// Publisher never subscribes.
func (self *MqttMock) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	return newMockToken(nil)
}
func (self *MqttMock) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return newMockToken(nil)
}
func (self *MqttMock) Unsubscribe(...string) mqtt.Token { return newMockToken(nil) }
func (self *MqttMock) AddRoute(string, mqtt.MessageHandler) {}

func (self *MqttMock) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

type mockToken struct {
	err  error
	done chan struct{}
}

func newMockToken(err error) mockToken {
	tok := mockToken{err: err, done: make(chan struct{})}
	close(tok.done)
	return tok
}

func (tok mockToken) Error() error                   { return tok.err }
func (tok mockToken) Wait() bool                     { return true }
func (tok mockToken) WaitTimeout(time.Duration) bool { return true }
func (tok mockToken) Done() <-chan struct{}          { return tok.done }

type MockMsg struct {
	T string
	P []byte
	Q byte
	R bool
}

func (msg MockMsg) Ack()              {}
func (msg MockMsg) Duplicate() bool   { return false }
func (msg MockMsg) MessageID() uint16 { return 0 }
func (msg MockMsg) Payload() []byte   { return msg.P }
func (msg MockMsg) Qos() byte         { return msg.Q }
func (msg MockMsg) Retained() bool    { return msg.R }
func (msg MockMsg) Topic() string     { return msg.T }
