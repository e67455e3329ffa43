// Package tele publishes VE.Direct frames to MQTT broker.
package tele

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/vebridge/helpers"
	"github.com/temoto/vebridge/log2"
)

const (
	statusQos           = 1
	defaultCloseTimeout = 2 * time.Second
	disconnectQuiesceMs = 250
)

type ClientFactory func(*mqtt.ClientOptions) mqtt.Client

// Publisher contract:
// - New fails only with invalid config
// - Connect is one attempt, caller retries; after first success paho reconnects by itself
// - status topic gets retained "online" on every (re)connect, "offline" via will or Close
// - Publish* do not block unless publish_wait_ms is set
type Publisher struct {
	config    Config
	log       *log2.Log
	newClient ClientFactory
	m         mqtt.Client
	mopt      *mqtt.ClientOptions
	qos       byte
	wait      time.Duration
	connected uint32
	onState   func(connected bool)
}

func New(log *log2.Log, c Config, newClient ClientFactory) (*Publisher, error) {
	if c.Qos < 0 || c.Qos > 1 {
		return nil, errors.NotValidf("mqtt qos=%d", c.Qos)
	}
	if c.TopicPrefix == "" || c.StatusTopic == "" {
		return nil, errors.NotValidf("mqtt empty topic prefix=%q status=%q", c.TopicPrefix, c.StatusTopic)
	}
	if c.ClientID == "" {
		c.ClientID = GenerateClientID()
	}
	if newClient == nil {
		newClient = mqtt.NewClient
	}
	self := &Publisher{
		config:    c,
		log:       log,
		newClient: newClient,
		qos:       byte(c.Qos),
		wait:      helpers.IntMillisecondDefault(c.PublishWaitMs, 0),
	}
	self.mopt = self.clientOptions()
	self.m = self.newClient(self.mopt)
	return self, nil
}

func GenerateClientID() string {
	return "vebridge-" + strings.SplitN(uuid.New().String(), "-", 2)[0]
}

// SetLogger routes paho internal logging.
// Paho loggers are process global, call once from main.
func SetLogger(log *log2.Log, debug bool) {
	mqtt.ERROR = log
	mqtt.CRITICAL = log
	mqtt.WARN = log
	if debug {
		mqtt.DEBUG = log
	}
}

func (self *Publisher) Config() Config { return self.config }

func (self *Publisher) BrokerURL() string {
	return "tcp://" + net.JoinHostPort(self.config.Host, strconv.Itoa(self.config.Port))
}

// SetStateHandler is called from paho goroutines on connect and connection loss.
func (self *Publisher) SetStateHandler(f func(connected bool)) { self.onState = f }

func (self *Publisher) clientOptions() *mqtt.ClientOptions {
	c := &self.config
	opt := mqtt.NewClientOptions().
		AddBroker(self.BrokerURL()).
		SetClientID(c.ClientID).
		SetCleanSession(true).
		SetWill(c.StatusTopic, PayloadOffline, statusQos, true).
		SetKeepAlive(helpers.IntSecondDefault(c.KeepaliveSec, 60*time.Second)).
		SetPingTimeout(helpers.IntSecondDefault(c.PingTimeoutSec, 10*time.Second)).
		SetConnectTimeout(helpers.IntSecondDefault(c.ConnectTimeoutSec, 10*time.Second)).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetMaxReconnectInterval(helpers.IntSecondDefault(c.ConnectRetrySec, 5*time.Second)).
		SetOrderMatters(false).
		SetOnConnectHandler(self.onConnectHandler).
		SetConnectionLostHandler(self.connectLostHandler)
	if c.Username != "" {
		opt.SetUsername(c.Username)
		opt.SetPassword(c.Password)
	}
	return opt
}

// Connect makes single connection attempt bounded by ctx and connect timeout.
func (self *Publisher) Connect(ctx context.Context) error {
	tok := self.m.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return errors.Annotatef(ctx.Err(), "mqtt connect broker=%s", self.BrokerURL())
	}
	if err := tok.Error(); err != nil {
		return errors.Annotatef(err, "mqtt connect broker=%s", self.BrokerURL())
	}
	return nil
}

func (self *Publisher) IsConnected() bool { return atomic.LoadUint32(&self.connected) == 1 }

// PublishFrame sends each field to {prefix}/{key} then unix seconds to {prefix}/_ts.
// Fields must be filtered already. Returns number of messages accepted by client.
func (self *Publisher) PublishFrame(fields map[string]string, ts time.Time) (int, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	n := 0
	for _, k := range keys {
		if err := self.publish(self.Topic(k), fields[k], self.config.Retain, self.qos); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	if err := self.publish(self.Topic(TopicTimestamp), strconv.FormatInt(ts.Unix(), 10), self.config.Retain, self.qos); err != nil {
		errs = append(errs, err)
	} else {
		n++
	}
	return n, helpers.FoldErrors(errs)
}

func (self *Publisher) Topic(key string) string { return self.config.TopicPrefix + "/" + key }

func (self *Publisher) PublishStatus(online bool) error {
	payload := PayloadOffline
	if online {
		payload = PayloadOnline
	}
	return self.publish(self.config.StatusTopic, payload, true, statusQos)
}

func (self *Publisher) publish(topic, payload string, retain bool, qos byte) error {
	tok := self.m.Publish(topic, qos, retain, payload)
	if self.wait > 0 {
		if !tok.WaitTimeout(self.wait) {
			return errors.Timeoutf("mqtt publish topic=%s", topic)
		}
	} else {
		// fire and forget, only report errors that are already known
		select {
		case <-tok.Done():
		default:
			return nil
		}
	}
	if err := tok.Error(); err != nil {
		return errors.Annotatef(err, "mqtt publish topic=%s", topic)
	}
	return nil
}

// Close publishes offline status and disconnects.
func (self *Publisher) Close(timeout time.Duration) {
	if timeout <= 0 {
		timeout = defaultCloseTimeout
	}
	if self.m.IsConnected() {
		tok := self.m.Publish(self.config.StatusTopic, statusQos, true, PayloadOffline)
		if !tok.WaitTimeout(timeout) {
			self.log.Errorf("mqtt offline status timeout")
		} else if err := tok.Error(); err != nil {
			self.log.Errorf("mqtt offline status err=%v", err)
		}
	}
	self.m.Disconnect(disconnectQuiesceMs)
	self.setConnected(false)
}

func (self *Publisher) setConnected(b bool) {
	var v uint32
	if b {
		v = 1
	}
	if atomic.SwapUint32(&self.connected, v) != v && self.onState != nil {
		self.onState(b)
	}
}

func (self *Publisher) onConnectHandler(c mqtt.Client) {
	self.log.Infof("mqtt connected broker=%s client_id=%s", self.BrokerURL(), self.config.ClientID)
	self.setConnected(true)
	tok := c.Publish(self.config.StatusTopic, statusQos, true, PayloadOnline)
	go func() {
		if tok.WaitTimeout(defaultCloseTimeout) && tok.Error() != nil {
			self.log.Errorf("mqtt online status err=%v", tok.Error())
		}
	}()
}

func (self *Publisher) connectLostHandler(c mqtt.Client, err error) {
	self.log.Errorf("mqtt connection lost err=%v", err)
	self.setConnected(false)
}

func (self *Publisher) String() string {
	return fmt.Sprintf("mqtt broker=%s client_id=%s prefix=%s", self.BrokerURL(), self.config.ClientID, self.config.TopicPrefix)
}
