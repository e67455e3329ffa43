package tele

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/vebridge/log2"
)

func testPublisher(t testing.TB, c Config) (*Publisher, *MqttMock) {
	mock := NewMqttMock()
	p, err := New(log2.NewTest(t, log2.LDebug), c, mock.MockNew)
	require.NoError(t, err)
	return p, mock
}

func TestNewInvalid(t *testing.T) {
	t.Parallel()
	c := DefaultConfig()
	c.Qos = 2
	_, err := New(log2.NewTest(t, log2.LDebug), c, nil)
	assert.True(t, errors.IsNotValid(err), errors.ErrorStack(err))
}

func TestClientOptions(t *testing.T) {
	t.Parallel()
	c := DefaultConfig()
	c.Username = "u"
	c.Password = "p"
	p, mock := testPublisher(t, c)
	assert.True(t, strings.HasPrefix(p.Config().ClientID, "vebridge-"))
	assert.Equal(t, "tcp://mqtt:1883", p.BrokerURL())
	opt := mock.Opt
	require.NotNil(t, opt)
	assert.True(t, opt.WillEnabled)
	assert.Equal(t, DefaultStatusTopic, opt.WillTopic)
	assert.Equal(t, PayloadOffline, string(opt.WillPayload))
	assert.True(t, opt.WillRetained)
	assert.True(t, opt.CleanSession)
	assert.True(t, opt.AutoReconnect)
	assert.Equal(t, "u", opt.Username)
}

func TestConnect(t *testing.T) {
	t.Parallel()
	p, mock := testPublisher(t, DefaultConfig())
	mock.ConnectErrs = []error{fmt.Errorf("refused")}
	var states []bool
	p.SetStateHandler(func(b bool) { states = append(states, b) })

	err := p.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
	assert.False(t, p.IsConnected())

	require.NoError(t, p.Connect(context.Background()))
	assert.True(t, p.IsConnected())
	msg := mock.Expect(t, time.Second)
	assert.Equal(t, MockMsg{T: DefaultStatusTopic, P: []byte(PayloadOnline), Q: 1, R: true}, msg)

	mock.Drop(fmt.Errorf("eof"))
	assert.False(t, p.IsConnected())
	assert.Equal(t, []bool{true, false}, states)
	assert.Equal(t, 2, mock.Connects())
}

func TestPublishFrame(t *testing.T) {
	t.Parallel()
	p, mock := testPublisher(t, DefaultConfig())
	require.NoError(t, p.Connect(context.Background()))
	mock.Expect(t, time.Second) // online

	n, err := p.PublishFrame(map[string]string{"V": "12800", "I": "150"}, time.Unix(1700000000, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	ms := mock.Drain()
	require.Len(t, ms, 3)
	assert.Equal(t, "victron/mppt/I", ms[0].T)
	assert.Equal(t, "150", string(ms[0].P))
	assert.Equal(t, "victron/mppt/V", ms[1].T)
	assert.Equal(t, "12800", string(ms[1].P))
	assert.Equal(t, "victron/mppt/_ts", ms[2].T)
	assert.Equal(t, "1700000000", string(ms[2].P))
	for _, m := range ms {
		assert.True(t, m.R)
		assert.Equal(t, byte(0), m.Q)
	}
}

func TestPublishNotConnected(t *testing.T) {
	t.Parallel()
	p, mock := testPublisher(t, DefaultConfig())
	n, err := p.PublishFrame(map[string]string{"V": "1"}, time.Now())
	assert.Equal(t, 0, n)
	assert.Error(t, err)
	assert.Len(t, mock.Drain(), 0)
}

func TestPublishWait(t *testing.T) {
	t.Parallel()
	c := DefaultConfig()
	c.PublishWaitMs = 100
	c.Retain = false
	c.Qos = 1
	p, mock := testPublisher(t, c)
	require.NoError(t, p.Connect(context.Background()))
	mock.Expect(t, time.Second)
	mock.PublishErr = fmt.Errorf("quota")
	_, err := p.PublishFrame(map[string]string{"V": "1"}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
}

func TestClose(t *testing.T) {
	t.Parallel()
	p, mock := testPublisher(t, DefaultConfig())
	require.NoError(t, p.Connect(context.Background()))
	mock.Expect(t, time.Second)
	p.Close(time.Second)
	msg := mock.Expect(t, time.Second)
	assert.Equal(t, PayloadOffline, string(msg.P))
	assert.True(t, msg.R)
	assert.False(t, mock.IsConnected())
	assert.False(t, p.IsConnected())
}

func TestMockClient(t *testing.T) {
	t.Parallel()
	mock := NewMqttMock()
	var client mqtt.Client = mock.MockNew(mqtt.NewClientOptions())
	assert.Equal(t, mqtt.ClientOptionsReader{}, client.OptionsReader())
	assert.NoError(t, client.Subscribe("victron/#", 0, nil).Error())
	assert.NoError(t, client.SubscribeMultiple(map[string]byte{"a": 0}, nil).Error())
	assert.NoError(t, client.Unsubscribe("a").Error())
	assert.Empty(t, mock.Drain())

	assert.Equal(t, mqtt.ErrNotConnected, client.Publish("a", 0, false, "x").Error())
	require.NoError(t, client.Connect().Error())
	require.NoError(t, client.Publish("a", 1, true, "x").Error())
	assert.Equal(t, MockMsg{T: "a", P: []byte("x"), Q: 1, R: true}, mock.Expect(t, time.Second))
}
