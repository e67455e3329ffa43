package config

import (
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/vebridge/log2"
	"github.com/temoto/vebridge/vedirect"
)

func mapEnv(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, c *Config) {
			assert.Equal(t, "/dev/ttyHS2", c.Serial.Device)
			assert.Equal(t, 19200, c.Serial.Baudrate)
			assert.Equal(t, "mqtt", c.Mqtt.Host)
			assert.Equal(t, 1883, c.Mqtt.Port)
			assert.Equal(t, "victron/mppt", c.Mqtt.TopicPrefix)
			assert.Equal(t, "victron/status", c.Mqtt.StatusTopic)
			assert.True(t, c.Mqtt.Retain)
			assert.Equal(t, vedirect.DefaultOptions(), c.FrameOptions())
			assert.Equal(t, "#+*", c.Frame.ReservedChars)
			assert.Equal(t, time.Second, c.SerialReadTimeout())
			assert.Equal(t, 5*time.Second, c.SerialOpenRetry())
			assert.Equal(t, 3*time.Second, c.SerialReopenRetry())
			assert.Equal(t, 5*time.Second, c.MqttConnectRetry())
		}, ""},

		{"sections", `
serial { device = "/dev/ttyUSB0" }
mqtt { host = "broker.lan" qos = 1 retain = false }
frame { mode = "sentinel" idle_timeout_sec = 0 }
metrics { listen = ":9101" }
log_debug = true`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, "/dev/ttyUSB0", c.Serial.Device)
				assert.Equal(t, "broker.lan", c.Mqtt.Host)
				assert.Equal(t, 1, c.Mqtt.Qos)
				assert.False(t, c.Mqtt.Retain)
				assert.Equal(t, "victron/mppt", c.Mqtt.TopicPrefix)
				opt := c.FrameOptions()
				assert.Equal(t, vedirect.ModeSentinel, opt.Mode)
				assert.Equal(t, time.Duration(0), opt.IdleTimeout)
				assert.Equal(t, ":9101", c.Metrics.Listen)
				assert.True(t, c.LogDebug)
			},
			"",
		},

		{"include", `
include "extra.hcl" {}
mqtt { topic_prefix = "solar/a" }`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, "solar/a", c.Mqtt.TopicPrefix)
				assert.Equal(t, 9600, c.Serial.Baudrate)
			},
			"",
		},

		{"include-missing-optional", `include "nope.hcl" { optional = true }`, nil, ""},
		{"include-missing", `include "nope.hcl" {}`, nil, "config required name=nope.hcl"},
		{"include-loop", `include "loop.hcl" {}`, nil, "include loop"},
		{"syntax", `serial {`, nil, "config unmarshal"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			fs := NewMockFullReader(map[string]string{
				"test-inline": c.input,
				"extra.hcl":   `serial { baudrate = 9600 }`,
				"loop.hcl":    `include "test-inline" {}`,
			})
			cfg, err := ReadConfig(log, fs, ConfigSource{Name: "test-inline"})
			if c.expectErr == "" {
				require.NoError(t, err, errors.ErrorStack(err))
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
			}
			if c.check != nil {
				c.check(t, cfg)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	c := Defaults()
	err := c.ApplyEnv(mapEnv(map[string]string{
		"SERIAL_PORT":          "/dev/ttyS1",
		"BAUDRATE":             "115200",
		"MQTT_HOST":            "10.0.0.5",
		"MQTT_USER":            "solar",
		"MQTT_PASS":            "secret",
		"TOPIC_PREFIX":         "home/mppt",
		"AVAIL_TOPIC":          "home/status",
		"RETAIN":               "no",
		"FRAME_MODE":           "sentinel",
		"FRAME_MAX_LINES":      "64",
		"FRAME_MAX_BYTES":      "4096",
		"FRAME_RESERVED_CHARS": "#+",
	}))
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyS1", c.Serial.Device)
	assert.Equal(t, 115200, c.Serial.Baudrate)
	assert.Equal(t, "10.0.0.5", c.Mqtt.Host)
	assert.Equal(t, "solar", c.Mqtt.Username)
	assert.Equal(t, "secret", c.Mqtt.Password)
	assert.Equal(t, "home/mppt", c.Mqtt.TopicPrefix)
	assert.Equal(t, "home/status", c.Mqtt.StatusTopic)
	assert.False(t, c.Mqtt.Retain)
	assert.Equal(t, vedirect.ModeSentinel, c.FrameOptions().Mode)
	assert.Equal(t, 64, c.FrameOptions().MaxRecords)
	assert.Equal(t, 4096, c.FrameOptions().MaxBytes)
	assert.Equal(t, "#+", c.Frame.ReservedChars)
	assert.NoError(t, c.Validate())
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Parallel()
	c := Defaults()
	err := c.ApplyEnv(mapEnv(map[string]string{"BAUDRATE": "fast", "RETAIN": "maybe"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BAUDRATE")
	assert.Contains(t, err.Error(), "RETAIN")
}

func TestParseBool(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"1", "true", "YES", " on "} {
		b, err := ParseBool(s)
		assert.NoError(t, err, s)
		assert.True(t, b, s)
	}
	for _, s := range []string{"0", "False", "no", "off"} {
		b, err := ParseBool(s)
		assert.NoError(t, err, s)
		assert.False(t, b, s)
	}
	_, err := ParseBool("")
	assert.True(t, errors.IsNotValid(err))
}

func TestValidate(t *testing.T) {
	t.Parallel()
	type Case struct {
		name   string
		modify func(*Config)
		expect string
	}
	cases := []Case{
		{"ok", func(*Config) {}, ""},
		{"baud", func(c *Config) { c.Serial.Baudrate = 0 }, "serial.baudrate"},
		{"qos", func(c *Config) { c.Mqtt.Qos = 2 }, "mqtt.qos"},
		{"mode", func(c *Config) { c.Frame.Mode = "magic" }, "frame mode"},
		{"max", func(c *Config) { c.Frame.MaxRecords = 0 }, "frame.max_records"},
		{"max-bytes", func(c *Config) { c.Frame.MaxBytes = 100 }, "frame.max_bytes=100"},
		{"idle", func(c *Config) { c.Frame.IdleTimeoutSec = -1 }, "frame.idle_timeout_sec"},
		{"prefix-wildcard", func(c *Config) { c.Mqtt.TopicPrefix = "victron/#" }, "mqtt.topic_prefix"},
		{"status-empty", func(c *Config) { c.Mqtt.StatusTopic = "" }, "mqtt.status_topic"},
		{"read-timeout", func(c *Config) { c.Serial.ReadTimeoutMs = -1 }, "serial.read_timeout_ms"},
		{"open-retry-zero", func(c *Config) { c.Serial.OpenRetrySec = 0 }, "serial.open_retry_sec=0"},
		{"reopen-retry-zero", func(c *Config) { c.Serial.ReopenRetrySec = 0 }, "serial.reopen_retry_sec=0"},
		{"connect-retry-zero", func(c *Config) { c.Mqtt.ConnectRetrySec = 0 }, "mqtt.connect_retry_sec=0"},
		{"connect-retry-negative", func(c *Config) { c.Mqtt.ConnectRetrySec = -3 }, "mqtt.connect_retry_sec=-3"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			cfg := Defaults()
			c.modify(cfg)
			err := cfg.Validate()
			if c.expect == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, strings.Contains(err.Error(), c.expect), err.Error())
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	fs := NewMockFullReader(map[string]string{})
	c, err := Load(log, fs, ConfigSource{Name: DefaultPath, Optional: true}, mapEnv(map[string]string{"MQTT_QOS": "1"}))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Mqtt.Qos)

	_, err = Load(log, fs, ConfigSource{Name: DefaultPath}, nil)
	assert.True(t, errors.IsNotFound(errors.Cause(err)) || strings.Contains(err.Error(), "not found"))

	_, err = Load(log, fs, ConfigSource{Name: DefaultPath, Optional: true}, mapEnv(map[string]string{"MQTT_QOS": "3"}))
	assert.Error(t, err)
}
