// Package config reads bridge settings: defaults, HCL files, then environment.
package config

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/256dpi/gomqtt/topic"
	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/vebridge/hardware/uart"
	"github.com/temoto/vebridge/helpers"
	"github.com/temoto/vebridge/internal/tele"
	"github.com/temoto/vebridge/log2"
	"github.com/temoto/vebridge/vedirect"
)

const DefaultPath = "/etc/vebridge.hcl"

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Serial struct {
		Device         string `hcl:"device"`
		Baudrate       int    `hcl:"baudrate"`
		ReadTimeoutMs  int    `hcl:"read_timeout_ms"`
		OpenRetrySec   int    `hcl:"open_retry_sec"`
		ReopenRetrySec int    `hcl:"reopen_retry_sec"`
	} `hcl:"serial"`

	Mqtt tele.Config `hcl:"mqtt"`

	Frame struct {
		Mode           string `hcl:"mode"`
		Sentinel       string `hcl:"sentinel"`
		ChecksumField  string `hcl:"checksum_field"`
		MaxRecords     int    `hcl:"max_records"`
		MaxBytes       int    `hcl:"max_bytes"`
		IdleTimeoutSec int    `hcl:"idle_timeout_sec"` // 0 disables idle guard
		SkipHex        bool   `hcl:"skip_hex"`
		ReservedChars  string `hcl:"reserved_chars"`
	} `hcl:"frame"`

	Metrics struct {
		Listen string `hcl:"listen"`
	} `hcl:"metrics"`

	LogDebug bool `hcl:"log_debug"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func Defaults() *Config {
	c := &Config{includeSeen: make(map[string]struct{})}
	c.Serial.Device = "/dev/ttyHS2"
	c.Serial.Baudrate = 19200
	c.Serial.ReadTimeoutMs = 1000
	c.Serial.OpenRetrySec = 5
	c.Serial.ReopenRetrySec = 3
	c.Mqtt = tele.DefaultConfig()
	c.Frame.Mode = vedirect.ModeChecksum.String()
	c.Frame.Sentinel = vedirect.DefaultSentinel
	c.Frame.ChecksumField = vedirect.DefaultChecksumField
	c.Frame.MaxRecords = vedirect.DefaultMaxRecords
	c.Frame.MaxBytes = vedirect.DefaultMaxBytes
	c.Frame.IdleTimeoutSec = int(vedirect.DefaultIdleTimeout / time.Second)
	c.Frame.ReservedChars = vedirect.DefaultReserved
	return c
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			*errs = append(*errs, errors.NotFoundf("config required name=%s path=%s", source.Name, norm))
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	if err = hcl.Unmarshal(bs, c); err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config unmarshal source=%s", source.Name))
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		if _, ok := c.includeSeen[fs.Normalize(include.Name)]; ok {
			*errs = append(*errs, errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name))
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig applies sources over defaults. Environment is not consulted.
func ReadConfig(log *log2.Log, fs FullReader, sources ...ConfigSource) (*Config, error) {
	if osfs, ok := fs.(*OsFullReader); ok && len(sources) != 0 {
		dir, name := filepath.Split(sources[0].Name)
		osfs.SetBase(dir)
		sources[0].Name = name
	}
	c := Defaults()
	errs := make([]error, 0, 8)
	for _, source := range sources {
		c.read(log, fs, source, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

// Load is full pipeline: defaults, file, environment, validation.
func Load(log *log2.Log, fs FullReader, source ConfigSource, getenv func(string) string) (*Config, error) {
	c, err := ReadConfig(log, fs, source)
	if err != nil {
		return c, err
	}
	if getenv != nil {
		if err = c.ApplyEnv(getenv); err != nil {
			return c, err
		}
	}
	return c, c.Validate()
}

type envSetter func(value string) error

func envString(p *string) envSetter {
	return func(v string) error { *p = v; return nil }
}
func envInt(p *int) envSetter {
	return func(v string) error {
		x, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*p = x
		return nil
	}
}
func envBool(p *bool) envSetter {
	return func(v string) error {
		b, err := ParseBool(v)
		if err != nil {
			return err
		}
		*p = b
		return nil
	}
}

// ParseBool accepts 1/true/yes/on and 0/false/no/off, case-insensitive.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, errors.NotValidf("boolean %q", s)
}

func (c *Config) envTable() []struct {
	name string
	set  envSetter
} {
	return []struct {
		name string
		set  envSetter
	}{
		{"SERIAL_PORT", envString(&c.Serial.Device)},
		{"BAUDRATE", envInt(&c.Serial.Baudrate)},
		{"SERIAL_READ_TIMEOUT_MS", envInt(&c.Serial.ReadTimeoutMs)},
		{"SERIAL_OPEN_RETRY_S", envInt(&c.Serial.OpenRetrySec)},
		{"SERIAL_REOPEN_RETRY_S", envInt(&c.Serial.ReopenRetrySec)},
		{"MQTT_HOST", envString(&c.Mqtt.Host)},
		{"MQTT_PORT", envInt(&c.Mqtt.Port)},
		{"MQTT_USER", envString(&c.Mqtt.Username)},
		{"MQTT_PASS", envString(&c.Mqtt.Password)},
		{"MQTT_CLIENT_ID", envString(&c.Mqtt.ClientID)},
		{"TOPIC_PREFIX", envString(&c.Mqtt.TopicPrefix)},
		{"AVAIL_TOPIC", envString(&c.Mqtt.StatusTopic)},
		{"RETAIN", envBool(&c.Mqtt.Retain)},
		{"MQTT_QOS", envInt(&c.Mqtt.Qos)},
		{"MQTT_KEEPALIVE_S", envInt(&c.Mqtt.KeepaliveSec)},
		{"MQTT_CONNECT_RETRY_S", envInt(&c.Mqtt.ConnectRetrySec)},
		{"MQTT_PUBLISH_WAIT_MS", envInt(&c.Mqtt.PublishWaitMs)},
		{"MQTT_LOG_DEBUG", envBool(&c.Mqtt.LogDebug)},
		{"FRAME_MODE", envString(&c.Frame.Mode)},
		{"FRAME_SENTINEL", envString(&c.Frame.Sentinel)},
		{"FRAME_CHECKSUM_FIELD", envString(&c.Frame.ChecksumField)},
		{"FRAME_MAX_LINES", envInt(&c.Frame.MaxRecords)},
		{"FRAME_MAX_BYTES", envInt(&c.Frame.MaxBytes)},
		{"FRAME_IDLE_TIMEOUT_S", envInt(&c.Frame.IdleTimeoutSec)},
		{"FRAME_SKIP_HEX", envBool(&c.Frame.SkipHex)},
		{"FRAME_RESERVED_CHARS", envString(&c.Frame.ReservedChars)},
		{"METRICS_LISTEN", envString(&c.Metrics.Listen)},
		{"LOG_DEBUG", envBool(&c.LogDebug)},
	}
}

// ApplyEnv overrides values from non-empty environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	errs := make([]error, 0, 4)
	for _, e := range c.envTable() {
		v := getenv(e.name)
		if v == "" {
			continue
		}
		if err := e.set(v); err != nil {
			errs = append(errs, errors.Annotatef(err, "config env %s", e.name))
		}
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) Validate() error {
	errs := make([]error, 0, 4)
	if c.Serial.Device == "" {
		errs = append(errs, errors.NotValidf("serial.device empty"))
	}
	if c.Serial.Baudrate <= 0 {
		errs = append(errs, errors.NotValidf("serial.baudrate=%d", c.Serial.Baudrate))
	}
	if c.Serial.ReadTimeoutMs < 0 {
		errs = append(errs, errors.NotValidf("serial.read_timeout_ms=%d", c.Serial.ReadTimeoutMs))
	}
	if c.Mqtt.Host == "" {
		errs = append(errs, errors.NotValidf("mqtt.host empty"))
	}
	if c.Mqtt.Port <= 0 || c.Mqtt.Port > 65535 {
		errs = append(errs, errors.NotValidf("mqtt.port=%d", c.Mqtt.Port))
	}
	if c.Mqtt.Qos != 0 && c.Mqtt.Qos != 1 {
		errs = append(errs, errors.NotValidf("mqtt.qos=%d, expected 0|1", c.Mqtt.Qos))
	}
	if c.Mqtt.KeepaliveSec < 0 || c.Mqtt.PublishWaitMs < 0 {
		errs = append(errs, errors.NotValidf("mqtt negative timeout"))
	}
	// retry loops sleep between attempts, 0 would spin
	for _, r := range []struct {
		name  string
		value int
	}{
		{"serial.open_retry_sec", c.Serial.OpenRetrySec},
		{"serial.reopen_retry_sec", c.Serial.ReopenRetrySec},
		{"mqtt.connect_retry_sec", c.Mqtt.ConnectRetrySec},
	} {
		if r.value < 1 {
			errs = append(errs, errors.NotValidf("%s=%d, expected >= 1", r.name, r.value))
		}
	}
	for _, t := range []struct{ name, value string }{
		{"mqtt.topic_prefix", c.Mqtt.TopicPrefix},
		{"mqtt.status_topic", c.Mqtt.StatusTopic},
	} {
		if _, err := topic.Parse(t.value, false); err != nil {
			errs = append(errs, errors.NewNotValid(err, t.name+"="+t.value))
		}
	}
	if _, err := vedirect.ParseMode(c.Frame.Mode); err != nil {
		errs = append(errs, err)
	}
	if c.Frame.MaxRecords < 1 {
		errs = append(errs, errors.NotValidf("frame.max_records=%d", c.Frame.MaxRecords))
	}
	if c.Frame.MaxBytes < uart.MaxLine {
		errs = append(errs, errors.NotValidf("frame.max_bytes=%d, expected >= %d", c.Frame.MaxBytes, uart.MaxLine))
	}
	if c.Frame.IdleTimeoutSec < 0 {
		errs = append(errs, errors.NotValidf("frame.idle_timeout_sec=%d", c.Frame.IdleTimeoutSec))
	}
	if c.Frame.ChecksumField == "" {
		errs = append(errs, errors.NotValidf("frame.checksum_field empty"))
	}
	return helpers.FoldErrors(errs)
}

// FrameOptions assumes Validate passed.
func (c *Config) FrameOptions() vedirect.Options {
	mode, _ := vedirect.ParseMode(c.Frame.Mode)
	return vedirect.Options{
		Mode:          mode,
		Sentinel:      c.Frame.Sentinel,
		ChecksumField: c.Frame.ChecksumField,
		MaxRecords:    c.Frame.MaxRecords,
		MaxBytes:      c.Frame.MaxBytes,
		IdleTimeout:   time.Duration(c.Frame.IdleTimeoutSec) * time.Second,
		SkipHex:       c.Frame.SkipHex,
	}
}

func (c *Config) SerialReadTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.Serial.ReadTimeoutMs, uart.DefaultReadTimeout)
}
// Retry delays assume Validate passed.
func (c *Config) SerialOpenRetry() time.Duration {
	return time.Duration(c.Serial.OpenRetrySec) * time.Second
}
func (c *Config) SerialReopenRetry() time.Duration {
	return time.Duration(c.Serial.ReopenRetrySec) * time.Second
}
func (c *Config) MqttConnectRetry() time.Duration {
	return time.Duration(c.Mqtt.ConnectRetrySec) * time.Second
}
