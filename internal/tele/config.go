package tele

const (
	DefaultHost        = "mqtt"
	DefaultPort        = 1883
	DefaultTopicPrefix = "victron/mppt"
	DefaultStatusTopic = "victron/status"

	PayloadOnline  = "online"
	PayloadOffline = "offline"

	// TopicTimestamp is published after fields of every frame, relative to TopicPrefix.
	TopicTimestamp = "_ts"
)

// Timeouts set to 0 use paho defaults chosen in New.
type Config struct { //nolint:maligned
	Host              string `hcl:"host"`
	Port              int    `hcl:"port"`
	Username          string `hcl:"username"`
	Password          string `hcl:"password"`
	ClientID          string `hcl:"client_id"`
	TopicPrefix       string `hcl:"topic_prefix"`
	StatusTopic       string `hcl:"status_topic"`
	Retain            bool   `hcl:"retain"`
	Qos               int    `hcl:"qos"`
	KeepaliveSec      int    `hcl:"keepalive_sec"`
	PingTimeoutSec    int    `hcl:"ping_timeout_sec"`
	ConnectTimeoutSec int    `hcl:"connect_timeout_sec"`
	ConnectRetrySec   int    `hcl:"connect_retry_sec"`
	PublishWaitMs     int    `hcl:"publish_wait_ms"`
	LogDebug          bool   `hcl:"log_debug"`
}

func DefaultConfig() Config {
	return Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		TopicPrefix:     DefaultTopicPrefix,
		StatusTopic:     DefaultStatusTopic,
		Retain:          true,
		KeepaliveSec:    60,
		ConnectRetrySec: 5,
	}
}
