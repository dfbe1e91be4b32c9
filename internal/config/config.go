package config

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	STATE_BACKEND_FILE   = "file"
	STATE_BACKEND_SQLITE = "sqlite"
	STATE_BACKEND_MEMORY = "memory"
)

type Config struct {
	LogLevel      zapcore.Level
	FusionSolar   FusionSolarConfig `mapstructure:"fusionsolar"`
	MQTT          MQTTConfig        `mapstructure:"mqtt"`
	MonitorConfig MonitorConfig     `mapstructure:"monitor"`
	StateConfig   StateConfig       `mapstructure:"state"`
	Port          uint              `mapstructure:"port"`
	HttpLog       bool              `mapstructure:"http_log"`
}

type FusionSolarConfig struct {
	Username  string
	Password  string
	Subdomain string
}

// Credentials identify the account whose plants are polled.
type Credentials struct {
	Username  string
	Password  string
	Subdomain string
}

func (c FusionSolarConfig) Credentials() Credentials {
	return Credentials{
		Username:  c.Username,
		Password:  c.Password,
		Subdomain: c.Subdomain,
	}
}

type MonitorConfig struct {
	PollIntervalSeconds    uint32 `mapstructure:"poll_interval_seconds"`
	FetchTimeoutSeconds    uint32 `mapstructure:"fetch_timeout_seconds"`
	MaxConsecutiveFailures uint32 `mapstructure:"max_consecutive_failures"`
}

func (c MonitorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c MonitorConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

type StateConfig struct {
	Backend string
	Path    string
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

func (c *Config) Validate() error {
	if c.FusionSolar.Username == "" || c.FusionSolar.Password == "" {
		return errors.New("config params fusionsolar.username and fusionsolar.password are required")
	}
	if c.MonitorConfig.PollIntervalSeconds < 30 {
		return errors.New("config param monitor.poll_interval_seconds should be >= 30")
	}
	if c.MonitorConfig.FetchTimeoutSeconds == 0 {
		return errors.New("config param monitor.fetch_timeout_seconds should be > 0")
	}
	if c.MonitorConfig.FetchTimeoutSeconds >= c.MonitorConfig.PollIntervalSeconds {
		return errors.New("config param monitor.fetch_timeout_seconds must be < monitor.poll_interval_seconds")
	}
	if c.MonitorConfig.MaxConsecutiveFailures == 0 {
		return errors.New("config param monitor.max_consecutive_failures should be > 0")
	}
	switch c.StateConfig.Backend {
	case STATE_BACKEND_FILE, STATE_BACKEND_SQLITE:
		if c.StateConfig.Path == "" {
			return errors.New("config param state.path is required for file and sqlite backends")
		}
	case STATE_BACKEND_MEMORY:
	default:
		return errors.New("config param state.backend must be one of file, sqlite, memory")
	}
	return nil
}
