package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	MQTT      MQTTConfig `envPrefix:"MQTT_"`
	Discovery DiscoveryConfig
	History   HistoryConfig
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8000"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"INFO"`
}

type MQTTConfig struct {
	Host           string        `env:"HOST"`
	Username       string        `env:"USER"`
	Password       string        `env:"PASS"`
	ClientID       string        `env:"CLIENT_ID" envDefault:"homie-bridge"`
	QoS            int           `env:"QOS" envDefault:"1"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s"`
}

type DiscoveryConfig struct {
	Prefix       string        `env:"DISCOVERY_PREFIX" envDefault:"homie"`
	SettleWindow time.Duration `env:"SETTLE_WINDOW" envDefault:"0s"`
	// HAPrefix enables Home Assistant MQTT discovery when set.
	HAPrefix string `env:"HA_DISCOVERY_PREFIX"`
}

type HistoryConfig struct {
	DatabaseURL     string        `env:"DATABASE_URL"`
	Retention       time.Duration `env:"HISTORY_RETENTION" envDefault:"192h"`
	CleanupSchedule string        `env:"CLEANUP_SCHEDULE" envDefault:"0 3 * * *"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFrom reads the configuration from environ instead of the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: environ})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.MQTT.Host == "" {
		errs = append(errs, fmt.Errorf("%w: mqtt host is required", ErrInvalidConfig))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("%w: mqtt qos %d outside 0..2", ErrInvalidConfig, c.MQTT.QoS))
	}
	if c.Discovery.Prefix == "" || strings.ContainsAny(c.Discovery.Prefix, "#+") {
		errs = append(errs, fmt.Errorf("%w: discovery prefix must be set and free of wildcards", ErrInvalidConfig))
	}
	if c.Discovery.SettleWindow < 0 {
		errs = append(errs, fmt.Errorf("%w: negative settle window", ErrInvalidConfig))
	}
	if c.History.DatabaseURL != "" && c.History.Retention <= 0 {
		errs = append(errs, fmt.Errorf("%w: history retention must be positive", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}
