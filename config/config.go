// Package config loads server settings from a YAML file and watches it for
// changes.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration. Durations accept Prometheus-style
// strings such as "60s" or "10m".
type Config struct {
	Listen         string         `yaml:"listen"`
	GracePeriod    model.Duration `yaml:"grace_period"`
	AllowedOrigins []string       `yaml:"allowed_origins"`
	MaxMessageSize int64          `yaml:"max_message_size"`
	SendBuffer     int            `yaml:"send_buffer"`
	RateLimit      RateLimit      `yaml:"rate_limit"`
}

// RateLimit bounds inbound frames per connection. Burst 0 disables limiting.
type RateLimit struct {
	Burst          int            `yaml:"burst"`
	RefillInterval model.Duration `yaml:"refill_interval"`
}

// Default returns the configuration used when no file is present: listen on
// :8080, a 60 second presence grace period, all origins allowed.
func Default() *Config {
	return &Config{
		Listen:         ":8080",
		GracePeriod:    model.Duration(60 * time.Second),
		MaxMessageSize: 4096,
		SendBuffer:     256,
		RateLimit: RateLimit{
			Burst:          10,
			RefillInterval: model.Duration(time.Second),
		},
	}
}

// Load reads and validates the configuration at path. Missing fields keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen must not be empty")
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("grace_period must be positive, got %s", c.GracePeriod)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be positive, got %d", c.MaxMessageSize)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	if c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit.burst must not be negative, got %d", c.RateLimit.Burst)
	}
	if c.RateLimit.Burst > 0 && c.RateLimit.RefillInterval <= 0 {
		return fmt.Errorf("rate_limit.refill_interval must be positive, got %s", c.RateLimit.RefillInterval)
	}
	return nil
}
