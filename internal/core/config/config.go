package config

import (
	"fmt"
	"time"

	"github.com/smsflow/smsflow/internal/infra/broker"
	"github.com/smsflow/smsflow/internal/infra/cache"
	"github.com/smsflow/smsflow/internal/infra/classifier"
	"github.com/smsflow/smsflow/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration. It is built once
// at startup and passed explicitly to every component.
type AppConfig struct {
	Server     ServerConfig      `yaml:"server"`
	Broker     broker.Config     `yaml:"broker"`
	Database   postgres.Config   `yaml:"database"`
	Cache      cache.Config      `yaml:"cache"`
	Classifier classifier.Config `yaml:"classifier"`
	Parser     ParserConfig      `yaml:"parser"`
	Writer     WriterConfig      `yaml:"writer"`
	Gateway    GatewayConfig     `yaml:"gateway"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds health/metrics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// GatewayConfig holds ingest HTTP server settings.
type GatewayConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ParserConfig holds parser worker settings.
type ParserConfig struct {
	Concurrency int           `yaml:"concurrency"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"-"`
	MaxDelay    time.Duration `yaml:"-"`
}

// UnmarshalYAML accepts Go duration strings ("1s") for the delay
// fields; bare yaml.v2 would demand integer nanoseconds.
func (c *ParserConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain ParserConfig
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}
	var d struct {
		BaseDelay string `yaml:"base_delay"`
		MaxDelay  string `yaml:"max_delay"`
	}
	if err := unmarshal(&d); err != nil {
		return err
	}
	var err error
	if d.BaseDelay != "" {
		if c.BaseDelay, err = time.ParseDuration(d.BaseDelay); err != nil {
			return fmt.Errorf("parser base_delay: %w", err)
		}
	}
	if d.MaxDelay != "" {
		if c.MaxDelay, err = time.ParseDuration(d.MaxDelay); err != nil {
			return fmt.Errorf("parser max_delay: %w", err)
		}
	}
	return nil
}

// WriterConfig holds persistence writer settings.
type WriterConfig struct {
	Concurrency int `yaml:"concurrency"`
}
