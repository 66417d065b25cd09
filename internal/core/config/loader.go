package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate rejects configurations that break pipeline invariants.
func (cfg *AppConfig) validate() error {
	window := cfg.retryWindow()
	if cfg.Broker.ClaimMinIdle <= window {
		return fmt.Errorf(
			"broker claim_min_idle (%s) must exceed the worst-case retry window (%s): a message still mid-retry on one worker would be claimed by another and dead-lettered twice",
			cfg.Broker.ClaimMinIdle, window)
	}
	return nil
}

// retryWindow bounds how long one message can legitimately sit pending
// while its classifier retries run: every attempt may burn the full
// classifier timeout plus the maximum backoff (with jitter up to the
// base delay).
func (cfg *AppConfig) retryWindow() time.Duration {
	perAttempt := cfg.Classifier.Timeout + cfg.Parser.MaxDelay + cfg.Parser.BaseDelay
	return time.Duration(cfg.Parser.MaxAttempts) * perAttempt
}

func (cfg *AppConfig) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 9001
	}
	if cfg.Broker.URL == "" {
		cfg.Broker.URL = "redis://localhost:6379/0"
	}
	if cfg.Broker.Group == "" {
		cfg.Broker.Group = "smsflow"
	}
	if cfg.Broker.StreamPrefix == "" {
		cfg.Broker.StreamPrefix = "sms"
	}
	if cfg.Broker.ReadBlock == 0 {
		cfg.Broker.ReadBlock = 2 * time.Second
	}
	if cfg.Broker.ClaimMinIdle == 0 {
		// Must stay above the worst-case retry window (see validate),
		// which is 5m5s under the defaults below.
		cfg.Broker.ClaimMinIdle = 10 * time.Minute
	}
	if cfg.Cache.URL == "" {
		// Share the broker instance unless pointed elsewhere.
		cfg.Cache.URL = cfg.Broker.URL
		cfg.Cache.Password = cfg.Broker.Password
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = "sms:verdict"
	}
	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = 30 * time.Second
	}
	if cfg.Parser.Concurrency == 0 {
		cfg.Parser.Concurrency = 4
	}
	if cfg.Parser.MaxAttempts == 0 {
		cfg.Parser.MaxAttempts = 5
	}
	if cfg.Parser.BaseDelay == 0 {
		cfg.Parser.BaseDelay = time.Second
	}
	if cfg.Parser.MaxDelay == 0 {
		cfg.Parser.MaxDelay = 30 * time.Second
	}
	if cfg.Writer.Concurrency == 0 {
		cfg.Writer.Concurrency = 2
	}
}
