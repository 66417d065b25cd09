package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Subject names are logical and stable; the configured stream prefix
// maps them onto Redis stream keys.
const (
	SubjectRaw        = "raw"
	SubjectParsed     = "parsed"
	SubjectDeadLetter = "dead_letter"
)

// Config holds broker connection configuration.
type Config struct {
	URL          string        `yaml:"url"`
	Password     string        `yaml:"password"`
	StreamPrefix string        `yaml:"stream_prefix"`
	Group        string        `yaml:"group"`
	ReadBlock    time.Duration `yaml:"-"`
	ClaimMinIdle time.Duration `yaml:"-"`
}

// UnmarshalYAML accepts Go duration strings ("2s", "1m") for the time
// fields; bare yaml.v2 would demand integer nanoseconds.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Config
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}
	var d struct {
		ReadBlock    string `yaml:"read_block"`
		ClaimMinIdle string `yaml:"claim_min_idle"`
	}
	if err := unmarshal(&d); err != nil {
		return err
	}
	var err error
	if d.ReadBlock != "" {
		if c.ReadBlock, err = time.ParseDuration(d.ReadBlock); err != nil {
			return fmt.Errorf("broker read_block: %w", err)
		}
	}
	if d.ClaimMinIdle != "" {
		if c.ClaimMinIdle, err = time.ParseDuration(d.ClaimMinIdle); err != nil {
			return fmt.Errorf("broker claim_min_idle: %w", err)
		}
	}
	return nil
}

// Client wraps the Redis connection used for streams.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// NewClient creates a new broker client and verifies connectivity.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse broker URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	return &Client{rdb: rdb, prefix: cfg.StreamPrefix}, nil
}

// Close closes the broker connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks broker connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) streamKey(subject string) string {
	return fmt.Sprintf("%s:%s", c.prefix, subject)
}
