package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smsflow/smsflow/internal/core/domain"
)

// RedisCache implements Cache on a Redis instance shared by all parser
// workers. SET NX makes the existence check and the write one atomic
// operation, so concurrent first writes cannot race.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache connects to the configured backend and verifies it.
func NewRedisCache(cfg Config) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cache URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to cache: %w", err)
	}

	return &RedisCache{rdb: rdb, prefix: cfg.KeyPrefix}, nil
}

// Close closes the cache connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// Ping checks cache connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisCache) key(fingerprint string) string {
	return fmt.Sprintf("%s:%s", c.prefix, fingerprint)
}

// Lookup returns the cached verdict for a fingerprint, if any.
func (c *RedisCache) Lookup(ctx context.Context, fingerprint string) (domain.Verdict, bool, error) {
	data, err := c.rdb.Get(ctx, c.key(fingerprint)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Verdict{}, false, nil
		}
		return domain.Verdict{}, false, fmt.Errorf("cache get: %w", err)
	}

	var v domain.Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return domain.Verdict{}, false, fmt.Errorf("cache entry for %s is corrupt: %w", fingerprint, err)
	}
	return v, true, nil
}

// Store records a verdict with no expiry. First writer wins.
func (c *RedisCache) Store(ctx context.Context, fingerprint string, verdict domain.Verdict) error {
	data, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	if err := c.rdb.SetNX(ctx, c.key(fingerprint), data, 0).Err(); err != nil {
		return fmt.Errorf("cache setnx: %w", err)
	}
	return nil
}
