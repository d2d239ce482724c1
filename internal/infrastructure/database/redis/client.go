// Package redis wraps the go-redis client for the two things the system
// needs from it: the partition lease behind the scheduler and a small JSON
// cache for read-heavy API responses.
package redis

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/medimorph/medimorph/internal/config"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
)

// Client wraps a redis connection with the configured key prefix.
type Client struct {
	rdb    *redis.Client
	prefix string
	logger logging.Logger
	closed atomic.Bool
}

// NewClient connects and verifies the connection with a ping.
func NewClient(cfg config.RedisConfig, log logging.Logger) (*Client, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "redis connection failed")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "medimorph"
	}
	log.Info("Connected to Redis", logging.String("addr", cfg.Addr))
	return &Client{rdb: rdb, prefix: prefix, logger: log}, nil
}

// Key namespaces a key with the configured prefix.
func (c *Client) Key(parts ...string) string {
	key := c.prefix
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

// Underlying exposes the raw client for scripts and commands the wrapper
// does not cover.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "redis ping failed")
	}
	return nil
}

// PoolStats returns connection pool statistics.
func (c *Client) PoolStats() *redis.PoolStats {
	return c.rdb.PoolStats()
}

// Close shuts the connection pool down.  Safe to call more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.rdb.Close(); err != nil {
		c.logger.Error("Failed to close Redis client", logging.Err(err))
		return err
	}
	c.logger.Info("Closed Redis client")
	return nil
}
