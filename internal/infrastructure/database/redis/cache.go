package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
)

// ErrCacheMiss is returned by Get when the key is absent.
var ErrCacheMiss = errors.NotFound("cache miss")

// Cache is a JSON document cache.  It backs the adherence report endpoint,
// where recomputation is a handful of aggregate queries and a short TTL is
// acceptable.
type Cache struct {
	client *Client
	ttl    time.Duration
	group  singleflight.Group
	logger logging.Logger
}

// NewCache creates a cache with the given default TTL.
func NewCache(client *Client, defaultTTL time.Duration, log logging.Logger) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Cache{client: client, ttl: defaultTTL, logger: log.Named("cache")}
}

// Get unmarshals the cached document into dest.  Returns ErrCacheMiss when
// the key is absent.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Underlying().Get(ctx, c.client.Key("cache", key)).Bytes()
	if err == goredis.Nil {
		return ErrCacheMiss
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "cache get failed")
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "cache decode failed")
	}
	return nil
}

// Set stores value as JSON.  The TTL is jittered a little so a burst of
// writes does not expire in lockstep.
func (c *Cache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "cache encode failed")
	}
	ttl := c.ttl + time.Duration(rand.Int63n(int64(c.ttl/10)+1))
	if err := c.client.Underlying().Set(ctx, c.client.Key("cache", key), data, ttl).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "cache set failed")
	}
	return nil
}

// Delete drops keys.  Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.client.Key("cache", k)
	}
	if err := c.client.Underlying().Del(ctx, full...).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "cache delete failed")
	}
	return nil
}

// GetOrSet returns the cached document or computes and stores it.
// Concurrent callers for the same key share one loader call.
func (c *Cache) GetOrSet(ctx context.Context, key string, dest interface{}, loader func(ctx context.Context) (interface{}, error)) error {
	if err := c.Get(ctx, key, dest); err == nil {
		return nil
	} else if !errors.IsNotFound(err) {
		c.logger.Warn("cache read failed, falling through to loader", logging.Err(err))
	}

	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if serr := c.Set(ctx, key, v); serr != nil {
			c.logger.Warn("cache write failed", logging.Err(serr))
		}
		return v, nil
	})
	if err != nil {
		return err
	}

	// Round-trip through JSON so every caller gets its own copy.
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "cache encode failed")
	}
	return json.Unmarshal(data, dest)
}
