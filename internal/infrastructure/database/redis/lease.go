package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
)

// releaseScript deletes the lease only if this owner still holds it.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// extendScript refreshes the TTL only if this owner still holds the lease.
var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// PartitionLease is the redis implementation of the scheduler's lease
// port.  Each partition is one key holding the owner's token; SetNX gives
// at-most-one holder, the TTL bounds how long a crashed holder blocks the
// partition, and the Lua scripts make release and extend owner-safe.
type PartitionLease struct {
	client *Client
	owner  string
	ttl    time.Duration
	logger logging.Logger
}

// NewPartitionLease creates a lease with a fresh owner token, so every
// scheduler instance competes as a distinct holder.
func NewPartitionLease(client *Client, ttl time.Duration, log logging.Logger) (*PartitionLease, error) {
	if client == nil {
		return nil, errors.InvalidParam("partition lease requires a redis client")
	}
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &PartitionLease{
		client: client,
		owner:  uuid.New().String(),
		ttl:    ttl,
		logger: log.Named("lease"),
	}, nil
}

func (l *PartitionLease) key(partition int) string {
	return l.client.Key("lease", "partition", strconv.Itoa(partition))
}

// TryAcquire claims the partition if nobody holds it.  false with a nil
// error means another instance does.
func (l *PartitionLease) TryAcquire(ctx context.Context, partition int) (bool, error) {
	ok, err := l.client.Underlying().SetNX(ctx, l.key(partition), l.owner, l.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "lease acquire failed")
	}
	if ok {
		l.logger.Debug("partition lease acquired", logging.Int("partition", partition))
	}
	return ok, nil
}

// Extend refreshes the TTL.  false means the lease was lost, either to
// expiry or to another holder, and the caller must stop sweeping.
func (l *PartitionLease) Extend(ctx context.Context, partition int) (bool, error) {
	res, err := extendScript.Run(ctx, l.client.Underlying(),
		[]string{l.key(partition)}, l.owner, l.ttl.Milliseconds()).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "lease extend failed")
	}
	return res.(int64) == 1, nil
}

// Release gives the partition up if this owner still holds it.  Releasing
// a lease someone else took over is a no-op, not an error.
func (l *PartitionLease) Release(ctx context.Context, partition int) error {
	_, err := releaseScript.Run(ctx, l.client.Underlying(),
		[]string{l.key(partition)}, l.owner).Result()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "lease release failed")
	}
	return nil
}
