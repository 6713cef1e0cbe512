package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockLost is returned by a release when the key expired or was taken
// over by another holder before release.
var ErrLockLost = errors.New("lock lost or stolen")

const releaseScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// Redis is a Locker shared by every process that talks to the same Redis.
// Each lock is a key holding a random token with a TTL, so a crashed holder
// cannot block the forest forever.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	prefix string
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithTTL sets how long a lock survives without being released.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = ttl }
}

// WithRetry sets the initial wait between acquisition attempts.
func WithRetry(d time.Duration) RedisOption {
	return func(r *Redis) { r.retry = d }
}

// NewRedis returns a Locker backed by client.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		ttl:    30 * time.Second,
		retry:  10 * time.Millisecond,
		prefix: "cattree:lock:",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lock implements Locker. Acquisition is retried with doubling backoff,
// capped at one second, until ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (Release, error) {
	k := r.prefix + key
	token := uuid.NewString()
	wait := r.retry

	for {
		// NX: Only set if not exists
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		if wait < time.Second {
			wait *= 2
		}
	}

	return func(ctx context.Context) error {
		res, err := r.client.Eval(ctx, releaseScript, []string{k}, token).Result()
		if err != nil {
			return fmt.Errorf("failed to execute release script: %w", err)
		}
		if n, ok := res.(int64); !ok || n != 1 {
			return fmt.Errorf("release %s: %w", key, ErrLockLost)
		}
		return nil
	}, nil
}
