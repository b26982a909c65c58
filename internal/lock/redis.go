package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Defaults for Redis locks.
const (
	DefaultTTL   = 10 * time.Minute
	retryEvery   = 100 * time.Millisecond
	releaseAfter = 5 * time.Second
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another holder is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis is a distributed keyed lock built on SET NX with a TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedis creates a Redis lock. ttl bounds how long a crashed holder keeps
// the key; wait bounds how long Lock polls for it.
func NewRedis(client *redis.Client, ttl, wait time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Redis{client: client, ttl: ttl, wait: wait}
}

// Lock polls until key is acquired, the wait elapses or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	token := uuid.NewString()
	ticker := time.NewTicker(retryEvery)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return r.release(key, token), nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		}
	}
}

func (r *Redis) release(key, token string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseAfter)
		defer cancel()
		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
			slog.Warn("release lock failed", "key", key, "error", err)
		}
	}
}
