// Package redisbucket implements the ratelimiter.Bucket port over Redis,
// the alternate fixed-window backend selected by config.Rate.Backend when
// the Postgres-backed bucket (internal/adapter/postgres) is not desired
// (spec §4.10, §6 "storage key layout").
package redisbucket

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const bucketTTL = 2 * time.Minute

// Bucket implements ratelimiter.Bucket using INCR + a Lua-free
// check-and-decrement pattern: increment unconditionally, then roll back
// if the post-increment count exceeds limit. This trades one extra round
// trip on the rejection path for not needing a server-side script.
type Bucket struct {
	client *redis.Client
}

// New wraps an existing redis client.
func New(client *redis.Client) *Bucket {
	return &Bucket{client: client}
}

// Increment implements ratelimiter.Bucket.
func (b *Bucket) Increment(ctx context.Context, scope string, bucketUnixMinute int64, limit int) (bool, error) {
	key := fmt.Sprintf("rate:%s:%d", scope, bucketUnixMinute)

	count, err := b.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redisbucket: incr %s: %w", key, err)
	}
	if count == 1 {
		if err := b.client.Expire(ctx, key, bucketTTL).Err(); err != nil {
			return false, fmt.Errorf("redisbucket: expire %s: %w", key, err)
		}
	}

	if int(count) > limit {
		if err := b.client.Decr(ctx, key).Err(); err != nil {
			return false, fmt.Errorf("redisbucket: rollback decr %s: %w", key, err)
		}
		return false, nil
	}
	return true, nil
}

// Ready pings the Redis connection.
func (b *Bucket) Ready(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
