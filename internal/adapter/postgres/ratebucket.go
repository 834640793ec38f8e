package postgres

import "context"

// RateBucket adapts Store's IncrementRateBucket method to the narrower
// ratelimiter.Bucket port, so the Postgres-backed fixed-window counter
// can be selected as either the ingest or delivery rate limiter
// interchangeably with internal/adapter/redisbucket (spec §4.10,
// config.Rate.Backend).
type RateBucket struct {
	store *Store
}

// NewRateBucket wraps store for use as a ratelimiter.Bucket.
func NewRateBucket(store *Store) *RateBucket {
	return &RateBucket{store: store}
}

// Increment implements ratelimiter.Bucket.
func (b *RateBucket) Increment(ctx context.Context, scope string, bucketUnixMinute int64, limit int) (bool, error) {
	return b.store.IncrementRateBucket(ctx, scope, bucketUnixMinute, limit)
}
