// Package ratelimiter defines the store-backed fixed-window counter port
// used by both the ingest rate limiter and the per-destination delivery
// rate limiter (spec §4.10). The Postgres-backed implementation lives in
// internal/adapter/postgres (via submissionstore.Store.IncrementRateBucket);
// internal/adapter/redisbucket is the alternate backend selected by
// config.Rate.Backend.
package ratelimiter

import "context"

// Bucket is the minimal fixed-window counter contract: atomically
// increment the counter for (scope, bucketUnixMinute) and report whether
// the post-increment count is within limit.
type Bucket interface {
	Increment(ctx context.Context, scope string, bucketUnixMinute int64, limit int) (bool, error)
}
