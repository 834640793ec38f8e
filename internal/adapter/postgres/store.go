// Package postgres implements the submissionstore.Store port against a
// single logical key-value table (pk, sk, gsi1pk, gsi1sk) emulated atop
// PostgreSQL, per spec §3 and §6.3's key layout.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the submissionstore.Store implementation. It holds only a pool;
// all tenant scoping happens through the keys callers pass in, matching
// the port's contract that every tenant-scoped operation carries
// tenant_id explicitly.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ready reports whether the pool can currently serve requests.
func (s *Store) Ready(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Key builders for the single-table layout (spec §6.3). Centralized here
// so every store_*.go file constructs keys identically.

func tenantPK(tenantID string) string        { return "TENANT#" + tenantID }
func tenantConfigSK() string                 { return "CONFIG#main" }
func destSK(destinationID string) string     { return "DEST#" + destinationID }
func submissionSK(submissionID string) string { return "SUB#" + submissionID }
func submissionGSI1SK(submittedAtRFC3339, submissionID string) string {
	return "TS#" + submittedAtRFC3339 + "#" + submissionID
}
func attemptPK(submissionID string) string { return "SUB#" + submissionID }
func attemptSK(destinationID string, n int) string {
	return fmt.Sprintf("DEST#%s#ATTEMPT#%04d", destinationID, n)
}
func ratePK(scope string) string              { return "RATE#" + scope }
func rateSK(bucketUnixMinute int64) string    { return fmt.Sprintf("BUCKET#%d", bucketUnixMinute) }
