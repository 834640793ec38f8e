// Package submissionstore defines the single-table, multi-tenant KV store
// port the core requires for submissions, destinations, tenant config,
// delivery attempts and rate buckets (spec §4.5, §6.3).
package submissionstore

import (
	"context"
	"errors"
	"time"

	"github.com/formbridge/ingest/internal/domain/delivery"
	"github.com/formbridge/ingest/internal/domain/destination"
	"github.com/formbridge/ingest/internal/domain/submission"
	"github.com/formbridge/ingest/internal/domain/tenant"
)

// ErrAlreadyExists is returned by PutSubmissionIfAbsent when the
// (tenant_id, submission_id) pair already has a record.
var ErrAlreadyExists = errors.New("submissionstore: already exists")

// Store is the port the core depends on for all persistent state. All
// operations must be safe under concurrent access from multiple processes;
// implementations that are only eventually consistent must say so in their
// own doc comment (the Query API tolerates it, spec §4.12).
type Store interface {
	// PutSubmissionIfAbsent creates a Submission record. Returns
	// ErrAlreadyExists (not an error the caller should retry) if one with
	// the same (tenant_id, submission_id) already exists.
	PutSubmissionIfAbsent(ctx context.Context, s submission.Submission) error

	// GetSubmission returns a strong read of one submission, or
	// domain.ErrNotFound.
	GetSubmission(ctx context.Context, tenantID, submissionID string) (*submission.Submission, error)

	// ListDestinations returns all enabled destinations for a tenant.
	ListDestinations(ctx context.Context, tenantID string) ([]destination.Destination, error)

	// GetDestination returns a single destination, or domain.ErrNotFound.
	GetDestination(ctx context.Context, tenantID, destinationID string) (*destination.Destination, error)

	// AppendDeliveryAttempt assigns the next attempt_number for
	// (submission_id, destination_id) and appends the attempt atomically;
	// any AttemptNumber the caller set is replaced by the assigned one,
	// which the returned Attempt carries.
	AppendDeliveryAttempt(ctx context.Context, a delivery.Attempt) (delivery.Attempt, error)

	// ListSubmissionsByTime returns a time-ordered page of submissions for
	// tenantID between since and until (inclusive), using the opaque
	// cursor returned by a previous call to continue.
	ListSubmissionsByTime(ctx context.Context, tenantID string, since, until time.Time, cursor string, limit int) ([]submission.Submission, string, error)

	// IncrementRateBucket atomically increments the counter for
	// (scope, bucketUnixMinute) and returns true if the post-increment
	// count is within limit, false (without incrementing) if it would
	// exceed it.
	IncrementRateBucket(ctx context.Context, scope string, bucketUnixMinute int64, limit int) (bool, error)

	// GetTenant returns tenant config, or domain.ErrNotFound.
	GetTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error)

	// Ready reports whether the store can currently serve requests
	// (used by GET /ready, spec §4.13).
	Ready(ctx context.Context) error
}
