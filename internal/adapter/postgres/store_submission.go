package postgres

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/formbridge/ingest/internal/domain"
	"github.com/formbridge/ingest/internal/domain/delivery"
	"github.com/formbridge/ingest/internal/domain/destination"
	"github.com/formbridge/ingest/internal/domain/submission"
	"github.com/formbridge/ingest/internal/port/submissionstore"
)

// PutSubmissionIfAbsent implements submissionstore.Store. The uniqueness
// guarantee (spec invariant: at most one Submission per submission_id)
// comes from the (pk, sk) primary key plus ON CONFLICT DO NOTHING.
func (s *Store) PutSubmissionIfAbsent(ctx context.Context, sub submission.Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode submission %s: %w", sub.SubmissionID, err)
	}

	gsi1sk := submissionGSI1SK(sub.SubmittedAt.UTC().Format(time.RFC3339), sub.SubmissionID)

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO items (pk, sk, gsi1pk, gsi1sk, data)
		 VALUES ($1, $2, $1, $3, $4)
		 ON CONFLICT (pk, sk) DO NOTHING`,
		tenantPK(sub.TenantID), submissionSK(sub.SubmissionID), gsi1sk, data,
	)
	if err != nil {
		return fmt.Errorf("put submission %s: %w", sub.SubmissionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("put submission %s: %w", sub.SubmissionID, submissionstore.ErrAlreadyExists)
	}
	return nil
}

// GetSubmission implements submissionstore.Store.
func (s *Store) GetSubmission(ctx context.Context, tenantID, submissionID string) (*submission.Submission, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM items WHERE pk = $1 AND sk = $2`,
		tenantPK(tenantID), submissionSK(submissionID),
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get submission %s: %w", submissionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get submission %s: %w", submissionID, err)
	}

	var sub submission.Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("decode submission %s: %w", submissionID, err)
	}
	return &sub, nil
}

// ListSubmissionsByTime implements submissionstore.Store using the GSI1
// index. Eventual consistency: reads from the same pool used for writes,
// so in this single-Postgres deployment it is in fact strongly
// consistent, but callers (Query API) must not rely on that — a
// cross-region read replica backend would not offer it.
func (s *Store) ListSubmissionsByTime(ctx context.Context, tenantID string, since, until time.Time, cursor string, limit int) ([]submission.Submission, string, error) {
	startSK := "TS#" + since.UTC().Format(time.RFC3339)
	endSK := "TS#" + until.UTC().Format(time.RFC3339) + "#￿"

	if cursor != "" {
		decoded, err := decodeCursor(cursor, tenantID)
		if err != nil {
			return nil, "", fmt.Errorf("list submissions: %w", err)
		}
		startSK = decoded
	}

	rows, err := s.pool.Query(ctx,
		`SELECT data FROM items
		 WHERE gsi1pk = $1 AND gsi1sk > $2 AND gsi1sk <= $3
		 ORDER BY gsi1sk ASC
		 LIMIT $4`,
		tenantPK(tenantID), startSK, endSK, limit+1,
	)
	if err != nil {
		return nil, "", fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var items []submission.Submission
	var lastSK string
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, "", fmt.Errorf("scan submission: %w", err)
		}
		var sub submission.Submission
		if err := json.Unmarshal(data, &sub); err != nil {
			return nil, "", fmt.Errorf("decode submission: %w", err)
		}
		items = append(items, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("list submissions: %w", err)
	}

	var nextCursor string
	if len(items) > limit {
		items = items[:limit]
		last := items[len(items)-1]
		lastSK = submissionGSI1SK(last.SubmittedAt.UTC().Format(time.RFC3339), last.SubmissionID)
		nextCursor = encodeCursor(lastSK, tenantID)
	}

	return items, nextCursor, nil
}

// encodeCursor/decodeCursor make the pagination cursor opaque and
// tenant-bound so a cursor minted for one tenant cannot be replayed
// against another (spec §4.12).
func encodeCursor(gsi1sk, tenantID string) string {
	raw := tenantID + "|" + gsi1sk
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor, tenantID string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("malformed cursor: %w", err)
	}
	s := string(raw)
	prefix := tenantID + "|"
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return "", errors.New("cursor does not belong to this tenant")
	}
	return s[len(prefix):], nil
}

// ListDestinations implements submissionstore.Store.
func (s *Store) ListDestinations(ctx context.Context, tenantID string) ([]destination.Destination, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM items WHERE pk = $1 AND sk LIKE 'DEST#%'`,
		tenantPK(tenantID),
	)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}
	defer rows.Close()

	var dests []destination.Destination
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan destination: %w", err)
		}
		var d destination.Destination
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decode destination: %w", err)
		}
		if d.Enabled {
			dests = append(dests, d)
		}
	}
	return dests, rows.Err()
}

// GetDestination implements submissionstore.Store.
func (s *Store) GetDestination(ctx context.Context, tenantID, destinationID string) (*destination.Destination, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM items WHERE pk = $1 AND sk = $2`,
		tenantPK(tenantID), destSK(destinationID),
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get destination %s: %w", destinationID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get destination %s: %w", destinationID, err)
	}

	var d destination.Destination
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode destination %s: %w", destinationID, err)
	}
	return &d, nil
}

// PutDestination upserts a destination item (external collaborator write
// path, core reads only per spec §3.1; exposed here for seeding/tests).
func (s *Store) PutDestination(ctx context.Context, d destination.Destination) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode destination %s: %w", d.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO items (pk, sk, data, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (pk, sk) DO UPDATE SET data = $3, updated_at = now()`,
		tenantPK(d.TenantID), destSK(d.ID), data,
	)
	if err != nil {
		return fmt.Errorf("put destination %s: %w", d.ID, err)
	}
	return nil
}

// AppendDeliveryAttempt implements submissionstore.Store. attempt_number
// is assigned from the current max for (submission_id, destination_id)
// inside the same transaction as the insert, so concurrent appends from
// different orchestrator workers cannot collide (spec §4.9 "Persisting
// attempts").
func (s *Store) AppendDeliveryAttempt(ctx context.Context, a delivery.Attempt) (delivery.Attempt, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return delivery.Attempt{}, fmt.Errorf("append attempt: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var maxN int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(CAST(split_part(sk, 'ATTEMPT#', 2) AS INT)), 0)
		 FROM items
		 WHERE pk = $1 AND sk LIKE $2`,
		attemptPK(a.SubmissionID), "DEST#"+a.DestinationID+"#ATTEMPT#%",
	).Scan(&maxN)
	if err != nil {
		return delivery.Attempt{}, fmt.Errorf("append attempt: read max: %w", err)
	}

	a.AttemptNumber = maxN + 1
	data, err := json.Marshal(a)
	if err != nil {
		return delivery.Attempt{}, fmt.Errorf("append attempt: encode: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO items (pk, sk, data) VALUES ($1, $2, $3)`,
		attemptPK(a.SubmissionID), attemptSK(a.DestinationID, a.AttemptNumber), data,
	)
	if err != nil {
		return delivery.Attempt{}, fmt.Errorf("append attempt: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return delivery.Attempt{}, fmt.Errorf("append attempt: commit: %w", err)
	}
	return a, nil
}

// IncrementRateBucket implements submissionstore.Store. The WHERE clause
// on the UPDATE arm makes the whole statement a single atomic
// increment-if-under-limit: if the existing count is already at limit,
// no row is updated (RowsAffected()==0) and the counter is left
// unchanged. A limit of zero or less rejects every call without touching
// the counter.
func (s *Store) IncrementRateBucket(ctx context.Context, scope string, bucketUnixMinute int64, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO items (pk, sk, data, count, expires_at)
		 VALUES ($1, $2, '{}'::jsonb, 1, now() + interval '2 minutes')
		 ON CONFLICT (pk, sk) DO UPDATE
		   SET count = items.count + 1
		   WHERE items.count < $3`,
		ratePK(scope), rateSK(bucketUnixMinute), limit,
	)
	if err != nil {
		return false, fmt.Errorf("increment rate bucket %s: %w", scope, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// The INSERT path and the successful UPDATE path both report
	// RowsAffected()>0; reaching here means a conflicting row existed and
	// the guarded UPDATE's WHERE clause did not match, i.e. count>=limit.
	return false, nil
}
