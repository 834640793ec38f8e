// Package query implements the tenant-scoped submission listing API
// (spec §4.12).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/formbridge/ingest/internal/domain/errkind"
	"github.com/formbridge/ingest/internal/domain/submission"
	"github.com/formbridge/ingest/internal/port/submissionstore"
)

const (
	defaultLimit = 50
	minLimit     = 1
	maxLimit     = 200

	payloadPreviewBytes = 256
)

// Item is one row of the query response (spec §4.12 response shape).
type Item struct {
	SubmissionID   string `json:"submission_id"`
	FormID         string `json:"form_id"`
	SubmittedAt    string `json:"submitted_at"`
	Status         string `json:"status"`
	PayloadPreview string `json:"payload_preview"`
}

// Result is the full query response.
type Result struct {
	Items      []Item `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// ErrQuery carries the closed error kind for a rejected query.
type ErrQuery struct {
	Kind errkind.Kind
}

func (e *ErrQuery) Error() string { return string(e.Kind) }

// Service implements the Query API procedure.
type Service struct {
	store submissionstore.Store
}

// New builds a query Service.
func New(store submissionstore.Store) *Service {
	return &Service{store: store}
}

// List runs listSubmissionsByTime with limit clamped to [1, 200], default
// 50 (spec §4.12 "Procedure"). List does no tenant check of its own: the
// caller rejects a request whose verified tenant differs from tenantID with
// auth.tenant_mismatch (spec §4.12 "Auth") before calling List.
func (s *Service) List(ctx context.Context, tenantID string, since, until time.Time, cursor string, limit int) (Result, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit < minLimit {
		limit = minLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	subs, nextCursor, err := s.store.ListSubmissionsByTime(ctx, tenantID, since, until, cursor, limit)
	if err != nil {
		return Result{}, fmt.Errorf("query: list submissions: %w", err)
	}

	items := make([]Item, 0, len(subs))
	for _, sub := range subs {
		items = append(items, toItem(sub))
	}
	return Result{Items: items, NextCursor: nextCursor}, nil
}

func toItem(sub submission.Submission) Item {
	return Item{
		SubmissionID:   sub.SubmissionID,
		FormID:         sub.FormID,
		SubmittedAt:    sub.SubmittedAt.UTC().Format(time.RFC3339),
		Status:         string(sub.Status),
		PayloadPreview: sub.PayloadPreview(payloadPreviewBytes),
	}
}
