// Package ingest implements the ingest handler's domain logic: validating
// the inbound body, building a CanonicalEvent, rate-limiting, and
// publishing to the EventBus (spec §4.2).
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/formbridge/ingest/internal/domain/errkind"
	"github.com/formbridge/ingest/internal/domain/submission"
	"github.com/formbridge/ingest/internal/domain/tenant"
	"github.com/formbridge/ingest/internal/port/eventbus"
	"github.com/formbridge/ingest/internal/port/ratelimiter"
)

// MaxPayloadBytes is the default cap on serialized payload size (spec
// §4.2 "Payload size ≤ 256 KiB after serialization").
const MaxPayloadBytes = 256 * 1024

// Body is the parsed JSON request body (spec §4.2 "Body contract").
type Body struct {
	SubmissionID  string          `json:"submission_id,omitempty"`
	Source        string          `json:"source,omitempty"`
	FormID        string          `json:"form_id"`
	SchemaVersion string          `json:"schema_version"`
	SubmittedAt   string          `json:"submitted_at,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Destinations  []string        `json:"destinations,omitempty"`
}

// ErrIngest carries the closed error kind for an ingest-time rejection;
// the HTTP layer maps Kind to a status code and client-facing body.
type ErrIngest struct {
	Kind errkind.Kind
}

func (e *ErrIngest) Error() string { return string(e.Kind) }

// Result is returned on a successful ingest.
type Result struct {
	SubmissionID string
	Receipt      eventbus.Receipt
}

// Handler implements the ingest procedure.
type Handler struct {
	bus             eventbus.Bus
	rateBucket      ratelimiter.Bucket
	maxPayloadBytes int
	now             func() time.Time
}

// New builds an ingest Handler. maxPayloadBytes of 0 uses MaxPayloadBytes.
func New(bus eventbus.Bus, rateBucket ratelimiter.Bucket, maxPayloadBytes int) *Handler {
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = MaxPayloadBytes
	}
	return &Handler{bus: bus, rateBucket: rateBucket, maxPayloadBytes: maxPayloadBytes, now: time.Now}
}

// Ingest validates body, builds the canonical event, enforces the
// per-tenant rate bucket, and publishes to the bus (spec §4.2 steps 1-4).
func (h *Handler) Ingest(ctx context.Context, tc tenant.Context, timestamp string, clientIP string, body Body) (Result, error) {
	if len(body.Payload) > h.maxPayloadBytes {
		return Result{}, &ErrIngest{Kind: errkind.IngestPayloadTooLarge}
	}
	if body.FormID == "" || body.SchemaVersion == "" || len(body.Payload) == 0 {
		return Result{}, &ErrIngest{Kind: errkind.IngestInvalidBody}
	}

	submissionID := body.SubmissionID
	if submissionID == "" {
		id, err := submission.NewID()
		if err != nil {
			return Result{}, fmt.Errorf("generate submission id: %w", err)
		}
		submissionID = id
	} else if !submission.ValidID(submissionID) {
		return Result{}, &ErrIngest{Kind: errkind.IngestInvalidBody}
	}

	submittedAt, err := resolveSubmittedAt(body.SubmittedAt, timestamp)
	if err != nil {
		return Result{}, &ErrIngest{Kind: errkind.IngestInvalidBody}
	}

	now := h.now()
	limit := tc.Tier.IngestLimitPerMinute()
	bucketMinute := now.Unix() / 60
	underLimit, err := h.rateBucket.Increment(ctx, "tenant:"+tc.TenantID, bucketMinute, limit)
	if err != nil {
		return Result{}, fmt.Errorf("check rate bucket: %w", err)
	}
	if !underLimit {
		return Result{}, &ErrIngest{Kind: errkind.IngestRateLimited}
	}

	event := submission.CanonicalEvent{
		TenantID:      tc.TenantID,
		Source:        body.Source,
		FormID:        body.FormID,
		SchemaVersion: body.SchemaVersion,
		SubmissionID:  submissionID,
		SubmittedAt:   submittedAt,
		IngestedAt:    now,
		ClientIP:      clientIP,
		Payload:       body.Payload,
		Destinations:  body.Destinations,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return Result{}, fmt.Errorf("encode canonical event: %w", err)
	}

	receipt, err := h.bus.Publish(ctx, eventbus.SubjectSubmissionReceived, data, nil)
	if err != nil {
		return Result{}, fmt.Errorf("publish canonical event: %w", &ErrIngest{Kind: errkind.BusPublishFailed})
	}

	return Result{SubmissionID: submissionID, Receipt: receipt}, nil
}

// resolveSubmittedAt parses submittedAt if present, else falls back to the
// request's X-Timestamp (spec §4.2 "submitted_at ... defaults to
// X-Timestamp").
func resolveSubmittedAt(submittedAt, requestTimestamp string) (time.Time, error) {
	if submittedAt != "" {
		return time.Parse(time.RFC3339, submittedAt)
	}
	return time.Parse(time.RFC3339, requestTimestamp)
}
