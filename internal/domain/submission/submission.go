// Package submission defines the canonical event and submission record
// domain model (spec §3.1, §6.2).
package submission

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status tracks a Submission's lifecycle (spec §3.1).
type Status string

const (
	StatusReceived  Status = "received"
	StatusPersisted Status = "persisted"
	StatusClosed    Status = "closed"
)

// NewID generates a time-ordered UUIDv7 submission ID.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ValidID reports whether s parses as a UUID (v7 format is not otherwise
// distinguishable from v4 by the stdlib parser, so this only checks
// well-formedness; the spec requires a v7 value but does not require the
// service to reject a well-formed v4 supplied by a misbehaving client —
// it simply never emits one itself).
func ValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// CanonicalEvent is the normalized internal representation of one form
// submission, published to the EventBus under detail-type
// "submission.received" (spec §6.2).
type CanonicalEvent struct {
	TenantID       string          `json:"tenant_id"`
	Source         string          `json:"source,omitempty"`
	FormID         string          `json:"form_id"`
	SchemaVersion  string          `json:"schema_version"`
	SubmissionID   string          `json:"submission_id"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	IngestedAt     time.Time       `json:"ingested_at"`
	ClientIP       string          `json:"client_ip"`
	Payload        json.RawMessage `json:"payload"`
	Destinations   []string        `json:"destinations,omitempty"`
}

// Submission is the persisted record created by the Persister from a
// CanonicalEvent (spec §3.1).
type Submission struct {
	TenantID      string          `json:"tenant_id"`
	SubmissionID  string          `json:"submission_id"`
	Source        string          `json:"source,omitempty"`
	FormID        string          `json:"form_id"`
	SchemaVersion string          `json:"schema_version"`
	SubmittedAt   time.Time       `json:"submitted_at"`
	ClientIP      string          `json:"client_ip"`
	Payload       json.RawMessage `json:"payload"`
	Destinations  []string        `json:"destinations,omitempty"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// FromEvent builds the persisted record from a canonical event, with
// status "persisted" (spec §4.6 step 1).
func FromEvent(ev CanonicalEvent) Submission {
	return Submission{
		TenantID:      ev.TenantID,
		SubmissionID:  ev.SubmissionID,
		Source:        ev.Source,
		FormID:        ev.FormID,
		SchemaVersion: ev.SchemaVersion,
		SubmittedAt:   ev.SubmittedAt,
		ClientIP:      ev.ClientIP,
		Payload:       ev.Payload,
		Destinations:  ev.Destinations,
		Status:        StatusPersisted,
	}
}

// ClosedSummary is published to "submission.closed" once the delivery
// orchestrator has driven every destination to a terminal state (spec §4.9
// step 5).
type ClosedSummary struct {
	SubmissionID    string               `json:"submission_id"`
	PerDestination  []DestinationOutcome `json:"per_destination"`
}

// DestinationOutcome summarizes one destination's final delivery state
// within a ClosedSummary.
type DestinationOutcome struct {
	DestinationID string `json:"destination_id"`
	FinalOutcome  string `json:"final_outcome"`
	Attempts      int    `json:"attempts"`
}

// PayloadPreview returns up to n bytes of the serialized payload, for
// dashboard listing (spec §4.12).
func (s Submission) PayloadPreview(n int) string {
	b := []byte(s.Payload)
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
