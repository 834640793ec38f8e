// Package delivery defines the delivery-attempt and outcome domain model
// (spec §3.1, §4.7).
package delivery

import (
	"time"

	"github.com/formbridge/ingest/internal/domain/errkind"
)

// Outcome classifies the result of one connector invocation (spec §4.7).
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeRetryableFailure Outcome = "retryable_failure"
	OutcomeTerminalFailure  Outcome = "terminal_failure"
)

// ConnectorResult is what a connector returns from deliver(...) (spec §4.7).
// Exactly one of the three constructors below should be used to build one.
type ConnectorResult struct {
	Outcome    Outcome
	StatusCode int
	ErrorKind  errkind.Kind
	Message    string
	Duration   time.Duration
}

// Success builds a successful ConnectorResult.
func Success(statusCode int, d time.Duration) ConnectorResult {
	return ConnectorResult{Outcome: OutcomeSuccess, StatusCode: statusCode, Duration: d}
}

// Retryable builds a retryable-failure ConnectorResult.
func Retryable(statusCode int, kind errkind.Kind, msg string, d time.Duration) ConnectorResult {
	return ConnectorResult{Outcome: OutcomeRetryableFailure, StatusCode: statusCode, ErrorKind: kind, Message: msg, Duration: d}
}

// Terminal builds a terminal-failure ConnectorResult.
func Terminal(statusCode int, kind errkind.Kind, msg string, d time.Duration) ConnectorResult {
	return ConnectorResult{Outcome: OutcomeTerminalFailure, StatusCode: statusCode, ErrorKind: kind, Message: msg, Duration: d}
}

// Attempt is the append-only delivery-attempt record persisted for every
// connector invocation (spec §3.1).
type Attempt struct {
	SubmissionID  string       `json:"submission_id"`
	DestinationID string       `json:"destination_id"`
	AttemptNumber int          `json:"attempt_number"` // starts at 1, gap-free per (submission_id, destination_id)
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    time.Time    `json:"finished_at"`
	Outcome       Outcome      `json:"outcome"`
	StatusCode    int          `json:"status_code"`
	ErrorKind     errkind.Kind `json:"error_kind,omitempty"`
	ErrorMessage  string       `json:"error_message,omitempty"`
	DurationMS    int64        `json:"duration_ms"`
	NextRetryAt   *time.Time   `json:"next_retry_at,omitempty"`
}

// DLQRecord is published to a *.dlq topic when an attempt sequence
// terminally fails (spec §4.3, §7).
type DLQRecord struct {
	SubmissionID  string       `json:"submission_id"`
	DestinationID string       `json:"destination_id"`
	LastErrorKind errkind.Kind `json:"last_error_kind"`
	AttemptCount  int          `json:"attempt_count"`
}
