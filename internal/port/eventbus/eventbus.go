// Package eventbus defines the port for canonical-event publish/subscribe
// with per-subscription retry and DLQ policy (spec §4.3).
package eventbus

import "context"

// Subject names the four topics Form-Bridge's core uses. Subjects are
// plain strings at the port boundary; named constants keep call sites from
// drifting.
const (
	SubjectSubmissionReceived = "submission.received"
	SubjectSubmissionClosed   = "submission.closed"
	SubjectPersistDLQ         = "persist.dlq"
	SubjectDeliverDLQ         = "deliver.dlq"
)

// Policy controls how a subscription retries a failing handler before
// routing the event to its DLQ topic (spec §4.3), and how many
// deliveries for that subscription may run concurrently (spec §5
// concurrency bounds: persister 16, orchestrator 32).
type Policy struct {
	MaxAttempts    int
	DLQSubject     string
	MaxConcurrency int // in-flight handler invocations for this subscription; <=1 means sequential
}

// Handler processes one delivered message. Returning an error causes the
// bus to retry per the subscription's Policy; handlers must be idempotent
// since the bus may invoke them more than once for the same message, and
// may invoke concurrently.
type Handler func(ctx context.Context, msg Message) error

// Message is one bus delivery: a subject, its raw payload, and any
// propagated headers (used to carry the request ID for log correlation).
type Message struct {
	Subject string
	Data    []byte
	Headers map[string]string
}

// Receipt is returned by Publish as a best-effort durable-enqueue proof.
type Receipt struct {
	Subject string
	Seq     uint64
}

// Bus is the port the core depends on for event publication and
// subscription. Delivery guarantee is at-least-once per subscribed
// handler; ordering is not guaranteed (spec §4.3).
type Bus interface {
	// Publish enqueues detail on subject and returns a receipt, or an
	// error if the bus could not accept it within its bounded timeout.
	Publish(ctx context.Context, subject string, detail []byte, headers map[string]string) (Receipt, error)

	// Subscribe registers handler for subject under policy. Subscribe
	// blocks only long enough to establish the subscription; message
	// processing happens on the bus's own goroutines.
	Subscribe(ctx context.Context, subject string, policy Policy, handler Handler) error

	// Ready reports whether the bus connection is usable.
	Ready(ctx context.Context) error

	// Close drains in-flight work and releases the connection.
	Close(ctx context.Context) error
}
