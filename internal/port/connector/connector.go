// Package connector defines the uniform contract every delivery-target
// implementation satisfies (spec §4.7).
package connector

import (
	"context"
	"log/slog"

	"github.com/formbridge/ingest/internal/domain/delivery"
	"github.com/formbridge/ingest/internal/domain/destination"
	"github.com/formbridge/ingest/internal/domain/submission"
)

// Context carries the per-attempt deadline, logger and metrics emitter a
// connector invocation needs without giving it write access to anything
// else (spec §4.7). Connectors must honor ctx.Context's deadline and must
// not retry internally — retry is the orchestrator's job.
type Context struct {
	context.Context
	Logger  *slog.Logger
	Metrics Metrics
}

// Metrics is the narrow metrics surface a connector may emit against; kept
// separate from internal/port/metrics so connectors can't reach into
// unrelated counters.
type Metrics interface {
	ObserveDeliveryDuration(destinationType string, outcome delivery.Outcome, seconds float64)
}

// Connector delivers one canonical event to one destination. Implementations
// must be side-effect-free beyond the network call itself — no shared
// mutable state across invocations — and must stamp the submission ID onto
// the outbound request so downstream systems can dedupe.
type Connector interface {
	Deliver(cctx Context, dest destination.Destination, event submission.CanonicalEvent, credentials []byte) delivery.ConnectorResult
}

// Registry maps a destination's Type to the Connector that serves it.
type Registry interface {
	Lookup(destinationType string) (Connector, bool)
}
