// Package metrics defines the observability-hook port (spec §2 row 14,
// §5): counter/histogram emission behind an interface so the service
// layer never imports prometheus directly.
package metrics

import "github.com/formbridge/ingest/internal/domain/delivery"

// Recorder is the narrow metrics surface the service layer emits against.
// internal/adapter/metrics provides the prometheus-backed implementation;
// cmd/formbridge wires it regardless of config.Metrics.Enabled, which only
// decides whether /metrics is served.
type Recorder interface {
	IncIngest(tenantID string, status string)
	IncDeliveryAttempt(destinationType string, outcome delivery.Outcome)
	ObserveDeliveryDuration(destinationType string, outcome delivery.Outcome, seconds float64)
	IncDLQ(topic string)
	SetOrchestratorInFlight(n int)
}
