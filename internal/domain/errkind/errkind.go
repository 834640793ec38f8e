// Package errkind defines the closed enum of error kinds surfaced in
// structured logs, HTTP error envelopes, and DLQ records.
package errkind

// Kind is a closed, string-valued error classification. New values must
// be added here, not invented ad hoc at call sites, so that logs and DLQ
// records stay grep-able across the whole service.
type Kind string

const (
	// Ingest / auth layer.
	AuthMissingHeader  Kind = "auth.missing_header"
	AuthStaleTimestamp Kind = "auth.stale_timestamp"
	AuthUnknownTenant  Kind = "auth.unknown_tenant"
	AuthBadSignature   Kind = "auth.bad_signature"
	AuthTenantMismatch Kind = "auth.tenant_mismatch"

	IngestInvalidBody      Kind = "ingest.invalid_body"
	IngestPayloadTooLarge  Kind = "ingest.payload_too_large"
	IngestRateLimited      Kind = "ingest.rate_limited"
	BusPublishFailed       Kind = "bus.publish_failed"

	// Persister / store layer.
	StoreConflict    Kind = "store.conflict"
	StoreUnavailable Kind = "store.unavailable"

	// Delivery / connector layer.
	ConnectorNetwork     Kind = "connector.network"
	ConnectorTimeout     Kind = "connector.timeout"
	ConnectorHTTP5xx     Kind = "connector.http_5xx"
	ConnectorRateLimited Kind = "connector.rate_limited"
	ConnectorHTTP4xx     Kind = "connector.http_4xx"

	OrchestratorEventAgeExceeded  Kind = "orchestrator.event_age_exceeded"
	OrchestratorDestinationGone   Kind = "orchestrator.destination_deleted"
)

// Retryable reports whether an error of this kind should be retried by the
// delivery orchestrator rather than treated as terminal.
func (k Kind) Retryable() bool {
	switch k {
	case ConnectorNetwork, ConnectorTimeout, ConnectorHTTP5xx, ConnectorRateLimited,
		StoreUnavailable:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the status code an ingest-layer kind should produce.
// Returns 0 for kinds that never surface directly to an HTTP caller.
func (k Kind) HTTPStatus() int {
	switch k {
	case AuthMissingHeader, AuthStaleTimestamp, AuthUnknownTenant, AuthBadSignature:
		return 401
	case AuthTenantMismatch:
		return 403
	case IngestInvalidBody:
		return 400
	case IngestPayloadTooLarge:
		return 413
	case IngestRateLimited:
		return 429
	case BusPublishFailed:
		return 503
	default:
		return 0
	}
}
