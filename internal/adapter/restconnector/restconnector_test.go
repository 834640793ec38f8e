package restconnector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/formbridge/ingest/internal/domain/delivery"
	"github.com/formbridge/ingest/internal/domain/destination"
	"github.com/formbridge/ingest/internal/domain/errkind"
	"github.com/formbridge/ingest/internal/domain/submission"
	"github.com/formbridge/ingest/internal/port/connector"
)

func testEvent() submission.CanonicalEvent {
	return submission.CanonicalEvent{
		TenantID:      "tenant-1",
		Source:        "website",
		FormID:        "contact",
		SchemaVersion: "1",
		SubmissionID:  "01890a5d-ac96-774b-bcce-b302099a8057",
		SubmittedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		IngestedAt:    time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		ClientIP:      "203.0.113.5",
		Payload:       json.RawMessage(`{"email":"a@example.com","name":"Ada"}`),
		Destinations:  []string{"dest-1"},
	}
}

func cctx() connector.Context {
	return connector.Context{Context: context.Background()}
}

func TestDeliver_Success(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		if r.Header.Get(headerSubmissionID) == "" {
			t.Error("missing submission id header")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(nil)
	dest := destination.Destination{
		Endpoint: srv.URL,
		Method:   http.MethodPost,
		FieldMapping: map[string]string{
			"email_address": "payload.email",
		},
	}

	result := c.Deliver(cctx(), dest, testEvent(), nil)
	if result.Outcome != delivery.OutcomeSuccess {
		t.Fatalf("outcome = %v, want success", result.Outcome)
	}
	if gotBody["email_address"] != "a@example.com" {
		t.Errorf("mapped body = %v", gotBody)
	}
}

func TestDeliver_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(nil)
	dest := destination.Destination{Endpoint: srv.URL}

	result := c.Deliver(cctx(), dest, testEvent(), nil)
	if result.Outcome != delivery.OutcomeRetryableFailure {
		t.Fatalf("outcome = %v, want retryable", result.Outcome)
	}
	if result.ErrorKind != errkind.ConnectorHTTP5xx {
		t.Errorf("error kind = %v", result.ErrorKind)
	}
}

func TestDeliver_ClientErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := New(nil)
	dest := destination.Destination{Endpoint: srv.URL}

	result := c.Deliver(cctx(), dest, testEvent(), nil)
	if result.Outcome != delivery.OutcomeTerminalFailure {
		t.Fatalf("outcome = %v, want terminal", result.Outcome)
	}
	if result.ErrorKind != errkind.ConnectorHTTP4xx {
		t.Errorf("error kind = %v", result.ErrorKind)
	}
}

func TestDeliver_TooManyRequestsIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(nil)
	dest := destination.Destination{Endpoint: srv.URL}

	result := c.Deliver(cctx(), dest, testEvent(), nil)
	if result.Outcome != delivery.OutcomeRetryableFailure {
		t.Fatalf("outcome = %v, want retryable", result.Outcome)
	}
	if result.ErrorKind != errkind.ConnectorRateLimited {
		t.Errorf("error kind = %v", result.ErrorKind)
	}
}

func TestDeliver_AuthModes(t *testing.T) {
	tests := []struct {
		name   string
		auth   destination.Auth
		creds  string
		verify func(t *testing.T, r *http.Request)
	}{
		{
			name:  "api_key_header default",
			auth:  destination.Auth{Mode: destination.AuthAPIKeyHeader},
			creds: "secret-key",
			verify: func(t *testing.T, r *http.Request) {
				if r.Header.Get("X-API-Key") != "secret-key" {
					t.Errorf("X-API-Key = %q", r.Header.Get("X-API-Key"))
				}
			},
		},
		{
			name:  "api_key_header custom",
			auth:  destination.Auth{Mode: destination.AuthAPIKeyHeader, Header: "X-Custom-Key"},
			creds: "secret-key",
			verify: func(t *testing.T, r *http.Request) {
				if r.Header.Get("X-Custom-Key") != "secret-key" {
					t.Errorf("X-Custom-Key = %q", r.Header.Get("X-Custom-Key"))
				}
			},
		},
		{
			name:  "bearer",
			auth:  destination.Auth{Mode: destination.AuthBearer},
			creds: "tok123",
			verify: func(t *testing.T, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer tok123" {
					t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotReq *http.Request
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotReq = r
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			c := New(nil)
			dest := destination.Destination{Endpoint: srv.URL, Auth: tt.auth}
			result := c.Deliver(cctx(), dest, testEvent(), []byte(tt.creds))
			if result.Outcome != delivery.OutcomeSuccess {
				t.Fatalf("outcome = %v", result.Outcome)
			}
			tt.verify(t, gotReq)
		})
	}
}

func TestDeliver_NoFieldMappingSendsWholeEvent(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(nil)
	dest := destination.Destination{Endpoint: srv.URL}
	c.Deliver(cctx(), dest, testEvent(), nil)

	if gotBody["submission_id"] != testEvent().SubmissionID {
		t.Errorf("whole-event body missing submission_id: %v", gotBody)
	}
}
