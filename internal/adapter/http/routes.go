package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/formbridge/ingest/internal/config"
	"github.com/formbridge/ingest/internal/domain/errkind"
	fbmw "github.com/formbridge/ingest/internal/middleware"
	"github.com/formbridge/ingest/internal/port/eventbus"
	"github.com/formbridge/ingest/internal/port/submissionstore"
	"github.com/formbridge/ingest/internal/service/authenticator"
	"github.com/formbridge/ingest/internal/service/ingest"
	"github.com/formbridge/ingest/internal/service/query"
)

const (
	headerTenantID  = "X-Tenant-Id"
	headerTimestamp = "X-Timestamp"
	headerSignature = "X-Signature"

	// headerVerifiedTenant carries the tenant_id of an already-verified
	// dashboard session, set by the external auth middleware in front of
	// this service (spec §4.1 "Read-path authentication": "the core
	// itself performs no session management").
	headerVerifiedTenant = "X-Verified-Tenant-Id"
)

var validate = validator.New()

// ingestBody mirrors ingest.Body with validator tags for the subset the
// HTTP layer can check before handing off to the service (spec §4.2 "Body
// contract").
type ingestBody struct {
	SubmissionID  string          `json:"submission_id"`
	Source        string          `json:"source"`
	FormID        string          `json:"form_id" validate:"required"`
	SchemaVersion string          `json:"schema_version" validate:"required"`
	SubmittedAt   string          `json:"submitted_at"`
	Payload       json.RawMessage `json:"payload" validate:"required"`
	Destinations  []string        `json:"destinations"`
}

// Server wires the Form-Bridge HTTP surface (spec §4.13) on top of a chi
// router, using the already-built service layer for ingest, query, and
// readiness.
type Server struct {
	router      *chi.Mux
	rateLimiter *fbmw.RateLimiter
	stopCleanup func()

	auth         *authenticator.Authenticator
	ingest       *ingest.Handler
	query        *query.Service
	store        submissionstore.Store
	bus          eventbus.Bus
	maxBodyBytes int64
}

// NewServer builds the routed HTTP server. rateCfg configures the per-IP
// ingress limiter that runs ahead of the tenant/destination rate buckets
// enforced later by the ingest and orchestrator services. maxPayloadBytes
// is the configured ingest.max_payload_bytes cap (spec §6.4); the HTTP
// layer reads up to twice that many bytes to allow room for the envelope
// fields (tenant/form/schema metadata) around the payload itself before
// classifying the request as too large.
func NewServer(auth *authenticator.Authenticator, ingestHandler *ingest.Handler, queryService *query.Service, store submissionstore.Store, bus eventbus.Bus, rateCfg config.Rate, maxPayloadBytes int64) *Server {
	rl := fbmw.NewRateLimiter(rateCfg.RequestsPerSecond, rateCfg.Burst)
	stopCleanup := rl.StartCleanup(rateCfg.CleanupInterval, rateCfg.MaxIdleTime)

	if maxPayloadBytes <= 0 {
		maxPayloadBytes = ingest.MaxPayloadBytes
	}

	s := &Server{
		auth: auth, ingest: ingestHandler, query: queryService, store: store, bus: bus,
		rateLimiter: rl, stopCleanup: stopCleanup, maxBodyBytes: maxPayloadBytes * 2,
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(fbmw.RequestID)
	r.Use(Logger)
	r.Use(SecurityHeaders)
	r.Use(rl.Handler)
	r.Post("/ingest", s.handleIngest)
	r.Get("/submissions", s.handleQuery)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	s.router = r
	return s
}

// Close stops the rate limiter's background bucket-cleanup goroutine.
func (s *Server) Close() {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
}

// Router exposes the underlying chi.Mux so the caller can mount
// additional handlers (e.g. a Prometheus /metrics endpoint) without this
// package importing prometheus directly.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler. Request-ID assignment happens in
// fbmw.RequestID, mounted in the router's middleware chain ahead of Logger.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rawBody, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrEnvelope(w, http.StatusRequestEntityTooLarge, errkind.IngestPayloadTooLarge, "request body exceeds configured limit")
			return
		}
		writeErrEnvelope(w, http.StatusBadRequest, errkind.IngestInvalidBody, "could not read request body")
		return
	}

	timestamp := r.Header.Get(headerTimestamp)
	tc, err := s.auth.Authenticate(ctx, authenticator.Request{
		TenantID:  r.Header.Get(headerTenantID),
		Timestamp: timestamp,
		Signature: r.Header.Get(headerSignature),
		RawBody:   rawBody,
	})
	if err != nil {
		writeAuthFailure(w, err)
		return
	}

	var body ingestBody
	if err := json.Unmarshal(rawBody, &body); err != nil {
		writeErrEnvelope(w, http.StatusBadRequest, errkind.IngestInvalidBody, "malformed JSON body")
		return
	}
	if err := validate.Struct(body); err != nil {
		writeErrEnvelope(w, http.StatusBadRequest, errkind.IngestInvalidBody, "missing required field")
		return
	}

	result, err := s.ingest.Ingest(ctx, tc, timestamp, clientIP(r), ingest.Body{
		SubmissionID:  body.SubmissionID,
		Source:        body.Source,
		FormID:        body.FormID,
		SchemaVersion: body.SchemaVersion,
		SubmittedAt:   body.SubmittedAt,
		Payload:       body.Payload,
		Destinations:  body.Destinations,
	})
	if err != nil {
		var ingestErr *ingest.ErrIngest
		if errors.As(err, &ingestErr) {
			status := ingestErr.Kind.HTTPStatus()
			if ingestErr.Kind == errkind.IngestRateLimited {
				w.Header().Set("Retry-After", "60")
			}
			writeErrEnvelope(w, status, ingestErr.Kind, string(ingestErr.Kind))
			return
		}
		writeErrEnvelope(w, http.StatusServiceUnavailable, errkind.BusPublishFailed, "could not accept submission")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "submission_id": result.SubmissionID})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	verifiedTenant := r.Header.Get(headerVerifiedTenant)
	if verifiedTenant == "" {
		writeErrEnvelope(w, http.StatusUnauthorized, errkind.AuthMissingHeader, "missing verified session")
		return
	}
	requestedTenant := q.Get("tenant_id")
	if requestedTenant != verifiedTenant {
		writeErrEnvelope(w, http.StatusForbidden, errkind.AuthTenantMismatch, "tenant mismatch")
		return
	}

	since, until := parseTimeRange(q)
	limit, _ := strconv.Atoi(q.Get("limit"))

	result, err := s.query.List(ctx, requestedTenant, since, until, q.Get("cursor"), limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.store.Ready(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store not ready"})
		return
	}
	if err := s.bus.Ready(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "bus not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeAuthFailure produces the uniform 401 response required by spec
// §4.1 "Failure semantics": identical body regardless of the specific
// kind, with the kind visible only in the structured server-side log.
func writeAuthFailure(w http.ResponseWriter, err error) {
	var authErr *authenticator.ErrAuth
	if errors.As(err, &authErr) {
		writeJSON(w, http.StatusUnauthorized, errEnvelope{Error: errDetail{Kind: "auth_failed", Message: "authentication failed"}})
		return
	}
	writeErrEnvelope(w, http.StatusServiceUnavailable, errkind.StoreUnavailable, "authentication temporarily unavailable")
}

type errEnvelope struct {
	Error errDetail `json:"error"`
}

type errDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeErrEnvelope(w http.ResponseWriter, status int, kind errkind.Kind, message string) {
	writeJSON(w, status, errEnvelope{Error: errDetail{Kind: string(kind), Message: message}})
}

func parseTimeRange(q interface{ Get(string) string }) (time.Time, time.Time) {
	since, _ := time.Parse(time.RFC3339, q.Get("since"))
	until, err := time.Parse(time.RFC3339, q.Get("until"))
	if err != nil {
		until = time.Now()
	}
	return since, until
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
