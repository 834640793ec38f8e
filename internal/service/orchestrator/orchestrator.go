// Package orchestrator implements the delivery orchestrator: the
// submission.received handler that fans a canonical event out to every
// configured destination, drives each through the deliverOne state
// machine, and emits a submission.closed summary (spec §4.9).
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/formbridge/ingest/internal/domain/delivery"
	"github.com/formbridge/ingest/internal/domain/destination"
	"github.com/formbridge/ingest/internal/domain/errkind"
	"github.com/formbridge/ingest/internal/domain/submission"
	"github.com/formbridge/ingest/internal/port/connector"
	"github.com/formbridge/ingest/internal/port/eventbus"
	"github.com/formbridge/ingest/internal/port/metrics"
	"github.com/formbridge/ingest/internal/port/ratelimiter"
	"github.com/formbridge/ingest/internal/port/secretstore"
	"github.com/formbridge/ingest/internal/port/submissionstore"
	"github.com/formbridge/ingest/internal/service/retrycontrol"
)

const (
	reasonMaxAttempts      = "max_attempts"
	reasonEventAgeExceeded = "event_age_exceeded"
)

// Config holds the orchestrator's concurrency and deadline knobs (spec
// §4.9, §6 config keys).
type Config struct {
	MaxConcurrentEvents int           // global cap on in-flight destination tasks
	PerTenantCap        int           // per-tenant cap on in-flight destination tasks
	PerSubmissionFanout int           // cap on concurrent destinations fanned out for one event (spec §5: default 10)
	MaxEventAge         time.Duration // hard wall-clock budget per destination (default 1h)
}

// Orchestrator fans a canonical event out to its destinations and drives
// each through the deliverOne state machine (spec §4.9).
type Orchestrator struct {
	store    submissionstore.Store
	registry connector.Registry
	bus      eventbus.Bus
	secrets  secretstore.Store
	bucket   ratelimiter.Bucket
	metrics  metrics.Recorder
	log      *slog.Logger
	cfg      Config

	now    func() time.Time
	jitter retrycontrol.Jitter

	globalSem chan struct{}

	mu         sync.Mutex
	tenantSems map[string]chan struct{}
}

// New builds an Orchestrator.
func New(
	store submissionstore.Store,
	registry connector.Registry,
	bus eventbus.Bus,
	secrets secretstore.Store,
	bucket ratelimiter.Bucket,
	rec metrics.Recorder,
	log *slog.Logger,
	cfg Config,
) *Orchestrator {
	if cfg.MaxConcurrentEvents <= 0 {
		cfg.MaxConcurrentEvents = 64
	}
	if cfg.PerTenantCap <= 0 {
		cfg.PerTenantCap = 16
	}
	if cfg.PerSubmissionFanout <= 0 {
		cfg.PerSubmissionFanout = 10
	}
	if cfg.MaxEventAge <= 0 {
		cfg.MaxEventAge = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store: store, registry: registry, bus: bus, secrets: secrets,
		bucket: bucket, metrics: rec, log: log, cfg: cfg,
		now:        time.Now,
		jitter:     func() float64 { return 0.5 + rand.Float64() },
		globalSem:  make(chan struct{}, cfg.MaxConcurrentEvents),
		tenantSems: make(map[string]chan struct{}),
	}
}

// Handle implements eventbus.Handler for submission.received (spec §4.3
// subscription 2). Only orchestration-level errors (store/list failures)
// are returned for the bus's own retry policy; per-destination failures
// are absorbed into DLQ records and never fail the whole event.
func (o *Orchestrator) Handle(ctx context.Context, msg eventbus.Message) error {
	var event submission.CanonicalEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return fmt.Errorf("orchestrator: decode canonical event: %w", err)
	}

	dests, err := o.store.ListDestinations(ctx, event.TenantID)
	if err != nil {
		return fmt.Errorf("orchestrator: list destinations: %w", err)
	}
	dests = filterDestinations(dests, event.Destinations)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]submission.DestinationOutcome, 0, len(dests))
		fanout  = make(chan struct{}, o.cfg.PerSubmissionFanout)
	)

	for _, d := range dests {
		d := d
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case fanout <- struct{}{}:
				defer func() { <-fanout }()
			case <-ctx.Done():
				return
			}
			outcome, attempts := o.deliverOne(ctx, event, d)
			mu.Lock()
			results = append(results, submission.DestinationOutcome{
				DestinationID: d.ID, FinalOutcome: string(outcome), Attempts: attempts,
			})
			mu.Unlock()
		}()
	}
	wg.Wait()

	summary := submission.ClosedSummary{SubmissionID: event.SubmissionID, PerDestination: results}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("orchestrator: encode closed summary: %w", err)
	}
	if _, err := o.bus.Publish(ctx, eventbus.SubjectSubmissionClosed, data, nil); err != nil {
		return fmt.Errorf("orchestrator: publish closed summary: %w", err)
	}
	return nil
}

func filterDestinations(all []destination.Destination, requested []string) []destination.Destination {
	if len(requested) == 0 {
		return all
	}
	wanted := make(map[string]bool, len(requested))
	for _, id := range requested {
		wanted[id] = true
	}
	out := make([]destination.Destination, 0, len(requested))
	for _, d := range all {
		if wanted[d.ID] {
			out = append(out, d)
		}
	}
	return out
}

// deliverOne drives one destination through Pending -> Rate-Checking ->
// Invoking -> Classifying -> {Succeeded, Scheduling-Retry, Failed} (spec
// §4.9 state table) until it reaches a terminal state.
func (o *Orchestrator) deliverOne(ctx context.Context, event submission.CanonicalEvent, dest destination.Destination) (delivery.Outcome, int) {
	release := o.acquire(ctx, event.TenantID)
	defer release()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return delivery.OutcomeRetryableFailure, attempt
		}
		if o.now().Sub(event.IngestedAt) > o.cfg.MaxEventAge {
			o.appendTerminal(ctx, event, dest, errkind.OrchestratorEventAgeExceeded, reasonEventAgeExceeded, attempt, 0)
			o.emitDLQ(ctx, event, dest, errkind.OrchestratorEventAgeExceeded, attempt)
			return delivery.OutcomeTerminalFailure, attempt
		}

		// Rate-Checking.
		bucketMinute := o.now().Unix() / 60
		underLimit, err := o.bucket.Increment(ctx, "destination:"+dest.ID, bucketMinute, destinationMinuteLimit(dest))
		if err != nil {
			o.log.Error("rate bucket check failed", "destination_id", dest.ID, "error", err)
			return delivery.OutcomeRetryableFailure, attempt
		}
		if !underLimit {
			delay := retrycontrol.RateLimitedDelay(o.now(), o.jitter)
			if !o.sleep(ctx, delay) {
				return delivery.OutcomeRetryableFailure, attempt
			}
			continue // back to Rate-Checking; this did not consume an attempt
		}

		// Invoking.
		attempt++
		credentials := o.resolveCredentials(ctx, dest)
		result := o.invoke(ctx, dest, event, credentials)

		// Classifying.
		switch result.Outcome {
		case delivery.OutcomeSuccess:
			o.appendAttempt(ctx, event, dest, attempt, result)
			o.recordMetrics(dest, result)
			return delivery.OutcomeSuccess, attempt

		case delivery.OutcomeRetryableFailure:
			decision := retrycontrol.Evaluate(attempt, dest.RetryPolicy, o.jitter)
			if decision.ShouldRetry {
				o.appendAttempt(ctx, event, dest, attempt, result)
				o.recordMetrics(dest, result)
				if !o.sleep(ctx, decision.Delay) {
					return delivery.OutcomeRetryableFailure, attempt
				}
				continue
			}
			o.appendTerminal(ctx, event, dest, result.ErrorKind, reasonMaxAttempts, attempt, result.Duration)
			o.recordMetrics(dest, result)
			o.emitDLQ(ctx, event, dest, result.ErrorKind, attempt)
			return delivery.OutcomeTerminalFailure, attempt

		default: // TerminalFailure
			o.appendAttempt(ctx, event, dest, attempt, result)
			o.recordMetrics(dest, result)
			o.emitDLQ(ctx, event, dest, result.ErrorKind, attempt)
			return delivery.OutcomeTerminalFailure, attempt
		}
	}
}

func (o *Orchestrator) invoke(ctx context.Context, dest destination.Destination, event submission.CanonicalEvent, credentials []byte) delivery.ConnectorResult {
	c, ok := o.registry.Lookup(dest.Type)
	if !ok {
		return delivery.Terminal(0, errkind.OrchestratorDestinationGone, fmt.Sprintf("no connector for type %q", dest.Type), 0)
	}
	cctx := connector.Context{Context: ctx, Logger: o.log, Metrics: o.metrics}
	return c.Deliver(cctx, dest, event, credentials)
}

func (o *Orchestrator) resolveCredentials(ctx context.Context, dest destination.Destination) []byte {
	if dest.Auth.Mode == destination.AuthNone || dest.Auth.SecretRef == "" {
		return nil
	}
	creds, err := o.secrets.GetCredential(ctx, dest.Auth.SecretRef)
	if err != nil {
		o.log.Warn("credential resolution failed", "destination_id", dest.ID, "error", err)
		return nil
	}
	return creds
}

func (o *Orchestrator) appendAttempt(ctx context.Context, event submission.CanonicalEvent, dest destination.Destination, n int, result delivery.ConnectorResult) {
	now := o.now()
	a := delivery.Attempt{
		SubmissionID:  event.SubmissionID,
		DestinationID: dest.ID,
		AttemptNumber: n,
		StartedAt:     now.Add(-result.Duration),
		FinishedAt:    now,
		Outcome:       result.Outcome,
		StatusCode:    result.StatusCode,
		ErrorKind:     result.ErrorKind,
		ErrorMessage:  result.Message,
		DurationMS:    result.Duration.Milliseconds(),
	}
	if _, err := o.store.AppendDeliveryAttempt(ctx, a); err != nil {
		o.log.Error("append delivery attempt failed", "submission_id", event.SubmissionID, "destination_id", dest.ID, "error", err)
	}
}

func (o *Orchestrator) appendTerminal(ctx context.Context, event submission.CanonicalEvent, dest destination.Destination, kind errkind.Kind, reason string, n int, dur time.Duration) {
	now := o.now()
	a := delivery.Attempt{
		SubmissionID:  event.SubmissionID,
		DestinationID: dest.ID,
		AttemptNumber: n,
		StartedAt:     now.Add(-dur),
		FinishedAt:    now,
		Outcome:       delivery.OutcomeTerminalFailure,
		ErrorKind:     kind,
		ErrorMessage:  reason,
		DurationMS:    dur.Milliseconds(),
	}
	if _, err := o.store.AppendDeliveryAttempt(ctx, a); err != nil {
		o.log.Error("append terminal attempt failed", "submission_id", event.SubmissionID, "destination_id", dest.ID, "error", err)
	}
}

func (o *Orchestrator) emitDLQ(ctx context.Context, event submission.CanonicalEvent, dest destination.Destination, kind errkind.Kind, attempts int) {
	rec := delivery.DLQRecord{
		SubmissionID:  event.SubmissionID,
		DestinationID: dest.ID,
		LastErrorKind: kind,
		AttemptCount:  attempts,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		o.log.Error("encode dlq record failed", "error", err)
		return
	}
	if _, err := o.bus.Publish(ctx, eventbus.SubjectDeliverDLQ, data, nil); err != nil {
		o.log.Error("publish dlq record failed", "submission_id", event.SubmissionID, "destination_id", dest.ID, "error", err)
	}
	if o.metrics != nil {
		o.metrics.IncDLQ(eventbus.SubjectDeliverDLQ)
	}
}

func (o *Orchestrator) recordMetrics(dest destination.Destination, result delivery.ConnectorResult) {
	if o.metrics == nil {
		return
	}
	o.metrics.IncDeliveryAttempt(dest.Type, result.Outcome)
	o.metrics.ObserveDeliveryDuration(dest.Type, result.Outcome, result.Duration.Seconds())
}

// sleep blocks for d or until ctx is canceled, returning false on
// cancellation (spec §4.9 "Cancellation").
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// acquire blocks until both the global and per-tenant concurrency budgets
// have a free slot (spec §4.9 step 2: "bounded by
// min(global_max_concurrency, tenant_max_concurrency)").
func (o *Orchestrator) acquire(ctx context.Context, tenantID string) func() {
	tenantSem := o.tenantSemaphore(tenantID)

	select {
	case o.globalSem <- struct{}{}:
	case <-ctx.Done():
		return func() {}
	}
	select {
	case tenantSem <- struct{}{}:
	case <-ctx.Done():
		<-o.globalSem
		return func() {}
	}

	return func() {
		<-tenantSem
		<-o.globalSem
	}
}

func (o *Orchestrator) tenantSemaphore(tenantID string) chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	sem, ok := o.tenantSems[tenantID]
	if !ok {
		sem = make(chan struct{}, o.cfg.PerTenantCap)
		o.tenantSems[tenantID] = sem
	}
	return sem
}

// destinationMinuteLimit converts a destination's requests-per-second
// limit to the fixed-window rate bucket's per-minute unit (spec §4.10:
// "default 10 req/s -> 600/min").
func destinationMinuteLimit(dest destination.Destination) int {
	return int(dest.EffectiveRateLimitRPS() * 60)
}
