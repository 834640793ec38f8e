// Package persister implements the submission.received handler that
// writes the durable Submission record (spec §4.6).
package persister

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/formbridge/ingest/internal/domain/submission"
	"github.com/formbridge/ingest/internal/port/eventbus"
	"github.com/formbridge/ingest/internal/port/submissionstore"
)

// Persister writes a Submission record for every submission.received
// event, absorbing duplicates (spec §4.6 step 2).
type Persister struct {
	store submissionstore.Store
	log   *slog.Logger
}

// New builds a Persister.
func New(store submissionstore.Store, log *slog.Logger) *Persister {
	if log == nil {
		log = slog.Default()
	}
	return &Persister{store: store, log: log}
}

// Handle implements eventbus.Handler, subscribed to submission.received
// (spec §4.3 subscription 1).
func (p *Persister) Handle(ctx context.Context, msg eventbus.Message) error {
	var event submission.CanonicalEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return fmt.Errorf("persister: decode canonical event: %w", err)
	}

	record := submission.FromEvent(event)

	err := p.store.PutSubmissionIfAbsent(ctx, record)
	if err == nil {
		return nil
	}
	if errors.Is(err, submissionstore.ErrAlreadyExists) {
		p.log.Info("duplicate submission absorbed", "submission_id", event.SubmissionID, "tenant_id", event.TenantID)
		return nil
	}
	return fmt.Errorf("persister: put submission %s: %w", event.SubmissionID, err)
}
