// Package nats implements the eventbus.Bus port using NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/formbridge/ingest/internal/logger"
	"github.com/formbridge/ingest/internal/port/eventbus"
	"github.com/formbridge/ingest/internal/resilience"
)

const (
	streamName      = "FORMBRIDGE"
	headerRequestID = "X-Request-ID"
	nakDelay        = 2 * time.Second
)

// Queue implements eventbus.Bus using NATS JetStream.
type Queue struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	breaker *resilience.Breaker
}

// Connect establishes a connection to NATS and ensures the JetStream stream
// exists with Form-Bridge's four subjects (spec §4.3).
func Connect(ctx context.Context, url string) (*Queue, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name: streamName,
		Subjects: []string{
			eventbus.SubjectSubmissionReceived,
			eventbus.SubjectSubmissionClosed,
			eventbus.SubjectPersistDLQ,
			eventbus.SubjectDeliverDLQ,
		},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js}, nil
}

// SetBreaker attaches a circuit breaker to the publish path.
func (q *Queue) SetBreaker(b *resilience.Breaker) {
	q.breaker = b
}

// Publish implements eventbus.Bus. If the context carries a request ID, it
// is injected as a NATS header alongside any caller-supplied headers. If a
// circuit breaker is attached, the publish is wrapped in it.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) (eventbus.Receipt, error) {
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}

	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	if reqID := logger.RequestID(ctx); reqID != "" {
		msg.Header.Set(headerRequestID, reqID)
	}

	var ack *jetstream.PubAck
	publish := func() error {
		a, err := q.js.PublishMsg(ctx, msg)
		if err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		ack = a
		return nil
	}

	var err error
	if q.breaker != nil {
		err = q.breaker.Execute(publish)
	} else {
		err = publish()
	}
	if err != nil {
		return eventbus.Receipt{}, err
	}
	return eventbus.Receipt{Subject: subject, Seq: ack.Sequence}, nil
}

// Subscribe implements eventbus.Bus. Messages that fail handler processing
// are NAK'd with a delay and retried up to policy.MaxAttempts times, then
// moved to policy.DLQSubject. Up to policy.MaxConcurrency deliveries for
// this subscription run at once (spec §5 per-pool concurrency bounds); once
// that many are in flight, the Consume callback blocks on the semaphore and
// no further message is dispatched until one of them finishes.
func (q *Queue) Subscribe(ctx context.Context, subject string, policy eventbus.Policy, handler eventbus.Handler) error {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("nats consumer create: %w", err)
	}

	maxConcurrency := policy.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	sem := make(chan struct{}, maxConcurrency)

	_, err = consumer.Consume(func(msg jetstream.Msg) {
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			q.handleDelivery(ctx, msg, policy, handler)
		}()
	})
	if err != nil {
		return fmt.Errorf("nats consume: %w", err)
	}

	return nil
}

// handleDelivery runs handler for one delivered message and acks, naks, or
// DLQs it based on the outcome.
func (q *Queue) handleDelivery(ctx context.Context, msg jetstream.Msg, policy eventbus.Policy, handler eventbus.Handler) {
	msgCtx := ctx
	hdrs := msg.Headers()

	headers := map[string]string{}
	if hdrs != nil {
		for k := range hdrs {
			headers[k] = hdrs.Get(k)
		}
		if reqID := hdrs.Get(headerRequestID); reqID != "" {
			msgCtx = logger.WithRequestID(msgCtx, reqID)
		}
	}

	busMsg := eventbus.Message{Subject: msg.Subject(), Data: msg.Data(), Headers: headers}

	if err := handler(msgCtx, busMsg); err != nil {
		delivered := deliveryCount(msg)
		slog.Error("message handler failed",
			"subject", msg.Subject(),
			"request_id", logger.RequestID(msgCtx),
			"delivered", delivered,
			"error", err,
		)

		if delivered >= policy.MaxAttempts {
			q.moveToDLQ(ctx, msg, policy.DLQSubject)
			return
		}

		if nakErr := msg.NakWithDelay(nakDelay); nakErr != nil {
			slog.Error("nats nak failed", "error", nakErr)
		}
		return
	}
	if ackErr := msg.Ack(); ackErr != nil {
		slog.Error("nats ack failed", "error", ackErr)
	}
}

// moveToDLQ acks the original message and publishes a copy to dlqSubject.
func (q *Queue) moveToDLQ(ctx context.Context, msg jetstream.Msg, dlqSubject string) {
	dlqMsg := &nats.Msg{
		Subject: dlqSubject,
		Data:    msg.Data(),
	}
	if hdrs := msg.Headers(); hdrs != nil {
		dlqMsg.Header = hdrs
	}

	if _, err := q.js.PublishMsg(ctx, dlqMsg); err != nil {
		slog.Error("failed to publish to DLQ", "dlq_subject", dlqSubject, "error", err)
	} else {
		slog.Warn("message moved to DLQ", "subject", msg.Subject(), "dlq_subject", dlqSubject)
	}

	if ackErr := msg.Ack(); ackErr != nil {
		slog.Error("nats ack (dlq) failed", "error", ackErr)
	}
}

// deliveryCount reports how many times JetStream has delivered msg,
// including this delivery (so 1 on the first attempt). Falls back to 1 if
// the server didn't attach delivery metadata, which fails open toward
// retrying rather than prematurely DLQ-ing.
func deliveryCount(msg jetstream.Msg) int {
	meta, err := msg.Metadata()
	if err != nil || meta == nil {
		return 1
	}
	return int(meta.NumDelivered)
}

// Drain gracefully drains all subscriptions, waits for pending messages,
// then closes the connection.
func (q *Queue) Drain() error {
	if err := q.nc.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	for q.nc.IsConnected() {
		// Spin briefly; Drain closes the connection after flushing.
	}
	return nil
}

// Close implements eventbus.Bus.
func (q *Queue) Close(_ context.Context) error {
	q.nc.Close()
	return nil
}

// Ready implements eventbus.Bus.
func (q *Queue) Ready(_ context.Context) error {
	if !q.nc.IsConnected() {
		return fmt.Errorf("nats: not connected")
	}
	return nil
}

// IsConnected reports whether the NATS connection is active.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}
