// Package metrics implements the metrics.Recorder port over
// prometheus/client_golang (spec §5 "metrics registers (atomic)").
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/formbridge/ingest/internal/domain/delivery"
)

// Recorder implements metrics.Recorder with a private prometheus
// registry, so multiple Recorder instances (e.g. in tests) never collide
// on the global default registry.
type Recorder struct {
	ingestTotal          *prometheus.CounterVec
	deliveryAttemptTotal *prometheus.CounterVec
	deliveryDuration     *prometheus.HistogramVec
	dlqTotal             *prometheus.CounterVec
	orchestratorInFlight prometheus.Gauge
}

// New builds a Recorder and registers its collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbridge_ingest_total",
			Help: "Ingest requests by tenant and outcome status.",
		}, []string{"tenant_id", "status"}),
		deliveryAttemptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbridge_delivery_attempt_total",
			Help: "Delivery attempts by destination type and outcome.",
		}, []string{"destination_type", "outcome"}),
		deliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formbridge_delivery_duration_seconds",
			Help:    "Connector invocation duration by destination type and outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"destination_type", "outcome"}),
		dlqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbridge_dlq_total",
			Help: "Messages routed to a dead-letter topic.",
		}, []string{"topic"}),
		orchestratorInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formbridge_orchestrator_in_flight",
			Help: "Delivery tasks currently in flight across all tenants.",
		}),
	}

	reg.MustRegister(r.ingestTotal, r.deliveryAttemptTotal, r.deliveryDuration, r.dlqTotal, r.orchestratorInFlight)
	return r
}

// IncIngest implements metrics.Recorder.
func (r *Recorder) IncIngest(tenantID, status string) {
	r.ingestTotal.WithLabelValues(tenantID, status).Inc()
}

// IncDeliveryAttempt implements metrics.Recorder.
func (r *Recorder) IncDeliveryAttempt(destinationType string, outcome delivery.Outcome) {
	r.deliveryAttemptTotal.WithLabelValues(destinationType, string(outcome)).Inc()
}

// ObserveDeliveryDuration implements metrics.Recorder and connector.Metrics.
func (r *Recorder) ObserveDeliveryDuration(destinationType string, outcome delivery.Outcome, seconds float64) {
	r.deliveryDuration.WithLabelValues(destinationType, string(outcome)).Observe(seconds)
}

// IncDLQ implements metrics.Recorder.
func (r *Recorder) IncDLQ(topic string) {
	r.dlqTotal.WithLabelValues(topic).Inc()
}

// SetOrchestratorInFlight implements metrics.Recorder.
func (r *Recorder) SetOrchestratorInFlight(n int) {
	r.orchestratorInFlight.Set(float64(n))
}
