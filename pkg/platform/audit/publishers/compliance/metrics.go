package compliance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for ledger appends.
type Metrics struct {
	EventsEmitted   *prometheus.CounterVec
	PersistFailures prometheus.Counter
	PersistDuration prometheus.Histogram
}

// NewMetrics creates and registers the ledger metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "careverify_audit_events_emitted_total",
			Help: "Total audit events appended to the ledger, by event type",
		}, []string{"event_type"}),
		PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "careverify_audit_persist_failures_total",
			Help: "Total audit appends that failed and aborted their operation",
		}),
		PersistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "careverify_audit_persist_duration_seconds",
			Help:    "Latency of ledger appends",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
	}
}

func (m *Metrics) IncEventsEmitted(eventType string) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncPersistFailures() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *Metrics) ObservePersistDuration(seconds float64) {
	if m == nil {
		return
	}
	m.PersistDuration.Observe(seconds)
}
