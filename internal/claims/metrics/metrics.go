package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the claim state machine.
type Metrics struct {
	// Committed status changes by from and to
	Transitions *prometheus.CounterVec

	// Rejected operations by operation and error code
	Rejections *prometheus.CounterVec

	// Operation latency including lock wait
	OperationDuration *prometheus.HistogramVec

	// Duplicate deliveries that were absorbed as no-ops
	DuplicateDeliveries *prometheus.CounterVec

	// Claims held for manual insurer assignment
	RoutingHolds prometheus.Counter

	// Newly detected SLA breaches
	SLABreaches prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "careverify_claim_transitions_total",
			Help: "Committed claim status changes",
		}, []string{"from", "to"}),

		Rejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "careverify_claim_rejections_total",
			Help: "Rejected claim operations by error code",
		}, []string{"operation", "code"}),

		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "careverify_claim_operation_duration_seconds",
			Help:    "Claim operation latency including per-claim lock wait",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),

		DuplicateDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "careverify_claim_duplicate_deliveries_total",
			Help: "Redelivered jobs absorbed without a state change",
		}, []string{"operation"}),

		RoutingHolds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "careverify_claim_routing_holds_total",
			Help: "Claims held because no insurer was eligible",
		}),

		SLABreaches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "careverify_claim_sla_breaches_total",
			Help: "Claims newly flagged as SLA breached",
		}),
	}
}

func (m *Metrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncRejection(operation, code string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(operation, code).Inc()
}

func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncDuplicate(operation string) {
	if m == nil {
		return
	}
	m.DuplicateDeliveries.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncRoutingHold() {
	if m == nil {
		return
	}
	m.RoutingHolds.Inc()
}

func (m *Metrics) IncSLABreach() {
	if m == nil {
		return
	}
	m.SLABreaches.Inc()
}
