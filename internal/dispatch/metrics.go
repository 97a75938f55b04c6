package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks job execution for both transports.
type Metrics struct {
	// Job runs by kind and outcome: ok, retry, failed, dropped
	JobRuns *prometheus.CounterVec

	// Job handler latency by kind
	JobDuration *prometheus.HistogramVec

	// Jobs rejected at enqueue time by kind and reason
	EnqueueRejected *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		JobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "careverify_jobs_runs_total",
			Help: "Job handler runs by kind and outcome",
		}, []string{"kind", "outcome"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "careverify_jobs_duration_seconds",
			Help:    "Job handler latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		EnqueueRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "careverify_jobs_enqueue_rejected_total",
			Help: "Jobs that could not be enqueued",
		}, []string{"kind", "reason"}),
	}
}

func (m *Metrics) ObserveRun(kind Kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(string(kind), outcome).Inc()
	m.JobDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *Metrics) IncEnqueueRejected(kind Kind, reason string) {
	if m == nil {
		return
	}
	m.EnqueueRejected.WithLabelValues(string(kind), reason).Inc()
}
