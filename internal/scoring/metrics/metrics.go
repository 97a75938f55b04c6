package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the scoring pipeline.
type Metrics struct {
	// Scorer call latencies by scorer and outcome
	ScorerLatency *prometheus.HistogramVec

	// Scorer outcomes: ok, error, timeout, out_of_range, breaker_open, no_input
	ScorerOutcome *prometheus.CounterVec

	// Circuit breaker transitions by scorer and new state
	BreakerTransitions *prometheus.CounterVec

	// Distribution of aggregated trust scores
	TrustScore prometheus.Histogram

	// Runs where no scorer responded
	NoScorers prometheus.Counter
}

// New creates a new Metrics instance with all scoring metrics registered.
func New() *Metrics {
	return &Metrics{
		ScorerLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "careverify_scorer_duration_seconds",
			Help:    "Duration of individual scorer calls",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"scorer", "outcome"}),

		ScorerOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "careverify_scorer_outcomes_total",
			Help: "Total scorer calls by outcome",
		}, []string{"scorer", "outcome"}),

		BreakerTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "careverify_scorer_breaker_transitions_total",
			Help: "Scorer circuit breaker state changes",
		}, []string{"scorer", "state"}),

		TrustScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "careverify_trust_score",
			Help:    "Distribution of aggregated trust scores",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 85, 90, 100},
		}),

		NoScorers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "careverify_scoring_no_scorers_total",
			Help: "Scoring runs where no scorer produced a value",
		}),
	}
}

// ObserveScorer records one scorer call.
func (m *Metrics) ObserveScorer(scorer, outcome string, d time.Duration) {
	if m != nil {
		m.ScorerLatency.WithLabelValues(scorer, outcome).Observe(d.Seconds())
		m.ScorerOutcome.WithLabelValues(scorer, outcome).Inc()
	}
}

func (m *Metrics) IncBreakerTransition(scorer, state string) {
	if m != nil {
		m.BreakerTransitions.WithLabelValues(scorer, state).Inc()
	}
}

func (m *Metrics) ObserveTrustScore(score float64) {
	if m != nil {
		m.TrustScore.Observe(score)
	}
}

func (m *Metrics) IncNoScorers() {
	if m != nil {
		m.NoScorers.Inc()
	}
}
