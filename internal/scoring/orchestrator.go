package scoring

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"careverify/internal/scoring/metrics"
	dErrors "careverify/pkg/domain-errors"
	"careverify/pkg/platform/circuit"
)

const defaultScorerTimeout = 5 * time.Second

// Scorer call outcomes, as recorded in metrics and spans.
const (
	outcomeOK          = "ok"
	outcomeError       = "error"
	outcomeTimeout     = "timeout"
	outcomeOutOfRange  = "out_of_range"
	outcomeBreakerOpen = "breaker_open"
	outcomeNoInput     = "no_input"
)

// Orchestrator fans a scoring request out to every registered scorer and
// aggregates the responses.
//
// Each scorer has its own circuit breaker. While a breaker is open the scorer
// is still called so it can prove recovery, but its values are discarded until
// enough consecutive successes close the breaker again.
type Orchestrator struct {
	registry   *Registry
	aggregator *Aggregator
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer

	breakerFailures  int
	breakerSuccesses int
	breakersMu       sync.Mutex
	breakers         map[Kind]*circuit.Breaker
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

func WithScorerTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithAggregator(a *Aggregator) Option {
	return func(o *Orchestrator) {
		if a != nil {
			o.aggregator = a
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithBreakerThresholds sets how many consecutive failures open a scorer's
// breaker and how many consecutive successes close it.
func WithBreakerThresholds(failures, successes int) Option {
	return func(o *Orchestrator) {
		o.breakerFailures = failures
		o.breakerSuccesses = successes
	}
}

func NewOrchestrator(registry *Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:   registry,
		aggregator: NewAggregator(),
		timeout:    defaultScorerTimeout,
		logger:     slog.Default(),
		tracer:     otel.Tracer("careverify/scoring"),
		breakers:   make(map[Kind]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type scorerResult struct {
	kind  Kind
	score *SubScore
}

// Score runs all scorers concurrently and aggregates what came back.
// It fails with CodeNoScorersAvailable when nothing usable returned.
func (o *Orchestrator) Score(ctx context.Context, f Features) (*Aggregate, error) {
	ctx, span := o.tracer.Start(ctx, "scoring.score",
		trace.WithAttributes(attribute.String("claim_id", f.ClaimID.String())))
	defer span.End()

	scorers := o.registry.all()
	results := make([]scorerResult, len(scorers))

	// Scorer failures never fail the group; they only drop that scorer.
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range scorers {
		g.Go(func() error {
			results[i] = scorerResult{kind: s.Kind(), score: o.call(gctx, s, f)}
			return nil
		})
	}
	_ = g.Wait()

	subs := make(map[Kind]*SubScore, len(results))
	for _, r := range results {
		if r.score != nil {
			subs[r.kind] = r.score
		}
	}

	agg, err := o.aggregator.Aggregate(subs, &f)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNoScorersAvailable) {
			o.metrics.IncNoScorers()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "no scorers available")
		return nil, err
	}
	o.metrics.ObserveTrustScore(agg.TrustScore)
	span.SetAttributes(
		attribute.Float64("trust_score", agg.TrustScore),
		attribute.Float64("confidence", agg.Confidence),
		attribute.Int("responding_scorers", len(subs)),
	)
	return agg, nil
}

// call invokes one scorer and returns nil when it is unavailable.
func (o *Orchestrator) call(ctx context.Context, s Scorer, f Features) *SubScore {
	kind := s.Kind()
	ctx, span := o.tracer.Start(ctx, "scoring.scorer",
		trace.WithAttributes(attribute.String("scorer", string(kind))))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	sub, err := runScorer(ctx, s, f)
	if err == nil {
		err = validate(kind, sub)
		if err != nil {
			err = &outOfRangeError{err}
		}
	}
	outcome := classify(ctx, err)
	breaker := o.breaker(kind)

	var usable bool
	if err != nil {
		if outcome != outcomeNoInput {
			_, change := breaker.RecordFailure()
			o.recordChange(ctx, kind, change)
		}
	} else {
		usePrimary, change := breaker.RecordSuccess()
		o.recordChange(ctx, kind, change)
		usable = usePrimary
		if !usable {
			outcome = outcomeBreakerOpen
		}
	}

	o.metrics.ObserveScorer(string(kind), outcome, time.Since(start))
	span.SetAttributes(attribute.String("outcome", outcome))
	if !usable {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			o.logger.DebugContext(ctx, "scorer unavailable",
				"scorer", kind,
				"claim_id", f.ClaimID,
				"outcome", outcome,
				"error", err,
			)
		}
		return nil
	}
	return &sub
}

// runScorer honours ctx even when the scorer itself ignores cancellation.
func runScorer(ctx context.Context, s Scorer, f Features) (SubScore, error) {
	type result struct {
		sub SubScore
		err error
	}
	done := make(chan result, 1)
	go func() {
		sub, err := s.Score(ctx, f)
		done <- result{sub, err}
	}()
	select {
	case r := <-done:
		return r.sub, r.err
	case <-ctx.Done():
		return SubScore{}, ctx.Err()
	}
}

type outOfRangeError struct{ error }

func (e *outOfRangeError) Unwrap() error { return e.error }

func classify(ctx context.Context, err error) string {
	var oor *outOfRangeError
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrNoInput):
		return outcomeNoInput
	case errors.As(err, &oor):
		return outcomeOutOfRange
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return outcomeTimeout
	default:
		return outcomeError
	}
}

func (o *Orchestrator) breaker(kind Kind) *circuit.Breaker {
	o.breakersMu.Lock()
	defer o.breakersMu.Unlock()
	b, ok := o.breakers[kind]
	if !ok {
		b = circuit.New(string(kind),
			circuit.WithFailureThreshold(o.breakerFailures),
			circuit.WithSuccessThreshold(o.breakerSuccesses),
		)
		o.breakers[kind] = b
	}
	return b
}

// BreakerState exposes a scorer's breaker position.
func (o *Orchestrator) BreakerState(kind Kind) circuit.State {
	return o.breaker(kind).State()
}

func (o *Orchestrator) recordChange(ctx context.Context, kind Kind, change circuit.StateChange) {
	switch {
	case change.Opened:
		o.metrics.IncBreakerTransition(string(kind), string(circuit.StateOpen))
		o.logger.WarnContext(ctx, "scorer circuit opened", "scorer", kind)
	case change.Closed:
		o.metrics.IncBreakerTransition(string(kind), string(circuit.StateClosed))
		o.logger.InfoContext(ctx, "scorer circuit closed", "scorer", kind)
	}
}
