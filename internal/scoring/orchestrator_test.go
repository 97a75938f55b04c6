package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "careverify/pkg/domain-errors"
	"careverify/pkg/platform/circuit"
)

type OrchestratorSuite struct {
	suite.Suite
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func fixed(kind Kind, v float64) Scorer {
	return ScorerFunc{K: kind, Fn: func(context.Context, Features) (SubScore, error) {
		return SubScore{Value: v}, nil
	}}
}

func failing(kind Kind, err error) Scorer {
	return ScorerFunc{K: kind, Fn: func(context.Context, Features) (SubScore, error) {
		return SubScore{}, err
	}}
}

func hanging(kind Kind) Scorer {
	return ScorerFunc{K: kind, Fn: func(ctx context.Context, _ Features) (SubScore, error) {
		<-ctx.Done()
		return SubScore{}, ctx.Err()
	}}
}

// Three scorers time out or fail, so only fraud and approval count.
func (s *OrchestratorSuite) TestDegradedScoring() {
	reg := NewRegistry()
	reg.Register(fixed(KindFraud, 0.2))
	reg.Register(fixed(KindApproval, 0.6))
	reg.Register(hanging(KindIsolationAnomaly))
	reg.Register(failing(KindAutoencoderAnomaly, errors.New("model not loaded")))
	reg.Register(fixed(KindTextInconsistency, 1.7))

	o := NewOrchestrator(reg, WithScorerTimeout(20*time.Millisecond))
	agg, err := o.Score(context.Background(), Features{})
	s.Require().NoError(err)

	s.InDelta(70.91, agg.TrustScore, 1e-9)
	s.InDelta(0.55, agg.Confidence, 1e-9)
	s.Len(agg.SubScores, 2)
	s.Contains(agg.SubScores, KindFraud)
	s.Contains(agg.SubScores, KindApproval)
}

func (s *OrchestratorSuite) TestNoScorersAvailable() {
	reg := NewRegistry()
	reg.Register(failing(KindFraud, errors.New("boom")))
	reg.Register(failing(KindTextInconsistency, ErrNoInput))

	_, err := NewOrchestrator(reg).Score(context.Background(), Features{})
	s.True(dErrors.HasCode(err, dErrors.CodeNoScorersAvailable))
}

func (s *OrchestratorSuite) TestBreakerOpensAndRecovers() {
	healthy := false
	reg := NewRegistry()
	reg.Register(fixed(KindApproval, 0.5))
	reg.Register(ScorerFunc{K: KindFraud, Fn: func(context.Context, Features) (SubScore, error) {
		if healthy {
			return SubScore{Value: 0.1}, nil
		}
		return SubScore{}, errors.New("upstream down")
	}})
	o := NewOrchestrator(reg, WithBreakerThresholds(2, 2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := o.Score(ctx, Features{})
		s.Require().NoError(err)
	}
	s.Equal(circuit.StateOpen, o.BreakerState(KindFraud))

	healthy = true
	agg, err := o.Score(ctx, Features{})
	s.Require().NoError(err)
	s.NotContains(agg.SubScores, KindFraud, "first success while open is discarded")

	agg, err = o.Score(ctx, Features{})
	s.Require().NoError(err)
	s.Contains(agg.SubScores, KindFraud)
	s.Equal(circuit.StateClosed, o.BreakerState(KindFraud))
}

func (s *OrchestratorSuite) TestNoInputDoesNotTripBreaker() {
	reg := NewRegistry()
	reg.Register(fixed(KindApproval, 0.5))
	reg.Register(TextConsistencyRules{})
	o := NewOrchestrator(reg, WithBreakerThresholds(1, 1))

	_, err := o.Score(context.Background(), Features{})
	s.Require().NoError(err)
	s.Equal(circuit.StateClosed, o.BreakerState(KindTextInconsistency))
}

func (s *OrchestratorSuite) TestDefaultRegistry() {
	reg := DefaultRegistry()
	s.Equal([]Kind{KindApproval, KindAutoencoderAnomaly, KindFraud, KindIsolationAnomaly, KindTextInconsistency}, reg.Kinds())

	agg, err := NewOrchestrator(reg).Score(context.Background(), Features{
		ClaimedAmount:        50000,
		ProcedureCodes:       []string{"P100"},
		AmountVsOrgAvg:       1,
		AmountVsProcedureAvg: 1,
		DocumentCompleteness: 1,
		ExtractedText:        "Procedure P100 billed INR 50,000.00",
	})
	s.Require().NoError(err)
	s.InDelta(1.0, agg.Confidence, 1e-9)
	s.InDelta(0, agg.SubScores[KindTextInconsistency].Value, 1e-9)
}
