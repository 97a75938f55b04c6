package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "careverify/pkg/domain-errors"
)

func sub(v float64) *SubScore { return &SubScore{Value: v} }

func TestAggregate(t *testing.T) {
	agg := NewAggregator()

	t.Run("all five scorers", func(t *testing.T) {
		got, err := agg.Aggregate(map[Kind]*SubScore{
			KindFraud:              sub(0.1),
			KindApproval:           sub(0.9),
			KindIsolationAnomaly:   sub(0.1),
			KindAutoencoderAnomaly: sub(0.1),
			KindTextInconsistency:  sub(0.1),
		}, nil)
		require.NoError(t, err)
		assert.InDelta(t, 90, got.TrustScore, 1e-9)
		assert.InDelta(t, 1.0, got.Confidence, 1e-9)
		assert.Equal(t, RecommendAutoApprove, got.Recommendation)
	})

	t.Run("two scorers renormalize and lower confidence", func(t *testing.T) {
		got, err := agg.Aggregate(map[Kind]*SubScore{
			KindFraud:    sub(0.2),
			KindApproval: sub(0.6),
		}, nil)
		require.NoError(t, err)
		// (0.30*80 + 0.25*60) / 0.55
		assert.InDelta(t, 70.91, got.TrustScore, 1e-9)
		assert.InDelta(t, 0.55, got.Confidence, 1e-9)
		assert.Equal(t, RecommendLightReview, got.Recommendation)
		assert.Len(t, got.SubScores, 2)
	})

	t.Run("nil entries count as missing", func(t *testing.T) {
		got, err := agg.Aggregate(map[Kind]*SubScore{
			KindFraud:    nil,
			KindApproval: sub(0.5),
		}, nil)
		require.NoError(t, err)
		assert.InDelta(t, 50, got.TrustScore, 1e-9)
		assert.InDelta(t, 0.25, got.Confidence, 1e-9)
	})

	t.Run("no scorers", func(t *testing.T) {
		_, err := agg.Aggregate(map[Kind]*SubScore{}, nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNoScorersAvailable))
	})
}

func TestBucket_InclusiveLowerBounds(t *testing.T) {
	cases := map[float64]Recommendation{
		100:   RecommendAutoApprove,
		85:    RecommendAutoApprove,
		84.99: RecommendLightReview,
		60:    RecommendLightReview,
		59.99: RecommendComplianceReview,
		40:    RecommendComplianceReview,
		39.99: RecommendHighRiskHold,
		0:     RecommendHighRiskHold,
	}
	for score, want := range cases {
		assert.Equal(t, want, Bucket(score), "score %v", score)
	}
}

func TestAggregate_RiskFactorsAndExplanation(t *testing.T) {
	agg := NewAggregator()

	got, err := agg.Aggregate(map[Kind]*SubScore{
		KindFraud:            sub(0.8),
		KindApproval:         sub(0.4),
		KindIsolationAnomaly: sub(0.7),
	}, &Features{DuplicateClaim: true})
	require.NoError(t, err)

	require.NotEmpty(t, got.RiskFactors)
	assert.Equal(t, "Fraud model flags high fraud probability", got.RiskFactors[0].Factor)
	assert.Contains(t, got.Explanation, "Key concerns: Fraud model flags high fraud probability; Potential duplicate claim detected; Billing pattern is a statistical anomaly.")
	assert.Contains(t, got.Explanation, "Recommendation: HIGH_RISK_HOLD.")

	clean, err := agg.Aggregate(map[Kind]*SubScore{KindApproval: sub(1)}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Trust Score: 100/100. No significant risk factors identified. Recommendation: AUTO_APPROVE.", clean.Explanation)
}

func TestAggregate_CustomThresholds(t *testing.T) {
	agg := NewAggregator(WithAlertThresholds(0.5, 0.9))
	got, err := agg.Aggregate(map[Kind]*SubScore{
		KindFraud:            sub(0.6),
		KindIsolationAnomaly: sub(0.7),
	}, nil)
	require.NoError(t, err)
	require.Len(t, got.RiskFactors, 1)
	assert.Equal(t, "high", got.RiskFactors[0].Severity)
}
