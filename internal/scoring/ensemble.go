package scoring

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"careverify/internal/claims/models"
	id "careverify/pkg/domain"
	dErrors "careverify/pkg/domain-errors"
)

// Weights of each scorer in the trust score. They sum to 1.
var Weights = map[Kind]float64{
	KindFraud:              0.30,
	KindApproval:           0.25,
	KindIsolationAnomaly:   0.20,
	KindAutoencoderAnomaly: 0.15,
	KindTextInconsistency:  0.10,
}

// Recommendation buckets the trust score.
type Recommendation string

const (
	RecommendAutoApprove      Recommendation = "AUTO_APPROVE"
	RecommendLightReview      Recommendation = "LIGHT_REVIEW"
	RecommendComplianceReview Recommendation = "COMPLIANCE_REVIEW_REQUIRED"
	RecommendHighRiskHold     Recommendation = "HIGH_RISK_HOLD"
)

const (
	defaultFraudAlertThreshold   = 0.75
	defaultAnomalyAlertThreshold = 0.65
)

// Bucket maps a trust score to its recommendation. Lower bounds are inclusive.
func Bucket(trust float64) Recommendation {
	switch {
	case trust >= 85:
		return RecommendAutoApprove
	case trust >= 60:
		return RecommendLightReview
	case trust >= 40:
		return RecommendComplianceReview
	default:
		return RecommendHighRiskHold
	}
}

// RiskFactor is a human-readable signal. Negative impact lowers trust.
type RiskFactor struct {
	Severity string
	Factor   string
	Impact   int
}

// Aggregate is the ensemble output for one claim.
type Aggregate struct {
	SubScores         map[Kind]*SubScore
	TrustScore        float64
	Confidence        float64
	Recommendation    Recommendation
	RiskFactors       []RiskFactor
	FeatureImportance map[string]float64
	Explanation       string
}

// Result converts the aggregate into the persisted record.
func (a *Aggregate) Result(claimID id.ClaimID, modelVersion string, now time.Time) *models.ScoringResult {
	subs := make(map[string]*models.SubScore, len(a.SubScores))
	for k, s := range a.SubScores {
		subs[string(k)] = &models.SubScore{
			Value:             s.Value,
			Explanation:       s.Explanation,
			FeatureImportance: s.FeatureImportance,
		}
	}
	factors := make([]string, 0, len(a.RiskFactors))
	for _, f := range a.RiskFactors {
		factors = append(factors, f.Factor)
	}
	return &models.ScoringResult{
		ID:                id.NewScoringResultID(),
		ClaimID:           claimID,
		SubScores:         subs,
		TrustScore:        a.TrustScore,
		Confidence:        a.Confidence,
		Recommendation:    string(a.Recommendation),
		RiskFactors:       factors,
		FeatureImportance: a.FeatureImportance,
		Explanation:       a.Explanation,
		ModelVersion:      modelVersion,
		CreatedAt:         now,
	}
}

// Aggregator combines sub-scores into a trust score.
type Aggregator struct {
	fraudAlert   float64
	anomalyAlert float64
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithAlertThresholds sets the sub-score levels that raise risk factors.
func WithAlertThresholds(fraud, anomaly float64) AggregatorOption {
	return func(a *Aggregator) {
		if fraud > 0 {
			a.fraudAlert = fraud
		}
		if anomaly > 0 {
			a.anomalyAlert = anomaly
		}
	}
}

func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{fraudAlert: defaultFraudAlertThreshold, anomalyAlert: defaultAnomalyAlertThreshold}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// contribution converts a sub-score to a 0-100 trust contribution.
// Approval counts as is; every other kind is inverted.
func contribution(kind Kind, v float64) float64 {
	if kind == KindApproval {
		return v * 100
	}
	return (1 - v) * 100
}

// Aggregate computes the trust score over the scorers present in subs,
// renormalizing weights so absent scorers lower confidence but never the score.
// features may be nil; it only enriches the risk factors.
func (a *Aggregator) Aggregate(subs map[Kind]*SubScore, features *Features) (*Aggregate, error) {
	var weightSum, weighted float64
	responding := make(map[Kind]*SubScore, len(subs))
	for kind, s := range subs {
		w, known := Weights[kind]
		if !known || s == nil {
			continue
		}
		responding[kind] = s
		weightSum += w
		weighted += w * contribution(kind, s.Value)
	}
	if len(responding) == 0 {
		return nil, dErrors.New(dErrors.CodeNoScorersAvailable, "no scorer produced a value")
	}

	trust := round(clamp(weighted/weightSum, 0, 100), 2)
	agg := &Aggregate{
		SubScores:         responding,
		TrustScore:        trust,
		Confidence:        round(weightSum, 4),
		Recommendation:    Bucket(trust),
		FeatureImportance: mergeImportance(responding, weightSum),
	}
	agg.RiskFactors = a.riskFactors(responding, features)
	agg.Explanation = explanation(agg)
	return agg, nil
}

func (a *Aggregator) riskFactors(subs map[Kind]*SubScore, f *Features) []RiskFactor {
	var out []RiskFactor
	if s, ok := subs[KindFraud]; ok && s.Value > a.fraudAlert {
		out = append(out, RiskFactor{"high", "Fraud model flags high fraud probability", -30})
	}
	for _, kind := range []Kind{KindIsolationAnomaly, KindAutoencoderAnomaly} {
		if s, ok := subs[kind]; ok && s.Value > a.anomalyAlert {
			out = append(out, RiskFactor{"medium", "Billing pattern is a statistical anomaly", -12})
			break
		}
	}
	if s, ok := subs[KindTextInconsistency]; ok && s.Value > 0.5 {
		out = append(out, RiskFactor{"medium", "Documents are inconsistent with the billed items", -10})
	}
	if f != nil {
		if f.DuplicateClaim {
			out = append(out, RiskFactor{"high", "Potential duplicate claim detected", -25})
		}
		if f.AmountVsOrgAvg > 2.5 {
			out = append(out, RiskFactor{"medium", fmt.Sprintf("Claimed amount %.1fx above org average", f.AmountVsOrgAvg), -10})
		}
		if f.MissingRequiredFields > 0 {
			out = append(out, RiskFactor{"medium", fmt.Sprintf("%d required documentation fields missing", f.MissingRequiredFields), -8})
		}
		if f.OrgHistoricalFraudRate > 0.10 {
			out = append(out, RiskFactor{"high", "Organization has elevated historical fraud rate", -20})
		}
		if f.OrgTrustScore > 80 {
			out = append(out, RiskFactor{"info", "High-trust organization on record", 15})
		}
		if f.DocumentCompleteness > 0.95 {
			out = append(out, RiskFactor{"info", "Documents are complete and well-structured", 5})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Impact < out[j].Impact })
	return out
}

func explanation(a *Aggregate) string {
	var concerns []string
	for _, f := range a.RiskFactors {
		if f.Impact < 0 && len(concerns) < 3 {
			concerns = append(concerns, f.Factor)
		}
	}
	score := strconv.FormatFloat(a.TrustScore, 'f', -1, 64)
	if len(concerns) == 0 {
		return fmt.Sprintf("Trust Score: %s/100. No significant risk factors identified. Recommendation: %s.", score, a.Recommendation)
	}
	return fmt.Sprintf("Trust Score: %s/100. Key concerns: %s. Recommendation: %s.",
		score, strings.Join(concerns, "; "), a.Recommendation)
}

func mergeImportance(subs map[Kind]*SubScore, weightSum float64) map[string]float64 {
	out := make(map[string]float64)
	for kind, s := range subs {
		w := Weights[kind] / weightSum
		for name, v := range s.FeatureImportance {
			out[name] += w * v
		}
	}
	for name, v := range out {
		out[name] = round(v, 4)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
