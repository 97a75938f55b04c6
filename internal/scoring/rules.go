package scoring

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Rule-based scorers. They run when no trained model is deployed and double as
// the reference behaviour in tests.

// FraudRules raises fraud probability for outsized and duplicate claims.
type FraudRules struct{}

func (FraudRules) Kind() Kind { return KindFraud }

func (FraudRules) Score(_ context.Context, f Features) (SubScore, error) {
	var score float64
	var reasons []string
	if f.AmountVsOrgAvg > 3 {
		score += 0.3
		reasons = append(reasons, fmt.Sprintf("amount %.1fx the hospital average", f.AmountVsOrgAvg))
	}
	if f.DuplicateClaim {
		score += 0.4
		reasons = append(reasons, "matches an earlier claim")
	}
	if f.OrgHistoricalFraudRate > 0.1 {
		score += 0.2
		reasons = append(reasons, "hospital has an elevated fraud history")
	}
	return SubScore{
		Value:       clamp01(score),
		Explanation: explain("fraud", reasons),
		FeatureImportance: map[string]float64{
			"amount_vs_org_avg": f.AmountVsOrgAvg,
			"duplicate_flag":    boolToFloat(f.DuplicateClaim),
			"org_fraud_rate":    f.OrgHistoricalFraudRate,
		},
	}, nil
}

// ApprovalRules estimates approval likelihood from documentation and amount.
type ApprovalRules struct{}

func (ApprovalRules) Kind() Kind { return KindApproval }

func (ApprovalRules) Score(_ context.Context, f Features) (SubScore, error) {
	score := 0.7
	var reasons []string
	if f.MissingRequiredFields > 2 {
		score -= 0.3
		reasons = append(reasons, fmt.Sprintf("%d required fields missing", f.MissingRequiredFields))
	}
	if f.AmountVsOrgAvg > 2 {
		score -= 0.2
		reasons = append(reasons, "amount well above the hospital average")
	}
	return SubScore{
		Value:       clamp01(score),
		Explanation: explain("approval", reasons),
		FeatureImportance: map[string]float64{
			"missing_fields":    float64(f.MissingRequiredFields),
			"amount_vs_org_avg": f.AmountVsOrgAvg,
		},
	}, nil
}

// IsolationRules flags billing that is far outside the procedure norm.
type IsolationRules struct{}

func (IsolationRules) Kind() Kind { return KindIsolationAnomaly }

func (IsolationRules) Score(_ context.Context, f Features) (SubScore, error) {
	var score float64
	var reasons []string
	if f.AmountVsProcedureAvg > 3 {
		score += 0.4
		reasons = append(reasons, fmt.Sprintf("amount %.1fx the procedure average", f.AmountVsProcedureAvg))
	}
	if f.LengthOfStay > 30 {
		score += 0.2
		reasons = append(reasons, fmt.Sprintf("%d day stay", f.LengthOfStay))
	}
	return SubScore{
		Value:       clamp01(score),
		Explanation: explain("anomaly", reasons),
		FeatureImportance: map[string]float64{
			"amount_vs_procedure_avg": f.AmountVsProcedureAvg,
			"length_of_stay":          float64(f.LengthOfStay),
		},
	}, nil
}

// OutlierRules approximates an autoencoder's reconstruction error by the share
// of features lying more than two standard deviations from the vector mean.
type OutlierRules struct{}

func (OutlierRules) Kind() Kind { return KindAutoencoderAnomaly }

func (OutlierRules) Score(_ context.Context, f Features) (SubScore, error) {
	vec := f.Vector()
	var mean float64
	for _, v := range vec {
		mean += v
	}
	mean /= float64(len(vec))
	var variance float64
	for _, v := range vec {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(vec)))

	var outliers int
	importance := make(map[string]float64)
	for i, v := range vec {
		if std > 0 && math.Abs(v-mean) > 2*std {
			outliers++
			importance[featureNames[i]] = math.Abs(v-mean) / std
		}
	}
	score := float64(outliers) / float64(len(vec))
	return SubScore{
		Value:             clamp01(score),
		Explanation:       fmt.Sprintf("%d of %d features are outliers", outliers, len(vec)),
		FeatureImportance: importance,
	}, nil
}

// TextConsistencyRules checks the extracted document text mentions what the
// claim bills for. Without extracted text it has no input.
type TextConsistencyRules struct{}

func (TextConsistencyRules) Kind() Kind { return KindTextInconsistency }

func (TextConsistencyRules) Score(_ context.Context, f Features) (SubScore, error) {
	text := strings.ToUpper(f.ExtractedText)
	if strings.TrimSpace(text) == "" {
		return SubScore{}, ErrNoInput
	}
	codes := append(append([]string(nil), f.ProcedureCodes...), f.DiagnosisCodes...)
	var missing []string
	for _, c := range codes {
		if !strings.Contains(text, strings.ToUpper(c)) {
			missing = append(missing, c)
		}
	}
	var score float64
	if len(codes) > 0 {
		score = 0.8 * float64(len(missing)) / float64(len(codes))
	}
	var reasons []string
	if len(missing) > 0 {
		reasons = append(reasons, "codes not found in documents: "+strings.Join(missing, ", "))
	}
	if !mentionsAmount(text, f.ClaimedAmount) {
		score += 0.2
		reasons = append(reasons, "claimed amount not found in documents")
	}
	return SubScore{
		Value:       clamp01(score),
		Explanation: explain("text inconsistency", reasons),
		FeatureImportance: map[string]float64{
			"missing_codes": float64(len(missing)),
		},
	}, nil
}

func mentionsAmount(text string, amount float64) bool {
	plain := strings.NewReplacer(",", "", " ", "").Replace(text)
	candidates := []string{
		strconv.FormatFloat(amount, 'f', 2, 64),
		strconv.FormatFloat(amount, 'f', -1, 64),
	}
	for _, c := range candidates {
		if strings.Contains(plain, c) {
			return true
		}
	}
	return false
}

func explain(subject string, reasons []string) string {
	if len(reasons) == 0 {
		return "no " + subject + " signals"
	}
	return strings.Join(reasons, "; ")
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// DefaultRegistry registers the five rule-based scorers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(FraudRules{})
	r.Register(ApprovalRules{})
	r.Register(IsolationRules{})
	r.Register(OutlierRules{})
	r.Register(TextConsistencyRules{})
	return r
}
