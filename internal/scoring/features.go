package scoring

import (
	"math"

	id "careverify/pkg/domain"
)

// Features is the model input built from a claim, its extracted documents and
// the submitting hospital's history.
type Features struct {
	ClaimID        id.ClaimID
	ClaimedAmount  float64
	LengthOfStay   int
	ProcedureCodes []string
	DiagnosisCodes []string

	OrgTrustScore          float64
	OrgHistoricalFraudRate float64
	OrgClaimVolume         int
	AmountVsOrgAvg         float64
	AmountVsProcedureAvg   float64
	DuplicateClaim         bool

	DocumentCount         int
	DocumentCompleteness  float64
	MissingRequiredFields int
	ExtractedText         string
}

// featureNames orders Vector.
var featureNames = []string{
	"claimed_amount",
	"length_of_stay",
	"procedure_count",
	"diagnosis_count",
	"org_trust_score",
	"org_fraud_rate",
	"claim_volume",
	"amount_vs_org_avg",
	"amount_vs_procedure_avg",
	"duplicate_flag",
	"document_completeness",
	"missing_fields",
}

// Vector flattens the numeric features. The amount is log-scaled so it does
// not dominate the distance computations.
func (f Features) Vector() []float64 {
	return []float64{
		math.Log1p(math.Max(f.ClaimedAmount, 0)),
		float64(f.LengthOfStay),
		float64(len(f.ProcedureCodes)),
		float64(len(f.DiagnosisCodes)),
		f.OrgTrustScore / 100,
		f.OrgHistoricalFraudRate,
		math.Log1p(float64(f.OrgClaimVolume)),
		f.AmountVsOrgAvg,
		f.AmountVsProcedureAvg,
		boolToFloat(f.DuplicateClaim),
		f.DocumentCompleteness,
		float64(f.MissingRequiredFields),
	}
}

// Importance reports each feature's magnitude scaled by weight, keyed by name.
func (f Features) Importance(weight float64) map[string]float64 {
	vec := f.Vector()
	out := make(map[string]float64, len(vec))
	for i, v := range vec {
		if v != 0 {
			out[featureNames[i]] = math.Abs(v) * weight
		}
	}
	return out
}

// Ratio divides amount by avg, returning 1 when there is no baseline.
func Ratio(amount, avg float64) float64 {
	if avg <= 0 {
		return 1
	}
	return amount / avg
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
