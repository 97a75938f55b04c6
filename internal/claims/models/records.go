package models

import (
	"time"

	id "careverify/pkg/domain"
)

// Scorer kind keys used in ScoringResult.SubScores.
const (
	ScorerFraud              = "fraud"
	ScorerApproval           = "approval"
	ScorerIsolationAnomaly   = "isolation_anomaly"
	ScorerAutoencoderAnomaly = "autoencoder_anomaly"
	ScorerTextInconsistency  = "text_inconsistency"
)

// SubScore is one scorer's output. Value is in [0,1].
type SubScore struct {
	Value             float64            `json:"value"`
	Explanation       string             `json:"explanation,omitempty"`
	FeatureImportance map[string]float64 `json:"feature_importance,omitempty"`
}

// ScoringResult is the immutable output of one scoring run.
// A scorer missing from SubScores did not respond.
type ScoringResult struct {
	ID                id.ScoringResultID   `json:"id"`
	ClaimID           id.ClaimID           `json:"claim_id"`
	SubScores         map[string]*SubScore `json:"sub_scores"`
	TrustScore        float64              `json:"trust_score"`
	Confidence        float64              `json:"confidence"`
	Recommendation    string               `json:"recommendation"`
	RiskFactors       []string             `json:"risk_factors,omitempty"`
	FeatureImportance map[string]float64   `json:"feature_importance,omitempty"`
	Explanation       string               `json:"explanation,omitempty"`
	ModelVersion      string               `json:"model_version,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
}

// Value returns the named sub-score, or nil when that scorer did not respond.
func (r *ScoringResult) Value(kind string) *float64 {
	if r == nil {
		return nil
	}
	sub, ok := r.SubScores[kind]
	if !ok || sub == nil {
		return nil
	}
	v := sub.Value
	return &v
}

// ReviewKind separates ordinary reviews from the review an appeal opens.
type ReviewKind string

const (
	ReviewKindStandard ReviewKind = "review"
	ReviewKindAppeal   ReviewKind = "appeal"
)

// ReviewOutcome is the human verdict on a claim.
type ReviewOutcome string

const (
	ReviewPass     ReviewOutcome = "pass"
	ReviewFlag     ReviewOutcome = "flag"
	ReviewEscalate ReviewOutcome = "escalate"
	ReviewReject   ReviewOutcome = "reject"
	// ReviewPending marks an appeal review that has been opened but not yet concluded.
	ReviewPending ReviewOutcome = "pending"
)

func (o ReviewOutcome) IsVerdict() bool {
	switch o {
	case ReviewPass, ReviewFlag, ReviewEscalate, ReviewReject:
		return true
	}
	return false
}

// Review is a human decision record tied to a claim.
type Review struct {
	ID         id.ReviewID   `json:"id"`
	ClaimID    id.ClaimID    `json:"claim_id"`
	ReviewerID id.UserID     `json:"reviewer_id"`
	Kind       ReviewKind    `json:"kind"`
	Outcome    ReviewOutcome `json:"outcome"`
	Notes      string        `json:"notes,omitempty"`
	DueAt      *time.Time    `json:"due_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// DecisionOutcome is an insurer determination.
type DecisionOutcome string

const (
	DecisionApproved          DecisionOutcome = "approved"
	DecisionPartiallyApproved DecisionOutcome = "partially_approved"
	DecisionDenied            DecisionOutcome = "denied"
)

// Status maps the outcome to the claim status it produces.
func (o DecisionOutcome) Status() (Status, bool) {
	switch o {
	case DecisionApproved:
		return StatusApproved, true
	case DecisionPartiallyApproved:
		return StatusPartiallyApproved, true
	case DecisionDenied:
		return StatusDenied, true
	}
	return "", false
}

// Decision is an insurer's determination. At most one per claim is final.
type Decision struct {
	ID             id.DecisionID   `json:"id"`
	ClaimID        id.ClaimID      `json:"claim_id"`
	DecidedBy      id.UserID       `json:"decided_by"`
	Outcome        DecisionOutcome `json:"outcome"`
	ApprovedAmount *float64        `json:"approved_amount,omitempty"`
	ReasonCodes    []string        `json:"reason_codes,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	IsFinal        bool            `json:"is_final"`
	CreatedAt      time.Time       `json:"created_at"`
}
