package models

import (
	"encoding/base32"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	id "careverify/pkg/domain"
	dErrors "careverify/pkg/domain-errors"
)

// Trust score thresholds applied when scoring completes.
const (
	ComplianceReviewBelow = 40.0
	AutoApproveAtLeast    = 85.0
)

// DocumentRef points at a stored document; the bytes live elsewhere.
type DocumentRef struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	URI  string `json:"uri"`
}

// Claim is the aggregate root of the workflow.
//
// Invariants:
//   - ApprovedAmount is set only while Status is approved or partially_approved
//   - TrustScore is set only after scoring completes
//   - SLADeadline is written once, at submission, and never changes afterwards
//   - Version increases by one on every persisted change
type Claim struct {
	ID             id.ClaimID    `json:"id"`
	ClaimNumber    string        `json:"claim_number"`
	HospitalOrgID  id.OrgID      `json:"hospital_org_id"`
	InsuranceOrgID *id.OrgID     `json:"insurance_org_id,omitempty"`
	ClaimedAmount  float64       `json:"claimed_amount"`
	ApprovedAmount *float64      `json:"approved_amount,omitempty"`
	Currency       string        `json:"currency"`
	Status         Status        `json:"status"`
	Priority       int           `json:"priority"`
	Specialty      string        `json:"specialty,omitempty"`
	ProcedureCodes []string      `json:"procedure_codes,omitempty"`
	DiagnosisCodes []string      `json:"diagnosis_codes,omitempty"`
	Documents      []DocumentRef `json:"documents,omitempty"`
	LengthOfStay   int           `json:"length_of_stay_days"`

	TrustScore           *float64            `json:"trust_score,omitempty"`
	FraudProbability     *float64            `json:"fraud_probability,omitempty"`
	AnomalyScore         *float64            `json:"anomaly_score,omitempty"`
	ApprovalLikelihood   *float64            `json:"approval_likelihood,omitempty"`
	AIRecommendation     string              `json:"ai_recommendation,omitempty"`
	AutoApprovalEligible bool                `json:"auto_approval_eligible"`
	LatestScoringID      *id.ScoringResultID `json:"latest_scoring_id,omitempty"`

	ReviewFlagged   bool           `json:"review_flagged"`
	RoutingHold     bool           `json:"routing_hold"`
	FinalDecisionID *id.DecisionID `json:"final_decision_id,omitempty"`
	AppealCount     int            `json:"appeal_count"`

	SLADeadline *time.Time `json:"sla_deadline,omitempty"`
	SLABreached bool       `json:"sla_breached"`

	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// NewClaimParams carries the validated input for NewClaim.
type NewClaimParams struct {
	HospitalOrgID  id.OrgID
	ClaimedAmount  float64
	Currency       string
	Priority       int
	Specialty      string
	ProcedureCodes []string
	DiagnosisCodes []string
	Documents      []DocumentRef
	LengthOfStay   int
}

// NewClaim builds a draft claim.
func NewClaim(claimID id.ClaimID, p NewClaimParams, now time.Time) (*Claim, error) {
	if p.HospitalOrgID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "hospital_org_id is required")
	}
	if p.ClaimedAmount <= 0 || math.IsNaN(p.ClaimedAmount) || math.IsInf(p.ClaimedAmount, 0) {
		return nil, dErrors.New(dErrors.CodeValidation, "claimed_amount must be a positive number")
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if len(currency) != 3 {
		return nil, dErrors.New(dErrors.CodeValidation, "currency must be a 3-letter ISO code")
	}
	if p.Priority < 1 || p.Priority > 5 {
		return nil, dErrors.New(dErrors.CodeValidation, "priority must be between 1 and 5")
	}
	if p.LengthOfStay < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "length_of_stay_days must not be negative")
	}
	return &Claim{
		ID:             claimID,
		ClaimNumber:    NewClaimNumber(claimID, now),
		HospitalOrgID:  p.HospitalOrgID,
		ClaimedAmount:  roundAmount(p.ClaimedAmount),
		Currency:       currency,
		Status:         StatusDraft,
		Priority:       p.Priority,
		Specialty:      strings.TrimSpace(p.Specialty),
		ProcedureCodes: p.ProcedureCodes,
		DiagnosisCodes: p.DiagnosisCodes,
		Documents:      p.Documents,
		LengthOfStay:   p.LengthOfStay,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// claimNumberEncoding renders the suffix in unpadded base32, A-Z and 2-7.
var claimNumberEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewClaimNumber renders the human-readable number, CLM-YYYYMMDD-XXXXXXXXXX.
// The suffix carries the first 48 random bits of the claim id.
func NewClaimNumber(claimID id.ClaimID, now time.Time) string {
	u := uuid.UUID(claimID)
	return fmt.Sprintf("CLM-%s-%s", now.UTC().Format("20060102"), claimNumberEncoding.EncodeToString(u[:6]))
}

// Transition records one status change.
type Transition struct {
	From Status
	To   Status
}

// InvalidTransition builds the rejection for an illegal move out of from.
func InvalidTransition(from Status, attempted string) error {
	return dErrors.New(dErrors.CodeInvalidTransition,
		fmt.Sprintf("cannot %s a claim in status %s", attempted, from))
}

// TransitionTo moves the claim along a legal edge.
func (c *Claim) TransitionTo(to Status, now time.Time) (Transition, error) {
	if !c.Status.CanTransitionTo(to) {
		return Transition{}, dErrors.New(dErrors.CodeInvalidTransition,
			fmt.Sprintf("transition %s -> %s is not allowed", c.Status, to))
	}
	t := Transition{From: c.Status, To: to}
	c.Status = to
	c.UpdatedAt = now
	if to == StatusClosed {
		closedAt := now
		c.ClosedAt = &closedAt
	}
	return t, nil
}

// CanSubmit checks that the claim is an unsubmitted draft.
func (c *Claim) CanSubmit() error {
	if c.Status != StatusDraft {
		return InvalidTransition(c.Status, "submit")
	}
	if c.SLADeadline != nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "sla deadline already set")
	}
	return nil
}

// ApplySubmit stamps submission and freezes the SLA deadline. Call CanSubmit first.
func (c *Claim) ApplySubmit(now time.Time, window time.Duration) (Transition, error) {
	t, err := c.TransitionTo(StatusSubmitted, now)
	if err != nil {
		return Transition{}, err
	}
	submittedAt := now
	deadline := now.Add(window)
	c.SubmittedAt = &submittedAt
	c.SLADeadline = &deadline
	return t, nil
}

// IsScored reports whether a scoring result has been attached.
func (c *Claim) IsScored() bool {
	return c.LatestScoringID != nil
}

// CanAcceptScoring checks the claim is still waiting on scoring.
func (c *Claim) CanAcceptScoring() error {
	if !c.Status.IsScoring() {
		return InvalidTransition(c.Status, "attach a scoring result to")
	}
	return nil
}

// ApplyScoring copies the result onto the claim and returns the review state it routes to.
func (c *Claim) ApplyScoring(result *ScoringResult) Status {
	c.applyScores(result)
	if result.TrustScore < ComplianceReviewBelow {
		return StatusComplianceReview
	}
	return StatusPendingReview
}

// CanRescore checks the claim is in a review state where a fresh score is useful.
func (c *Claim) CanRescore() error {
	if !c.Status.InReview() && c.Status != StatusInsurerReview {
		return InvalidTransition(c.Status, "rescore")
	}
	return nil
}

// ApplyRescoring makes result the authoritative score. The status and the SLA
// deadline are left alone: a rescore never moves a claim backwards.
func (c *Claim) ApplyRescoring(result *ScoringResult) {
	c.applyScores(result)
}

func (c *Claim) applyScores(result *ScoringResult) {
	trust := result.TrustScore
	resultID := result.ID
	c.TrustScore = &trust
	c.LatestScoringID = &resultID
	c.FraudProbability = result.Value(ScorerFraud)
	c.ApprovalLikelihood = result.Value(ScorerApproval)
	c.AnomalyScore = meanOf(result.Value(ScorerIsolationAnomaly), result.Value(ScorerAutoencoderAnomaly))
	c.AIRecommendation = result.Recommendation
	c.AutoApprovalEligible = trust >= AutoApproveAtLeast
}

// CanAttachDocuments checks documents may still be added: before submission,
// or while the claim is being reviewed.
func (c *Claim) CanAttachDocuments() error {
	if c.Status == StatusDraft {
		return nil
	}
	if err := c.CanRescore(); err != nil {
		return InvalidTransition(c.Status, "attach documents to")
	}
	return nil
}

// AttachDocuments appends the documents whose ids the claim does not hold yet
// and returns the ones it added.
func (c *Claim) AttachDocuments(docs []DocumentRef, now time.Time) []DocumentRef {
	held := make(map[string]struct{}, len(c.Documents))
	for _, d := range c.Documents {
		held[d.ID] = struct{}{}
	}
	var added []DocumentRef
	for _, d := range docs {
		if _, ok := held[d.ID]; ok {
			continue
		}
		held[d.ID] = struct{}{}
		added = append(added, d)
	}
	if len(added) > 0 {
		c.Documents = append(c.Documents, added...)
		c.UpdatedAt = now
	}
	return added
}

// CanRecordReview checks the claim awaits a review.
func (c *Claim) CanRecordReview() error {
	if !c.Status.InReview() {
		return InvalidTransition(c.Status, "review")
	}
	return nil
}

// ReviewTarget maps a review verdict to the next status.
func ReviewTarget(outcome ReviewOutcome) (Status, error) {
	switch outcome {
	case ReviewReject:
		return StatusDenied, nil
	case ReviewEscalate, ReviewPass, ReviewFlag:
		return StatusInsurerReview, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown review outcome %q", outcome))
}

// CanRecordDecision validates a decision against the claim.
func (c *Claim) CanRecordDecision(outcome DecisionOutcome, amount *float64, isFinal bool) error {
	if c.Status != StatusInsurerReview {
		return InvalidTransition(c.Status, "decide")
	}
	if isFinal && c.FinalDecisionID != nil {
		return dErrors.New(dErrors.CodeConflict, "claim already has a final decision")
	}
	switch outcome {
	case DecisionApproved:
		if amount != nil && (*amount <= 0 || *amount > c.ClaimedAmount) {
			return dErrors.New(dErrors.CodeValidation, "approved_amount must be positive and not exceed the claimed amount")
		}
	case DecisionPartiallyApproved:
		if amount == nil {
			return dErrors.New(dErrors.CodeValidation, "approved_amount is required for a partial approval")
		}
		if *amount <= 0 || *amount >= c.ClaimedAmount {
			return dErrors.New(dErrors.CodeValidation, "partial approval must be greater than zero and below the claimed amount")
		}
	case DecisionDenied:
		if amount != nil {
			return dErrors.New(dErrors.CodeValidation, "a denial carries no approved_amount")
		}
	default:
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown decision outcome %q", outcome))
	}
	return nil
}

// ApplyDecision sets the approved amount and moves to the decided status.
// Call CanRecordDecision first. decision.ApprovedAmount is set to the effective amount.
func (c *Claim) ApplyDecision(decision *Decision, now time.Time) (Transition, error) {
	to, ok := decision.Outcome.Status()
	if !ok {
		return Transition{}, dErrors.New(dErrors.CodeValidation, "unknown decision outcome")
	}
	t, err := c.TransitionTo(to, now)
	if err != nil {
		return Transition{}, err
	}
	switch decision.Outcome {
	case DecisionApproved:
		amount := c.ClaimedAmount
		if decision.ApprovedAmount != nil {
			amount = roundAmount(*decision.ApprovedAmount)
		}
		c.ApprovedAmount = &amount
	case DecisionPartiallyApproved:
		amount := roundAmount(*decision.ApprovedAmount)
		c.ApprovedAmount = &amount
	default:
		c.ApprovedAmount = nil
	}
	decision.ApprovedAmount = c.ApprovedAmount
	if decision.IsFinal {
		decisionID := decision.ID
		c.FinalDecisionID = &decisionID
	}
	return t, nil
}

// CanAppeal validates an appeal against the configured cap.
func (c *Claim) CanAppeal(maxAppeals int) error {
	if c.Status != StatusDenied && c.Status != StatusPartiallyApproved {
		return InvalidTransition(c.Status, "appeal")
	}
	if c.FinalDecisionID != nil {
		return dErrors.New(dErrors.CodeInvalidTransition, "claim has a final decision and cannot be appealed")
	}
	if c.AppealCount >= maxAppeals {
		return dErrors.New(dErrors.CodeAppealLimitExceeded,
			fmt.Sprintf("claim has used %d of %d appeals", c.AppealCount, maxAppeals))
	}
	return nil
}

// ApplyAppeal moves the claim to appealed. The approved amount is cleared
// because the claim is no longer in a decided status.
func (c *Claim) ApplyAppeal(now time.Time) (Transition, error) {
	t, err := c.TransitionTo(StatusAppealed, now)
	if err != nil {
		return Transition{}, err
	}
	c.AppealCount++
	c.ApprovedAmount = nil
	return t, nil
}

// CanClose checks the claim has been decided.
func (c *Claim) CanClose() error {
	if !c.Status.IsDecided() {
		return InvalidTransition(c.Status, "close")
	}
	return nil
}

// CanAssignInsurer checks a manual assignment is possible.
func (c *Claim) CanAssignInsurer() error {
	if !c.Status.InReview() && c.Status != StatusInsurerReview {
		return InvalidTransition(c.Status, "assign an insurer to")
	}
	return nil
}

// ApplyInsurer records the routed insurer and clears any routing hold.
func (c *Claim) ApplyInsurer(orgID id.OrgID, now time.Time) {
	c.InsuranceOrgID = &orgID
	c.RoutingHold = false
	c.UpdatedAt = now
}

// IsOverdue reports whether the SLA deadline passed while the claim was unresolved.
func (c *Claim) IsOverdue(now time.Time) bool {
	return c.SLADeadline != nil && !c.SLABreached && !c.Status.IsResolved() && now.After(*c.SLADeadline)
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (c *Claim) Clone() *Claim {
	if c == nil {
		return nil
	}
	out := *c
	out.InsuranceOrgID = clonePtr(c.InsuranceOrgID)
	out.ApprovedAmount = clonePtr(c.ApprovedAmount)
	out.TrustScore = clonePtr(c.TrustScore)
	out.FraudProbability = clonePtr(c.FraudProbability)
	out.AnomalyScore = clonePtr(c.AnomalyScore)
	out.ApprovalLikelihood = clonePtr(c.ApprovalLikelihood)
	out.LatestScoringID = clonePtr(c.LatestScoringID)
	out.FinalDecisionID = clonePtr(c.FinalDecisionID)
	out.SLADeadline = clonePtr(c.SLADeadline)
	out.SubmittedAt = clonePtr(c.SubmittedAt)
	out.ClosedAt = clonePtr(c.ClosedAt)
	out.ProcedureCodes = append([]string(nil), c.ProcedureCodes...)
	out.DiagnosisCodes = append([]string(nil), c.DiagnosisCodes...)
	out.Documents = append([]DocumentRef(nil), c.Documents...)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func meanOf(values ...*float64) *float64 {
	var sum float64
	var n int
	for _, v := range values {
		if v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	return &mean
}

func roundAmount(v float64) float64 {
	return math.Round(v*100) / 100
}
