package models

import (
	"strings"

	id "careverify/pkg/domain"
	dErrors "careverify/pkg/domain-errors"
	pstrings "careverify/pkg/platform/strings"
)

// CreateClaimRequest is the input for creating a draft claim.
type CreateClaimRequest struct {
	HospitalOrgID  id.OrgID      `json:"hospital_org_id"`
	ClaimedAmount  float64       `json:"claimed_amount"`
	Currency       string        `json:"currency,omitempty"`
	Priority       int           `json:"priority,omitempty"`
	Specialty      string        `json:"specialty,omitempty"`
	ProcedureCodes []string      `json:"procedure_codes,omitempty"`
	DiagnosisCodes []string      `json:"diagnosis_codes,omitempty"`
	Documents      []DocumentRef `json:"documents,omitempty"`
	LengthOfStay   int           `json:"length_of_stay_days,omitempty"`
}

// Normalize fills defaults and cleans up code lists.
func (r *CreateClaimRequest) Normalize(defaultCurrency string, defaultPriority int) {
	if r == nil {
		return
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if r.Currency == "" {
		r.Currency = defaultCurrency
	}
	if r.Priority == 0 {
		r.Priority = defaultPriority
	}
	r.Specialty = strings.ToLower(strings.TrimSpace(r.Specialty))
	r.ProcedureCodes = pstrings.NormalizeCodes(r.ProcedureCodes)
	r.DiagnosisCodes = pstrings.NormalizeCodes(r.DiagnosisCodes)
}

// Validate checks the fields that do not depend on defaults. NewClaim checks the rest.
func (r *CreateClaimRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.HospitalOrgID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "hospital_org_id is required")
	}
	if r.ClaimedAmount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "claimed_amount must be a positive number")
	}
	for _, doc := range r.Documents {
		if strings.TrimSpace(doc.ID) == "" {
			return dErrors.New(dErrors.CodeValidation, "every document needs an id")
		}
	}
	return nil
}

// Params converts the request into NewClaim input. Call Normalize first.
func (r *CreateClaimRequest) Params() NewClaimParams {
	return NewClaimParams{
		HospitalOrgID:  r.HospitalOrgID,
		ClaimedAmount:  r.ClaimedAmount,
		Currency:       r.Currency,
		Priority:       r.Priority,
		Specialty:      r.Specialty,
		ProcedureCodes: r.ProcedureCodes,
		DiagnosisCodes: r.DiagnosisCodes,
		Documents:      r.Documents,
		LengthOfStay:   r.LengthOfStay,
	}
}

// ReviewInput is a reviewer's verdict.
type ReviewInput struct {
	Outcome ReviewOutcome `json:"outcome"`
	Notes   string        `json:"notes,omitempty"`
}

func (r *ReviewInput) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	r.Outcome = ReviewOutcome(strings.ToLower(strings.TrimSpace(string(r.Outcome))))
	if !r.Outcome.IsVerdict() {
		return dErrors.New(dErrors.CodeValidation, "outcome must be one of pass, flag, escalate, reject")
	}
	return nil
}

// DecisionInput is an insurer's determination.
type DecisionInput struct {
	Outcome        DecisionOutcome `json:"outcome"`
	ApprovedAmount *float64        `json:"approved_amount,omitempty"`
	ReasonCodes    []string        `json:"reason_codes,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	IsFinal        bool            `json:"is_final"`
}

func (r *DecisionInput) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	r.Outcome = DecisionOutcome(strings.ToLower(strings.TrimSpace(string(r.Outcome))))
	if _, ok := r.Outcome.Status(); !ok {
		return dErrors.New(dErrors.CodeValidation, "outcome must be one of approved, partially_approved, denied")
	}
	r.ReasonCodes = pstrings.NormalizeCodes(r.ReasonCodes)
	return nil
}

// AppealInput carries the hospital's reason for appealing.
type AppealInput struct {
	Reason string `json:"reason"`
}

func (r *AppealInput) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}

// AssignInsurerInput names the insurer for a manual assignment.
type AssignInsurerInput struct {
	InsurerOrgID id.OrgID `json:"insurer_org_id"`
}

func (r *AssignInsurerInput) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.InsurerOrgID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "insurer_org_id is required")
	}
	return nil
}

// AttachDocumentsInput adds supporting documents to a claim.
type AttachDocumentsInput struct {
	Documents []DocumentRef `json:"documents"`
}

func (r *AttachDocumentsInput) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Documents) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one document is required")
	}
	for i := range r.Documents {
		r.Documents[i].ID = strings.TrimSpace(r.Documents[i].ID)
		if r.Documents[i].ID == "" {
			return dErrors.New(dErrors.CodeValidation, "every document needs an id")
		}
	}
	return nil
}
