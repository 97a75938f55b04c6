package models

import (
	"slices"
	"strings"
	"time"

	id "careverify/pkg/domain"
	dErrors "careverify/pkg/domain-errors"
	pstrings "careverify/pkg/platform/strings"
)

// OrgType separates claim submitters from payers.
type OrgType string

const (
	OrgTypeHospital  OrgType = "hospital"
	OrgTypeInsurance OrgType = "insurance"
)

func (t OrgType) IsValid() bool {
	return t == OrgTypeHospital || t == OrgTypeInsurance
}

// Organization is a hospital or an insurer.
//
// Invariants:
//   - Name is non-empty and at most 256 characters
//   - Type never changes after construction
type Organization struct {
	ID          id.OrgID  `json:"id"`
	Name        string    `json:"name"`
	Type        OrgType   `json:"type"`
	Active      bool      `json:"active"`
	Specialties []string  `json:"specialties,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewOrganization validates and builds an active organization.
func NewOrganization(orgID id.OrgID, name string, orgType OrgType, specialties []string, now time.Time) (*Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 256 {
		return nil, dErrors.New(dErrors.CodeValidation, "name must be 1-256 characters")
	}
	if !orgType.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "type must be hospital or insurance")
	}
	return &Organization{
		ID:          orgID,
		Name:        name,
		Type:        orgType,
		Active:      true,
		Specialties: pstrings.NormalizeTags(specialties),
		CreatedAt:   now,
	}, nil
}

func (o *Organization) IsInsurer() bool {
	return o.Type == OrgTypeInsurance
}

// Covers reports whether the org lists the specialty. An empty specialty matches any org.
func (o *Organization) Covers(specialty string) bool {
	specialty = strings.ToLower(strings.TrimSpace(specialty))
	return specialty == "" || slices.Contains(o.Specialties, specialty)
}

// TrustScore is one point in an organization's trust series.
type TrustScore struct {
	OrgID         id.OrgID           `json:"org_id"`
	Score         float64            `json:"score"`
	PreviousScore *float64           `json:"previous_score,omitempty"`
	Factors       map[string]float64 `json:"factors"`
	ComputedAt    time.Time          `json:"computed_at"`
}

// Delta is the change from the previous point, or zero for the first.
func (t *TrustScore) Delta() float64 {
	if t.PreviousScore == nil {
		return 0
	}
	return t.Score - *t.PreviousScore
}

// DefaultTrustScore is assumed for orgs with no recorded history.
const DefaultTrustScore = 50.0

// RegisterRequest is the input for registering an organization.
type RegisterRequest struct {
	Name        string   `json:"name"`
	Type        OrgType  `json:"type"`
	Specialties []string `json:"specialties,omitempty"`
}

// Normalize trims whitespace and lowercases the type.
func (r *RegisterRequest) Normalize() {
	if r == nil {
		return
	}
	r.Name = strings.TrimSpace(r.Name)
	r.Type = OrgType(strings.ToLower(strings.TrimSpace(string(r.Type))))
}

// Validate normalizes the request and checks the fields NewOrganization needs.
func (r *RegisterRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	r.Normalize()
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if !r.Type.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "type must be hospital or insurance")
	}
	return nil
}

// RelationshipRequest links a hospital to an insurer it works with.
type RelationshipRequest struct {
	InsurerOrgID id.OrgID `json:"insurer_org_id"`
}

func (r *RelationshipRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.InsurerOrgID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "insurer_org_id is required")
	}
	return nil
}

// Trust factor keys stored with each TrustScore.
const (
	FactorApprovalRate  = "approval_rate"
	FactorFraudRate     = "fraud_rate"
	FactorSLACompliance = "sla_compliance"
	FactorDocQuality    = "doc_quality"
	FactorSampleSize    = "claim_sample_size"
)
