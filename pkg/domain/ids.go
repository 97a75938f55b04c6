// Package domain holds the typed identifiers shared across the claim workflow.
//
// Each identifier wraps a UUID so a ClaimID can never be passed where an OrgID
// is expected. Construct identifiers from untrusted input with the Parse*
// functions; they reject empty, malformed and nil UUIDs.
package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "careverify/pkg/domain-errors"
)

type (
	ClaimID         uuid.UUID
	OrgID           uuid.UUID
	UserID          uuid.UUID
	ReviewID        uuid.UUID
	DecisionID      uuid.UUID
	ScoringResultID uuid.UUID
)

func NewClaimID() ClaimID { return ClaimID(uuid.New()) }
func NewOrgID() OrgID { return OrgID(uuid.New()) }
func NewReviewID() ReviewID { return ReviewID(uuid.New()) }
func NewDecisionID() DecisionID { return DecisionID(uuid.New()) }
func NewScoringResultID() ScoringResultID { return ScoringResultID(uuid.New()) }

func (id ClaimID) String() string { return uuid.UUID(id).String() }
func (id OrgID) String() string { return uuid.UUID(id).String() }
func (id UserID) String() string { return uuid.UUID(id).String() }
func (id ReviewID) String() string { return uuid.UUID(id).String() }
func (id DecisionID) String() string { return uuid.UUID(id).String() }
func (id ScoringResultID) String() string { return uuid.UUID(id).String() }

func (id ClaimID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id OrgID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ScoringResultID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// ParseClaimID parses a claim identifier at a trust boundary.
func ParseClaimID(s string) (ClaimID, error) {
	u, err := parseUUID(s, "claim_id")
	return ClaimID(u), err
}

// ParseOrgID parses an organization identifier at a trust boundary.
func ParseOrgID(s string) (OrgID, error) {
	u, err := parseUUID(s, "org_id")
	return OrgID(u), err
}

// ParseUserID parses a user identifier at a trust boundary.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user_id")
	return UserID(u), err
}

// ParseScoringResultID parses a scoring result identifier at a trust boundary.
func ParseScoringResultID(s string) (ScoringResultID, error) {
	u, err := parseUUID(s, "scoring_result_id")
	return ScoringResultID(u), err
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	if !utf8.ValidString(s) {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must be valid UTF-8")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must not be the nil UUID")
	}
	return u, nil
}

// Text marshalling keeps IDs readable in JSON payloads and logs.

func (id ClaimID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id OrgID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id UserID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id ReviewID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id DecisionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id ScoringResultID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ClaimID) UnmarshalText(b []byte) error { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *OrgID) UnmarshalText(b []byte) error { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *UserID) UnmarshalText(b []byte) error { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *ReviewID) UnmarshalText(b []byte) error { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *DecisionID) UnmarshalText(b []byte) error { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *ScoringResultID) UnmarshalText(b []byte) error { return unmarshalUUID(b, (*uuid.UUID)(id)) }

func unmarshalUUID(b []byte, dst *uuid.UUID) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*dst = u
	return nil
}
