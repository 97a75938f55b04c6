package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "careverify/pkg/domain-errors"
)

// parsers exercises every Parse* function through one signature.
var parsers = map[string]func(string) (string, error){
	"claim_id": func(s string) (string, error) {
		id, err := ParseClaimID(s)
		return id.String(), err
	},
	"org_id": func(s string) (string, error) {
		id, err := ParseOrgID(s)
		return id.String(), err
	},
	"user_id": func(s string) (string, error) {
		id, err := ParseUserID(s)
		return id.String(), err
	},
	"scoring_result_id": func(s string) (string, error) {
		id, err := ParseScoringResultID(s)
		return id.String(), err
	},
}

func TestParse_RejectsUntrustedInput(t *testing.T) {
	inputs := map[string]string{
		"empty":          "",
		"whitespace":     "   ",
		"nil uuid":       uuid.Nil.String(),
		"sql":            "'; DROP TABLE claims;--",
		"path traversal": "../../claims",
		"null byte":      "550e8400\x00-e29b-41d4-a716-446655440000",
		"invalid utf8":   string([]byte{0xff, 0xfe}),
		"oversized":      strings.Repeat("a", 1000),
	}
	for field, parse := range parsers {
		for name, input := range inputs {
			t.Run(field+"/"+name, func(t *testing.T) {
				_, err := parse(input)
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
				assert.Contains(t, err.Error(), field, "message names the offending field")
			})
		}
	}
}

func TestParse_AcceptsAnyCase(t *testing.T) {
	raw := "550E8400-E29B-41D4-A716-446655440000"
	for field, parse := range parsers {
		got, err := parse(raw)
		require.NoError(t, err, field)
		assert.Equal(t, strings.ToLower(raw), got, field)
	}
}

func TestNewIDs(t *testing.T) {
	assert.False(t, NewClaimID().IsNil())
	assert.False(t, NewOrgID().IsNil())
	assert.False(t, NewScoringResultID().IsNil())
	assert.NotEqual(t, NewClaimID(), NewClaimID())
	assert.True(t, ClaimID{}.IsNil())
	assert.True(t, UserID{}.IsNil())
}

func TestIDs_EncodeAsStringsInJSON(t *testing.T) {
	type decisionEvent struct {
		Claim    ClaimID    `json:"claim_id"`
		Insurer  OrgID      `json:"insurer_org_id"`
		Decision DecisionID `json:"decision_id"`
		Reviewer *UserID    `json:"reviewer_id,omitempty"`
	}
	in := decisionEvent{Claim: NewClaimID(), Insurer: NewOrgID(), Decision: NewDecisionID()}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"claim_id":"`+in.Claim.String()+`"`)
	assert.NotContains(t, string(raw), "reviewer_id")

	var out decisionEvent
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)

	assert.Error(t, json.Unmarshal([]byte(`{"claim_id":"nope"}`), &out))
}
