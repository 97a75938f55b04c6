// Package store persists claims and their immutable records (scoring results,
// reviews, decisions).
//
// Error contract, shared by every implementation:
//   - sentinel.ErrNotFound when the requested entity does not exist
//   - sentinel.ErrStale when a conditional write loses against a newer version
//   - sentinel.ErrConflict when a uniqueness rule (claim number, result id,
//     one final decision per claim) would be violated
//   - wrapped infrastructure errors otherwise
package store

import (
	"time"

	id "careverify/pkg/domain"
)

// Deadline is one open SLA deadline.
type Deadline struct {
	ClaimID  id.ClaimID
	Deadline time.Time
}

// HistoryQuery selects the historical aggregates used for feature building.
type HistoryQuery struct {
	HospitalOrgID  id.OrgID
	ExcludeClaimID id.ClaimID
	ProcedureCodes []string
	ClaimedAmount  float64
	Since          time.Time
}

// History is what a hospital's recent claims look like.
type History struct {
	ClaimCount         int
	AvgAmount          float64
	ProcedureAvgAmount float64
	// DuplicateCount counts earlier claims with the same amount and procedure codes.
	DuplicateCount int
}

func sameCodes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, c := range a {
		seen[c]++
	}
	for _, c := range b {
		if seen[c] == 0 {
			return false
		}
		seen[c]--
	}
	return true
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
