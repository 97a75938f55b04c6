package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"careverify/internal/claims/models"
	id "careverify/pkg/domain"
	"careverify/pkg/platform/sentinel"
)

// InMemoryClaimStore keeps claims in a map for tests and single-process dev runs.
// Stored values are cloned on the way in and out.
type InMemoryClaimStore struct {
	mu       sync.RWMutex
	claims   map[id.ClaimID]*models.Claim
	byNumber map[string]id.ClaimID
}

func NewInMemoryClaimStore() *InMemoryClaimStore {
	return &InMemoryClaimStore{
		claims:   make(map[id.ClaimID]*models.Claim),
		byNumber: make(map[string]id.ClaimID),
	}
}

func (s *InMemoryClaimStore) Create(_ context.Context, claim *models.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claims[claim.ID]; ok {
		return fmt.Errorf("claim %s: %w", claim.ID, sentinel.ErrConflict)
	}
	if _, ok := s.byNumber[claim.ClaimNumber]; ok {
		return fmt.Errorf("claim number %s: %w", claim.ClaimNumber, sentinel.ErrConflict)
	}
	s.claims[claim.ID] = claim.Clone()
	s.byNumber[claim.ClaimNumber] = claim.ID
	return nil
}

func (s *InMemoryClaimStore) FindByID(_ context.Context, claimID id.ClaimID) (*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[claimID]
	if !ok {
		return nil, fmt.Errorf("claim %s: %w", claimID, sentinel.ErrNotFound)
	}
	return c.Clone(), nil
}

// Update replaces the stored claim when its version still equals expectedVersion.
func (s *InMemoryClaimStore) Update(_ context.Context, claim *models.Claim, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.claims[claim.ID]
	if !ok {
		return fmt.Errorf("claim %s: %w", claim.ID, sentinel.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("claim %s at version %d, expected %d: %w", claim.ID, current.Version, expectedVersion, sentinel.ErrStale)
	}
	s.claims[claim.ID] = claim.Clone()
	return nil
}

// MarkSLABreached flags the claim when its deadline passed before resolution.
// It returns false when the claim was already flagged, resolved, or not yet due.
func (s *InMemoryClaimStore) MarkSLABreached(_ context.Context, claimID id.ClaimID, now time.Time) (*models.Claim, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[claimID]
	if !ok {
		return nil, false, fmt.Errorf("claim %s: %w", claimID, sentinel.ErrNotFound)
	}
	if !c.IsOverdue(now) {
		return c.Clone(), false, nil
	}
	c.SLABreached = true
	c.Version++
	c.UpdatedAt = now
	return c.Clone(), true, nil
}

func (s *InMemoryClaimStore) ListOpenDeadlines(_ context.Context) ([]Deadline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Deadline
	for _, c := range s.claims {
		if c.SLADeadline == nil || c.SLABreached || c.Status.IsResolved() {
			continue
		}
		out = append(out, Deadline{ClaimID: c.ID, Deadline: *c.SLADeadline})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out, nil
}

func (s *InMemoryClaimStore) ListStaleDrafts(_ context.Context, before time.Time, limit int) ([]id.ClaimID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var drafts []*models.Claim
	for _, c := range s.claims {
		if c.Status == models.StatusDraft && c.CreatedAt.Before(before) {
			drafts = append(drafts, c)
		}
	}
	sort.Slice(drafts, func(i, j int) bool { return drafts[i].CreatedAt.Before(drafts[j].CreatedAt) })
	if limit > 0 && len(drafts) > limit {
		drafts = drafts[:limit]
	}
	out := make([]id.ClaimID, 0, len(drafts))
	for _, c := range drafts {
		out = append(out, c.ID)
	}
	return out, nil
}

// ListStalledScoring returns claims that have sat in a scoring status since
// before the cutoff, oldest first.
func (s *InMemoryClaimStore) ListStalledScoring(_ context.Context, before time.Time, limit int) ([]id.ClaimID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stalled []*models.Claim
	for _, c := range s.claims {
		if c.Status.IsScoring() && c.UpdatedAt.Before(before) {
			stalled = append(stalled, c)
		}
	}
	sort.Slice(stalled, func(i, j int) bool { return stalled[i].UpdatedAt.Before(stalled[j].UpdatedAt) })
	if limit > 0 && len(stalled) > limit {
		stalled = stalled[:limit]
	}
	out := make([]id.ClaimID, 0, len(stalled))
	for _, c := range stalled {
		out = append(out, c.ID)
	}
	return out, nil
}

// CountOpenByInsurer counts unresolved claims assigned to each org.
func (s *InMemoryClaimStore) CountOpenByInsurer(_ context.Context, orgIDs []id.OrgID) (map[id.OrgID]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[id.OrgID]int, len(orgIDs))
	for _, org := range orgIDs {
		out[org] = 0
	}
	for _, c := range s.claims {
		if c.InsuranceOrgID == nil || c.Status.IsResolved() {
			continue
		}
		if _, ok := out[*c.InsuranceOrgID]; ok {
			out[*c.InsuranceOrgID]++
		}
	}
	return out, nil
}

// ListByOrgSince returns claims the org took part in, as hospital or insurer.
func (s *InMemoryClaimStore) ListByOrgSince(_ context.Context, orgID id.OrgID, since time.Time) ([]*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Claim
	for _, c := range s.claims {
		if c.CreatedAt.Before(since) {
			continue
		}
		if c.HospitalOrgID == orgID || (c.InsuranceOrgID != nil && *c.InsuranceOrgID == orgID) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryClaimStore) History(_ context.Context, q HistoryQuery) (History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var h History
	var total, procTotal float64
	var procCount int
	for _, c := range s.claims {
		if c.ID == q.ExcludeClaimID || c.HospitalOrgID != q.HospitalOrgID || c.CreatedAt.Before(q.Since) {
			continue
		}
		h.ClaimCount++
		total += c.ClaimedAmount
		if len(q.ProcedureCodes) > 0 && overlaps(c.ProcedureCodes, q.ProcedureCodes) {
			procCount++
			procTotal += c.ClaimedAmount
		}
		if math.Abs(c.ClaimedAmount-q.ClaimedAmount) < 0.005 && sameCodes(c.ProcedureCodes, q.ProcedureCodes) {
			h.DuplicateCount++
		}
	}
	if h.ClaimCount > 0 {
		h.AvgAmount = total / float64(h.ClaimCount)
	}
	if procCount > 0 {
		h.ProcedureAvgAmount = procTotal / float64(procCount)
	}
	return h, nil
}
