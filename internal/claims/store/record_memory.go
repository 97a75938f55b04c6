package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"careverify/internal/claims/models"
	id "careverify/pkg/domain"
	"careverify/pkg/platform/sentinel"
)

// InMemoryRecordStore holds the append-only claim records.
type InMemoryRecordStore struct {
	mu        sync.RWMutex
	results   map[id.ScoringResultID]*models.ScoringResult
	reviews   map[id.ClaimID][]*models.Review
	decisions map[id.ClaimID][]*models.Decision
}

func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{
		results:   make(map[id.ScoringResultID]*models.ScoringResult),
		reviews:   make(map[id.ClaimID][]*models.Review),
		decisions: make(map[id.ClaimID][]*models.Decision),
	}
}

func (s *InMemoryRecordStore) SaveScoringResult(_ context.Context, result *models.ScoringResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[result.ID]; ok {
		return fmt.Errorf("scoring result %s: %w", result.ID, sentinel.ErrConflict)
	}
	cp := *result
	cp.SubScores = maps.Clone(result.SubScores)
	s.results[result.ID] = &cp
	return nil
}

func (s *InMemoryRecordStore) FindScoringResult(_ context.Context, resultID id.ScoringResultID) (*models.ScoringResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[resultID]
	if !ok {
		return nil, fmt.Errorf("scoring result %s: %w", resultID, sentinel.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *InMemoryRecordStore) SaveReview(_ context.Context, review *models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *review
	s.reviews[review.ClaimID] = append(s.reviews[review.ClaimID], &cp)
	return nil
}

func (s *InMemoryRecordStore) ListReviews(_ context.Context, claimID id.ClaimID) ([]*models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Review, 0, len(s.reviews[claimID]))
	for _, r := range s.reviews[claimID] {
		cp := *r
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SaveDecision enforces one final decision per claim.
func (s *InMemoryRecordStore) SaveDecision(_ context.Context, decision *models.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if decision.IsFinal {
		for _, d := range s.decisions[decision.ClaimID] {
			if d.IsFinal {
				return fmt.Errorf("final decision for claim %s: %w", decision.ClaimID, sentinel.ErrConflict)
			}
		}
	}
	cp := *decision
	s.decisions[decision.ClaimID] = append(s.decisions[decision.ClaimID], &cp)
	return nil
}

func (s *InMemoryRecordStore) ListDecisions(_ context.Context, claimID id.ClaimID) ([]*models.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Decision, 0, len(s.decisions[claimID]))
	for _, d := range s.decisions[claimID] {
		cp := *d
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
