// Package store persists organizations, their standing relationships, and
// the trust score series. Missing entities return sentinel.ErrNotFound.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"careverify/internal/orgs/models"
	id "careverify/pkg/domain"
	"careverify/pkg/platform/sentinel"
)

// InMemoryStore backs tests and single-process dev runs.
type InMemoryStore struct {
	mu            sync.RWMutex
	orgs          map[id.OrgID]*models.Organization
	relationships map[id.OrgID]map[id.OrgID]struct{}
	trust         map[id.OrgID][]*models.TrustScore
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		orgs:          make(map[id.OrgID]*models.Organization),
		relationships: make(map[id.OrgID]map[id.OrgID]struct{}),
		trust:         make(map[id.OrgID][]*models.TrustScore),
	}
}

func cloneOrg(o *models.Organization) *models.Organization {
	cp := *o
	cp.Specialties = append([]string(nil), o.Specialties...)
	return &cp
}

func (s *InMemoryStore) Save(_ context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[org.ID] = cloneOrg(org)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, orgID id.OrgID) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[orgID]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", orgID, sentinel.ErrNotFound)
	}
	return cloneOrg(o), nil
}

// ListActive returns active orgs of the given type ordered by id.
func (s *InMemoryStore) ListActive(_ context.Context, orgType models.OrgType) ([]*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Organization
	for _, o := range s.orgs {
		if o.Active && o.Type == orgType {
			out = append(out, cloneOrg(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Organization, 0, len(s.orgs))
	for _, o := range s.orgs {
		out = append(out, cloneOrg(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *InMemoryStore) AddRelationship(_ context.Context, hospitalID, insurerID id.OrgID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.relationships[hospitalID] == nil {
		s.relationships[hospitalID] = make(map[id.OrgID]struct{})
	}
	s.relationships[hospitalID][insurerID] = struct{}{}
	return nil
}

// RelatedInsurers lists insurers with a standing relationship to the hospital.
func (s *InMemoryStore) RelatedInsurers(_ context.Context, hospitalID id.OrgID) ([]id.OrgID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]id.OrgID, 0, len(s.relationships[hospitalID]))
	for insurer := range s.relationships[hospitalID] {
		out = append(out, insurer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *InMemoryStore) AppendTrustScore(_ context.Context, score *models.TrustScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *score
	s.trust[score.OrgID] = append(s.trust[score.OrgID], &cp)
	return nil
}

func (s *InMemoryStore) LatestTrustScore(_ context.Context, orgID id.OrgID) (*models.TrustScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.trust[orgID]
	if len(series) == 0 {
		return nil, fmt.Errorf("trust score for %s: %w", orgID, sentinel.ErrNotFound)
	}
	cp := *series[len(series)-1]
	return &cp, nil
}

// TrustHistory returns up to limit points, newest first.
func (s *InMemoryStore) TrustHistory(_ context.Context, orgID id.OrgID, limit int) ([]*models.TrustScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.trust[orgID]
	var out []*models.TrustScore
	for i := len(series) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		cp := *series[i]
		out = append(out, &cp)
	}
	return out, nil
}
