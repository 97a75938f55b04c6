// Package routing selects the insurance organization that reviews a claim.
//
// Selection policy:
//  1. candidates are active insurers; when the claim names a specialty and at
//     least one insurer covers it, only covering insurers remain
//  2. candidates with a standing relationship to the hospital win over the rest
//  3. highest current org trust, then fewest open claims, then lowest org id
//
// An empty candidate set fails with CodeNoEligibleInsurer. Callers hold the
// claim for manual assignment; the failure is not fatal to the workflow.
package routing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	orgmodels "careverify/internal/orgs/models"
	id "careverify/pkg/domain"
	dErrors "careverify/pkg/domain-errors"
	"careverify/pkg/platform/sentinel"
)

// Directory reads organizations.
type Directory interface {
	FindByID(ctx context.Context, orgID id.OrgID) (*orgmodels.Organization, error)
	ListActive(ctx context.Context, orgType orgmodels.OrgType) ([]*orgmodels.Organization, error)
}

// Relationships lists insurers with a standing relationship to a hospital.
type Relationships interface {
	RelatedInsurers(ctx context.Context, hospitalID id.OrgID) ([]id.OrgID, error)
}

// TrustSource reports an organization's current trust score.
type TrustSource interface {
	CurrentTrust(ctx context.Context, orgID id.OrgID) (float64, error)
}

// LoadCounter counts unresolved claims per insurer.
type LoadCounter interface {
	CountOpenByInsurer(ctx context.Context, orgIDs []id.OrgID) (map[id.OrgID]int, error)
}

// Request describes the claim being routed.
type Request struct {
	ClaimID       id.ClaimID
	HospitalOrgID id.OrgID
	Specialty     string
	TrustScore    float64
}

// Assignment is the routing outcome.
type Assignment struct {
	InsurerID  id.OrgID `json:"insurer_id"`
	OrgTrust   float64  `json:"org_trust"`
	OpenClaims int      `json:"open_claims"`
	Standing   bool     `json:"standing_relationship"`
	Candidates int      `json:"candidates"`
	Reason     string   `json:"reason"`
}

type candidate struct {
	org      *orgmodels.Organization
	trust    float64
	open     int
	standing bool
}

// Engine routes claims to insurers.
type Engine struct {
	directory     Directory
	relationships Relationships
	trust         TrustSource
	load          LoadCounter
	logger        *slog.Logger
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New constructs an Engine. relationships may be nil when no standing
// relationships are known.
func New(directory Directory, relationships Relationships, trust TrustSource, load LoadCounter, opts ...Option) *Engine {
	e := &Engine{
		directory:     directory,
		relationships: relationships,
		trust:         trust,
		load:          load,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Route picks an insurer for the claim.
func (e *Engine) Route(ctx context.Context, req Request) (*Assignment, error) {
	insurers, err := e.directory.ListActive(ctx, orgmodels.OrgTypeInsurance)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list insurers")
	}
	insurers = preferSpecialty(insurers, req.Specialty)
	if len(insurers) == 0 {
		return nil, dErrors.New(dErrors.CodeNoEligibleInsurer, "no active insurance organization")
	}

	standing, err := e.standingSet(ctx, req.HospitalOrgID)
	if err != nil {
		return nil, err
	}

	ids := make([]id.OrgID, 0, len(insurers))
	for _, org := range insurers {
		ids = append(ids, org.ID)
	}
	open, err := e.load.CountOpenByInsurer(ctx, ids)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count open claims")
	}

	pool := make([]candidate, 0, len(insurers))
	for _, org := range insurers {
		trust, err := e.trust.CurrentTrust(ctx, org.ID)
		if err != nil {
			return nil, err
		}
		_, linked := standing[org.ID]
		pool = append(pool, candidate{org: org, trust: trust, open: open[org.ID], standing: linked})
	}

	pool, linked := preferStanding(pool)
	sort.SliceStable(pool, func(i, j int) bool { return less(pool[i], pool[j]) })
	best := pool[0]

	reason := "highest trust among active insurers"
	if linked {
		reason = "highest trust among insurers with a standing relationship"
	}
	e.logger.InfoContext(ctx, "claim routed",
		"claim_id", req.ClaimID,
		"insurer_id", best.org.ID,
		"org_trust", best.trust,
		"claim_trust", req.TrustScore,
		"standing", linked,
	)
	return &Assignment{
		InsurerID:  best.org.ID,
		OrgTrust:   best.trust,
		OpenClaims: best.open,
		Standing:   linked,
		Candidates: len(pool),
		Reason:     reason,
	}, nil
}

// Confirm checks that an existing assignment still points at an active insurer.
func (e *Engine) Confirm(ctx context.Context, orgID id.OrgID) error {
	org, err := e.directory.FindByID(ctx, orgID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNoEligibleInsurer, fmt.Sprintf("insurer %s not found", orgID))
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load insurer")
	}
	if !org.Active || !org.IsInsurer() {
		return dErrors.New(dErrors.CodeNoEligibleInsurer, fmt.Sprintf("org %s is not an active insurer", orgID))
	}
	return nil
}

func (e *Engine) standingSet(ctx context.Context, hospitalID id.OrgID) (map[id.OrgID]struct{}, error) {
	out := make(map[id.OrgID]struct{})
	if e.relationships == nil {
		return out, nil
	}
	related, err := e.relationships.RelatedInsurers(ctx, hospitalID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load relationships")
	}
	for _, orgID := range related {
		out[orgID] = struct{}{}
	}
	return out, nil
}

func preferSpecialty(insurers []*orgmodels.Organization, specialty string) []*orgmodels.Organization {
	if specialty == "" {
		return insurers
	}
	var covering []*orgmodels.Organization
	for _, org := range insurers {
		if org.Covers(specialty) {
			covering = append(covering, org)
		}
	}
	if len(covering) == 0 {
		return insurers
	}
	return covering
}

func preferStanding(pool []candidate) ([]candidate, bool) {
	var linked []candidate
	for _, c := range pool {
		if c.standing {
			linked = append(linked, c)
		}
	}
	if len(linked) == 0 {
		return pool, false
	}
	return linked, true
}

func less(a, b candidate) bool {
	if a.trust != b.trust {
		return a.trust > b.trust
	}
	if a.open != b.open {
		return a.open < b.open
	}
	ua, ub := uuid.UUID(a.org.ID), uuid.UUID(b.org.ID)
	return bytes.Compare(ua[:], ub[:]) < 0
}
