// Package service manages organizations and their trust score series.
//
// The organization trust score summarizes how a hospital's claims fared over a
// trailing window:
//
//	score = approval_rate*40 + (1-fraud_rate)*30 + sla_compliance*20 + doc_quality*10
//
// Every recompute appends a point to the series; the latest point is what
// routing and feature building read. Orgs with no points report DefaultTrustScore.
package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	claimmodels "careverify/internal/claims/models"
	"careverify/internal/orgs/models"
	id "careverify/pkg/domain"
	dErrors "careverify/pkg/domain-errors"
	audit "careverify/pkg/platform/audit"
	"careverify/pkg/platform/sentinel"
	"careverify/pkg/requestcontext"
)

const (
	defaultTrustWindow  = 180 * 24 * time.Hour
	highFraudThreshold  = 0.7
	defaultHistoryLimit = 50
)

type Store interface {
	Save(ctx context.Context, org *models.Organization) error
	FindByID(ctx context.Context, orgID id.OrgID) (*models.Organization, error)
	ListActive(ctx context.Context, orgType models.OrgType) ([]*models.Organization, error)
	ListAll(ctx context.Context) ([]*models.Organization, error)
	AddRelationship(ctx context.Context, hospitalID, insurerID id.OrgID) error
	RelatedInsurers(ctx context.Context, hospitalID id.OrgID) ([]id.OrgID, error)
	AppendTrustScore(ctx context.Context, score *models.TrustScore) error
	LatestTrustScore(ctx context.Context, orgID id.OrgID) (*models.TrustScore, error)
	TrustHistory(ctx context.Context, orgID id.OrgID, limit int) ([]*models.TrustScore, error)
}

// ClaimSource reads the claims an organization took part in.
type ClaimSource interface {
	ListByOrgSince(ctx context.Context, orgID id.OrgID, since time.Time) ([]*claimmodels.Claim, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) (audit.Event, error)
}

// Service orchestrates organization registration and trust recomputation.
type Service struct {
	store          Store
	claims         ClaimSource
	logger         *slog.Logger
	auditPublisher AuditPublisher
	window         time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// WithTrustWindow overrides the trailing window used by Recompute.
func WithTrustWindow(window time.Duration) Option {
	return func(s *Service) {
		if window > 0 {
			s.window = window
		}
	}
}

// New constructs a Service.
func New(store Store, claims ClaimSource, opts ...Option) *Service {
	s := &Service{
		store:  store,
		claims: claims,
		logger: slog.Default(),
		window: defaultTrustWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an active organization.
func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.Organization, error) {
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	req.Normalize()
	org, err := models.NewOrganization(id.NewOrgID(), req.Name, req.Type, req.Specialties, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, org); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save organization")
	}
	s.logger.InfoContext(ctx, "organization registered",
		"org_id", org.ID,
		"type", org.Type,
	)
	return org, nil
}

func (s *Service) Get(ctx context.Context, orgID id.OrgID) (*models.Organization, error) {
	org, err := s.store.FindByID(ctx, orgID)
	if err != nil {
		return nil, translate(err, "organization not found", "failed to load organization")
	}
	return org, nil
}

// AddRelationship records a standing relationship between a hospital and an insurer.
func (s *Service) AddRelationship(ctx context.Context, hospitalID, insurerID id.OrgID) error {
	hospital, err := s.Get(ctx, hospitalID)
	if err != nil {
		return err
	}
	insurer, err := s.Get(ctx, insurerID)
	if err != nil {
		return err
	}
	if hospital.Type != models.OrgTypeHospital {
		return dErrors.New(dErrors.CodeValidation, "relationship source must be a hospital")
	}
	if !insurer.IsInsurer() {
		return dErrors.New(dErrors.CodeValidation, "relationship target must be an insurer")
	}
	if err := s.store.AddRelationship(ctx, hospitalID, insurerID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to add relationship")
	}
	return nil
}

// CurrentTrust returns the latest trust score, or DefaultTrustScore when none was computed.
func (s *Service) CurrentTrust(ctx context.Context, orgID id.OrgID) (float64, error) {
	latest, err := s.store.LatestTrustScore(ctx, orgID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.DefaultTrustScore, nil
		}
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load trust score")
	}
	return latest.Score, nil
}

// Latest returns the latest trust point, nil when none was computed.
func (s *Service) Latest(ctx context.Context, orgID id.OrgID) (*models.TrustScore, error) {
	latest, err := s.store.LatestTrustScore(ctx, orgID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load trust score")
	}
	return latest, nil
}

// TrustHistory returns the newest points first.
func (s *Service) TrustHistory(ctx context.Context, orgID id.OrgID, limit int) ([]*models.TrustScore, error) {
	if _, err := s.Get(ctx, orgID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	history, err := s.store.TrustHistory(ctx, orgID, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load trust history")
	}
	return history, nil
}

// Recompute derives a new trust point from the org's claims in the trailing
// window and appends it. It returns nil without writing when the org has no
// submitted claims in the window.
func (s *Service) Recompute(ctx context.Context, orgID id.OrgID) (*models.TrustScore, error) {
	if _, err := s.Get(ctx, orgID); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	claims, err := s.claims.ListByOrgSince(ctx, orgID, now.Add(-s.window))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load claims")
	}

	factors, ok := trustFactors(orgID, claims)
	if !ok {
		s.logger.DebugContext(ctx, "no claims in trust window", "org_id", orgID)
		return nil, nil
	}
	score := round2(factors[models.FactorApprovalRate]*40 +
		(1-factors[models.FactorFraudRate])*30 +
		factors[models.FactorSLACompliance]*20 +
		factors[models.FactorDocQuality]*10)

	point := &models.TrustScore{
		OrgID:      orgID,
		Score:      score,
		Factors:    factors,
		ComputedAt: now,
	}
	previous, err := s.CurrentTrust(ctx, orgID)
	if err != nil {
		return nil, err
	}
	point.PreviousScore = &previous

	if err := s.store.AppendTrustScore(ctx, point); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to append trust score")
	}
	s.emitRecomputed(ctx, point)
	s.logger.InfoContext(ctx, "organization trust recomputed",
		"org_id", orgID,
		"previous", previous,
		"score", score,
	)
	return point, nil
}

// RecomputeAll recomputes every active hospital and returns how many points were written.
// A failure for one org is logged and does not stop the others.
func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	hospitals, err := s.store.ListActive(ctx, models.OrgTypeHospital)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list organizations")
	}
	written := 0
	for _, org := range hospitals {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		point, err := s.Recompute(ctx, org.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "trust recompute failed", "org_id", org.ID, "error", err)
			continue
		}
		if point != nil {
			written++
		}
	}
	return written, nil
}

// trustFactors computes the recompute inputs over submitted claims where the
// org is the hospital.
func trustFactors(orgID id.OrgID, claims []*claimmodels.Claim) (map[string]float64, bool) {
	var total, approved, highFraud, breached int
	var trustSum float64
	for _, c := range claims {
		if c.HospitalOrgID != orgID || c.SubmittedAt == nil {
			continue
		}
		total++
		if c.ApprovedAmount != nil {
			approved++
		}
		if c.FraudProbability != nil && *c.FraudProbability > highFraudThreshold {
			highFraud++
		}
		if c.SLABreached {
			breached++
		}
		if c.TrustScore != nil {
			trustSum += *c.TrustScore
		} else {
			trustSum += models.DefaultTrustScore
		}
	}
	if total == 0 {
		return nil, false
	}
	n := float64(total)
	return map[string]float64{
		models.FactorApprovalRate:  float64(approved) / n,
		models.FactorFraudRate:     float64(highFraud) / n,
		models.FactorSLACompliance: 1 - float64(breached)/n,
		models.FactorDocQuality:    math.Min(1, trustSum/n/100),
		models.FactorSampleSize:    n,
	}, true
}

func (s *Service) emitRecomputed(ctx context.Context, point *models.TrustScore) {
	if s.auditPublisher == nil {
		return
	}
	// Trust points are operational; a failed ledger write is logged, not fatal.
	_, err := s.auditPublisher.Emit(ctx, audit.Event{
		Type:         audit.EventOrgTrustRecomputed,
		ResourceType: audit.ResourceOrganization,
		ResourceID:   point.OrgID.String(),
		Payload: map[string]any{
			"score":          point.Score,
			"previous_score": point.PreviousScore,
			"delta":          round2(point.Delta()),
		},
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to audit trust recompute", "org_id", point.OrgID, "error", err)
	}
}

func translate(err error, notFoundMsg, internalMsg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, internalMsg)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
