package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	claimmodels "careverify/internal/claims/models"
	claimstore "careverify/internal/claims/store"
	"careverify/internal/orgs/models"
	"careverify/internal/orgs/store"
	id "careverify/pkg/domain"
	dErrors "careverify/pkg/domain-errors"
	audit "careverify/pkg/platform/audit"
	"careverify/pkg/platform/audit/publishers/compliance"
	auditmemory "careverify/pkg/platform/audit/store/memory"
	"careverify/pkg/requestcontext"
)

type TrustServiceSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	orgs     *store.InMemoryStore
	claims   *claimstore.InMemoryClaimStore
	ledger   *auditmemory.InMemoryStore
	service  *Service
	hospital *models.Organization
}

func TestTrustServiceSuite(t *testing.T) {
	suite.Run(t, new(TrustServiceSuite))
}

func (s *TrustServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.orgs = store.NewInMemoryStore()
	s.claims = claimstore.NewInMemoryClaimStore()
	s.ledger = auditmemory.NewInMemoryStore()
	s.service = New(s.orgs, s.claims, WithAuditPublisher(compliance.New(s.ledger)))

	hospital, err := s.service.Register(s.ctx, &models.RegisterRequest{Name: " City Hospital ", Type: "Hospital"})
	s.Require().NoError(err)
	s.hospital = hospital
}

func (s *TrustServiceSuite) addClaim(created time.Time, mutate func(c *claimmodels.Claim)) {
	c, err := claimmodels.NewClaim(id.NewClaimID(), claimmodels.NewClaimParams{
		HospitalOrgID: s.hospital.ID,
		ClaimedAmount: 1000,
		Currency:      "INR",
		Priority:      2,
	}, created)
	s.Require().NoError(err)
	submitted := created
	c.SubmittedAt = &submitted
	if mutate != nil {
		mutate(c)
	}
	s.Require().NoError(s.claims.Create(s.ctx, c))
}

func ptr(v float64) *float64 { return &v }

func (s *TrustServiceSuite) TestRegister_Normalizes() {
	s.Equal("City Hospital", s.hospital.Name)
	s.Equal(models.OrgTypeHospital, s.hospital.Type)
	s.True(s.hospital.Active)
}

func (s *TrustServiceSuite) TestRegister_RejectsUnknownType() {
	_, err := s.service.Register(s.ctx, &models.RegisterRequest{Name: "X", Type: "clinic"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *TrustServiceSuite) TestCurrentTrust_DefaultsWithoutHistory() {
	score, err := s.service.CurrentTrust(s.ctx, s.hospital.ID)
	s.Require().NoError(err)
	s.Equal(models.DefaultTrustScore, score)
}

func (s *TrustServiceSuite) TestRecompute() {
	recent := s.now.Add(-10 * 24 * time.Hour)
	// approved, clean, on time, trust 90
	s.addClaim(recent, func(c *claimmodels.Claim) {
		c.ApprovedAmount = ptr(1000)
		c.TrustScore = ptr(90)
		c.FraudProbability = ptr(0.1)
	})
	// denied, high fraud, breached, trust 30
	s.addClaim(recent, func(c *claimmodels.Claim) {
		c.TrustScore = ptr(30)
		c.FraudProbability = ptr(0.9)
		c.SLABreached = true
	})
	// outside the window
	s.addClaim(s.now.Add(-200*24*time.Hour), func(c *claimmodels.Claim) {
		c.SLABreached = true
	})

	point, err := s.service.Recompute(s.ctx, s.hospital.ID)
	s.Require().NoError(err)
	s.Require().NotNil(point)

	// 0.5*40 + 0.5*30 + 0.5*20 + 0.6*10
	s.InDelta(51.0, point.Score, 1e-9)
	s.Equal(2.0, point.Factors[models.FactorSampleSize])
	s.Require().NotNil(point.PreviousScore)
	s.Equal(models.DefaultTrustScore, *point.PreviousScore)
	s.InDelta(1.0, point.Delta(), 1e-9)

	current, err := s.service.CurrentTrust(s.ctx, s.hospital.ID)
	s.Require().NoError(err)
	s.Equal(51.0, current)

	events, err := audit.Collect(s.ledger.ReadTimeline(s.ctx, audit.ResourceOrganization, s.hospital.ID.String()))
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(audit.EventOrgTrustRecomputed, events[0].Type)
}

func (s *TrustServiceSuite) TestRecompute_NoClaimsWritesNothing() {
	point, err := s.service.Recompute(s.ctx, s.hospital.ID)
	s.Require().NoError(err)
	s.Nil(point)

	history, err := s.service.TrustHistory(s.ctx, s.hospital.ID, 0)
	s.Require().NoError(err)
	s.Empty(history)
}

func (s *TrustServiceSuite) TestRecompute_UnknownOrg() {
	_, err := s.service.Recompute(s.ctx, id.NewOrgID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *TrustServiceSuite) TestRecomputeAll_HistoryNewestFirst() {
	s.addClaim(s.now.Add(-time.Hour), func(c *claimmodels.Claim) {
		c.ApprovedAmount = ptr(1000)
		c.TrustScore = ptr(100)
	})

	n, err := s.service.RecomputeAll(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	later := requestcontext.WithTime(s.ctx, s.now.Add(time.Hour))
	_, err = s.service.Recompute(later, s.hospital.ID)
	s.Require().NoError(err)

	history, err := s.service.TrustHistory(s.ctx, s.hospital.ID, 10)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.True(history[0].ComputedAt.After(history[1].ComputedAt))
	s.Equal(100.0, history[0].Score)
	s.Equal(100.0, *history[0].PreviousScore)
}

func (s *TrustServiceSuite) TestAddRelationship_RequiresInsurerTarget() {
	other, err := s.service.Register(s.ctx, &models.RegisterRequest{Name: "Other", Type: models.OrgTypeHospital})
	s.Require().NoError(err)

	err = s.service.AddRelationship(s.ctx, s.hospital.ID, other.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	insurer, err := s.service.Register(s.ctx, &models.RegisterRequest{Name: "Payer", Type: models.OrgTypeInsurance})
	s.Require().NoError(err)
	s.Require().NoError(s.service.AddRelationship(s.ctx, s.hospital.ID, insurer.ID))

	related, err := s.orgs.RelatedInsurers(s.ctx, s.hospital.ID)
	s.Require().NoError(err)
	s.Equal([]id.OrgID{insurer.ID}, related)
}
