//go:build integration

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"careverify/internal/orgs/models"
	"careverify/internal/orgs/store"
	id "careverify/pkg/domain"
	"careverify/pkg/platform/sentinel"
	"careverify/pkg/testutil/containers"
)

type PostgresOrgStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	now      time.Time
}

func TestPostgresOrgStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresOrgStoreSuite))
}

func (s *PostgresOrgStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

func (s *PostgresOrgStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "org_trust_scores", "org_relationships", "organizations")
	s.Require().NoError(err)
}

func (s *PostgresOrgStoreSuite) org(name string, orgType models.OrgType, specialties ...string) *models.Organization {
	org, err := models.NewOrganization(id.NewOrgID(), name, orgType, specialties, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Save(context.Background(), org))
	return org
}

func (s *PostgresOrgStoreSuite) TestSaveAndFind() {
	ctx := context.Background()
	org := s.org("Shield", models.OrgTypeInsurance, "cardiology", "oncology")

	got, err := s.store.FindByID(ctx, org.ID)
	s.Require().NoError(err)
	s.Equal(org.Name, got.Name)
	s.Equal(org.Specialties, got.Specialties)
	s.True(got.Active)

	_, err = s.store.FindByID(ctx, id.NewOrgID())
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresOrgStoreSuite) TestListActiveFiltersByType() {
	ctx := context.Background()
	s.org("Lakeside", models.OrgTypeHospital)
	insurer := s.org("Cover Co", models.OrgTypeInsurance)
	inactive := s.org("Dormant", models.OrgTypeInsurance)
	inactive.Active = false
	s.Require().NoError(s.store.Save(ctx, inactive))

	insurers, err := s.store.ListActive(ctx, models.OrgTypeInsurance)
	s.Require().NoError(err)
	s.Require().Len(insurers, 1)
	s.Equal(insurer.ID, insurers[0].ID)

	all, err := s.store.ListAll(ctx)
	s.Require().NoError(err)
	s.Len(all, 3)
}

func (s *PostgresOrgStoreSuite) TestRelationshipsAreIdempotent() {
	ctx := context.Background()
	hospital := s.org("Lakeside", models.OrgTypeHospital)
	insurer := s.org("Cover Co", models.OrgTypeInsurance)

	s.Require().NoError(s.store.AddRelationship(ctx, hospital.ID, insurer.ID))
	s.Require().NoError(s.store.AddRelationship(ctx, hospital.ID, insurer.ID))

	related, err := s.store.RelatedInsurers(ctx, hospital.ID)
	s.Require().NoError(err)
	s.Equal([]id.OrgID{insurer.ID}, related)
}

func (s *PostgresOrgStoreSuite) TestTrustSeriesNewestFirst() {
	ctx := context.Background()
	hospital := s.org("Lakeside", models.OrgTypeHospital)

	_, err := s.store.LatestTrustScore(ctx, hospital.ID)
	s.True(errors.Is(err, sentinel.ErrNotFound))

	prev := models.DefaultTrustScore
	for i, score := range []float64{61.5, 70.25} {
		point := &models.TrustScore{
			OrgID:         hospital.ID,
			Score:         score,
			PreviousScore: &prev,
			Factors:       map[string]float64{models.FactorApprovalRate: 0.8},
			ComputedAt:    s.now.Add(time.Duration(i) * time.Hour),
		}
		s.Require().NoError(s.store.AppendTrustScore(ctx, point))
		prev = score
	}

	latest, err := s.store.LatestTrustScore(ctx, hospital.ID)
	s.Require().NoError(err)
	s.Equal(70.25, latest.Score)
	s.Require().NotNil(latest.PreviousScore)
	s.Equal(61.5, *latest.PreviousScore)
	s.Equal(0.8, latest.Factors[models.FactorApprovalRate])

	history, err := s.store.TrustHistory(ctx, hospital.ID, 1)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(70.25, history[0].Score)
}
