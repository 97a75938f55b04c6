package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"careverify/internal/orgs/models"
	id "careverify/pkg/domain"
	"careverify/pkg/platform/sentinel"
	txcontext "careverify/pkg/platform/tx"
)

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists organizations in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Save(ctx context.Context, org *models.Organization) error {
	specialties := org.Specialties
	if specialties == nil {
		specialties = []string{}
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO organizations (id, name, org_type, active, specialties, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			specialties = EXCLUDED.specialties`,
		uuid.UUID(org.ID), org.Name, string(org.Type), org.Active, pq.Array(specialties), org.CreatedAt)
	if err != nil {
		return fmt.Errorf("save organization: %w", err)
	}
	return nil
}

const orgColumns = `id, name, org_type, active, specialties, created_at`

func scanOrg(row interface{ Scan(...any) error }) (*models.Organization, error) {
	var (
		o       models.Organization
		raw     uuid.UUID
		orgType string
	)
	if err := row.Scan(&raw, &o.Name, &orgType, &o.Active, pq.Array(&o.Specialties), &o.CreatedAt); err != nil {
		return nil, err
	}
	o.ID = id.OrgID(raw)
	o.Type = models.OrgType(orgType)
	return &o, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, orgID id.OrgID) (*models.Organization, error) {
	o, err := scanOrg(s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE id = $1`, uuid.UUID(orgID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("organization %s: %w", orgID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find organization: %w", err)
	}
	return o, nil
}

func (s *PostgresStore) ListActive(ctx context.Context, orgType models.OrgType) ([]*models.Organization, error) {
	return s.list(ctx, `SELECT `+orgColumns+` FROM organizations
		WHERE active AND org_type = $1 ORDER BY id`, string(orgType))
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.Organization, error) {
	return s.list(ctx, `SELECT `+orgColumns+` FROM organizations ORDER BY id`)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Organization, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()
	var out []*models.Organization
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddRelationship(ctx context.Context, hospitalID, insurerID id.OrgID) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO org_relationships (hospital_org_id, insurance_org_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		uuid.UUID(hospitalID), uuid.UUID(insurerID))
	if err != nil {
		return fmt.Errorf("add relationship: %w", err)
	}
	return nil
}

func (s *PostgresStore) RelatedInsurers(ctx context.Context, hospitalID id.OrgID) ([]id.OrgID, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT insurance_org_id FROM org_relationships
		WHERE hospital_org_id = $1 ORDER BY insurance_org_id`, uuid.UUID(hospitalID))
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()
	var out []id.OrgID
	for rows.Next() {
		var raw uuid.UUID
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, id.OrgID(raw))
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendTrustScore(ctx context.Context, score *models.TrustScore) error {
	factors, err := json.Marshal(score.Factors)
	if err != nil {
		return fmt.Errorf("marshal trust factors: %w", err)
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO org_trust_scores (org_id, score, previous_score, factors, computed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.UUID(score.OrgID), score.Score, score.PreviousScore, factors, score.ComputedAt)
	if err != nil {
		return fmt.Errorf("append trust score: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestTrustScore(ctx context.Context, orgID id.OrgID) (*models.TrustScore, error) {
	history, err := s.TrustHistory(ctx, orgID, 1)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("trust score for %s: %w", orgID, sentinel.ErrNotFound)
	}
	return history[0], nil
}

func (s *PostgresStore) TrustHistory(ctx context.Context, orgID id.OrgID, limit int) ([]*models.TrustScore, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT score, previous_score, factors, computed_at FROM org_trust_scores
		WHERE org_id = $1 ORDER BY computed_at DESC, id DESC LIMIT $2`,
		uuid.UUID(orgID), limit)
	if err != nil {
		return nil, fmt.Errorf("trust history: %w", err)
	}
	defer rows.Close()
	var out []*models.TrustScore
	for rows.Next() {
		t := models.TrustScore{OrgID: orgID}
		var prev sql.NullFloat64
		var factors []byte
		if err := rows.Scan(&t.Score, &prev, &factors, &t.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan trust score: %w", err)
		}
		if prev.Valid {
			p := prev.Float64
			t.PreviousScore = &p
		}
		if err := json.Unmarshal(factors, &t.Factors); err != nil {
			return nil, fmt.Errorf("unmarshal trust factors: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
