package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"careverify/internal/claims/models"
	id "careverify/pkg/domain"
	"careverify/pkg/platform/sentinel"
)

// PostgresRecordStore persists scoring results, reviews and decisions.
type PostgresRecordStore struct {
	db *sql.DB
}

func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

func (s *PostgresRecordStore) SaveScoringResult(ctx context.Context, r *models.ScoringResult) error {
	subScores, err := json.Marshal(r.SubScores)
	if err != nil {
		return fmt.Errorf("marshal sub scores: %w", err)
	}
	importance := r.FeatureImportance
	if importance == nil {
		importance = map[string]float64{}
	}
	importanceJSON, err := json.Marshal(importance)
	if err != nil {
		return fmt.Errorf("marshal feature importance: %w", err)
	}
	_, err = execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO scoring_results (
			id, claim_id, sub_scores, trust_score, confidence, recommendation,
			risk_factors, feature_importance, explanation, model_version, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.UUID(r.ID), uuid.UUID(r.ClaimID), subScores, r.TrustScore, r.Confidence,
		r.Recommendation, pq.Array(nonNil(r.RiskFactors)), importanceJSON, r.Explanation,
		r.ModelVersion, r.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("scoring result %s: %w", r.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert scoring result: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) FindScoringResult(ctx context.Context, resultID id.ScoringResultID) (*models.ScoringResult, error) {
	var (
		r                     models.ScoringResult
		rawID, claimID        uuid.UUID
		subScores, importance []byte
	)
	err := execer(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, claim_id, sub_scores, trust_score, confidence, recommendation,
			risk_factors, feature_importance, explanation, model_version, created_at
		FROM scoring_results WHERE id = $1`, uuid.UUID(resultID),
	).Scan(&rawID, &claimID, &subScores, &r.TrustScore, &r.Confidence, &r.Recommendation,
		pq.Array(&r.RiskFactors), &importance, &r.Explanation, &r.ModelVersion, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("scoring result %s: %w", resultID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find scoring result: %w", err)
	}
	r.ID = id.ScoringResultID(rawID)
	r.ClaimID = id.ClaimID(claimID)
	if err := json.Unmarshal(subScores, &r.SubScores); err != nil {
		return nil, fmt.Errorf("unmarshal sub scores: %w", err)
	}
	if err := json.Unmarshal(importance, &r.FeatureImportance); err != nil {
		return nil, fmt.Errorf("unmarshal feature importance: %w", err)
	}
	return &r, nil
}

func (s *PostgresRecordStore) SaveReview(ctx context.Context, r *models.Review) error {
	_, err := execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO reviews (id, claim_id, reviewer_id, kind, outcome, notes, due_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.UUID(r.ID), uuid.UUID(r.ClaimID), nullableUser(r.ReviewerID), string(r.Kind),
		string(r.Outcome), r.Notes, r.DueAt, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) ListReviews(ctx context.Context, claimID id.ClaimID) ([]*models.Review, error) {
	rows, err := execer(ctx, s.db).QueryContext(ctx, `
		SELECT id, claim_id, reviewer_id, kind, outcome, notes, due_at, created_at
		FROM reviews WHERE claim_id = $1 ORDER BY created_at, id`, uuid.UUID(claimID))
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()
	var out []*models.Review
	for rows.Next() {
		var (
			r             models.Review
			rawID, rawClm uuid.UUID
			reviewer      uuid.NullUUID
			kind, outcome string
			due           sql.NullTime
		)
		if err := rows.Scan(&rawID, &rawClm, &reviewer, &kind, &outcome, &r.Notes, &due, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		r.ID = id.ReviewID(rawID)
		r.ClaimID = id.ClaimID(rawClm)
		r.ReviewerID = id.UserID(reviewer.UUID)
		r.Kind = models.ReviewKind(kind)
		r.Outcome = models.ReviewOutcome(outcome)
		r.DueAt = timePtr(due)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *PostgresRecordStore) SaveDecision(ctx context.Context, d *models.Decision) error {
	_, err := execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO decisions (
			id, claim_id, decided_by, outcome, approved_amount, reason_codes, notes, is_final, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.UUID(d.ID), uuid.UUID(d.ClaimID), nullableUser(d.DecidedBy), string(d.Outcome),
		d.ApprovedAmount, pq.Array(nonNil(d.ReasonCodes)), d.Notes, d.IsFinal, d.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("final decision for claim %s: %w", d.ClaimID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) ListDecisions(ctx context.Context, claimID id.ClaimID) ([]*models.Decision, error) {
	rows, err := execer(ctx, s.db).QueryContext(ctx, `
		SELECT id, claim_id, decided_by, outcome, approved_amount, reason_codes, notes, is_final, created_at
		FROM decisions WHERE claim_id = $1 ORDER BY created_at, id`, uuid.UUID(claimID))
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()
	var out []*models.Decision
	for rows.Next() {
		var (
			d             models.Decision
			rawID, rawClm uuid.UUID
			decidedBy     uuid.NullUUID
			outcome       string
			amount        sql.NullFloat64
		)
		if err := rows.Scan(&rawID, &rawClm, &decidedBy, &outcome, &amount,
			pq.Array(&d.ReasonCodes), &d.Notes, &d.IsFinal, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.ID = id.DecisionID(rawID)
		d.ClaimID = id.ClaimID(rawClm)
		d.DecidedBy = id.UserID(decidedBy.UUID)
		d.Outcome = models.DecisionOutcome(outcome)
		d.ApprovedAmount = floatPtr(amount)
		out = append(out, &d)
	}
	return out, rows.Err()
}

func nullableUser(u id.UserID) uuid.NullUUID {
	if u.IsNil() {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(u), Valid: true}
}
