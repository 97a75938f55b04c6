package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"careverify/internal/claims/models"
	id "careverify/pkg/domain"
	"careverify/pkg/platform/sentinel"
	txcontext "careverify/pkg/platform/tx"
)

const uniqueViolation = "23505"

// dbExecutor is satisfied by *sql.DB and *sql.Tx.
type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func execer(ctx context.Context, db *sql.DB) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return db
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// PostgresClaimStore persists claims in the claims table. Writes join the
// transaction carried in ctx so a state change commits with its ledger row.
type PostgresClaimStore struct {
	db *sql.DB
}

func NewPostgresClaimStore(db *sql.DB) *PostgresClaimStore {
	return &PostgresClaimStore{db: db}
}

const claimColumns = `
	id, claim_number, hospital_org_id, insurance_org_id, claimed_amount, approved_amount,
	currency, status, priority, specialty, procedure_codes, diagnosis_codes, documents,
	length_of_stay_days, trust_score, fraud_probability, anomaly_score, approval_likelihood,
	ai_recommendation, auto_approval_eligible, review_flagged, routing_hold,
	latest_scoring_id, final_decision_id, sla_deadline, sla_breached, appeal_count,
	version, created_at, updated_at, submitted_at, closed_at`

func (s *PostgresClaimStore) Create(ctx context.Context, c *models.Claim) error {
	args, err := claimArgs(c)
	if err != nil {
		return err
	}
	query := `INSERT INTO claims (` + claimColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)`
	if _, err := execer(ctx, s.db).ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("claim %s: %w", c.ClaimNumber, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func (s *PostgresClaimStore) FindByID(ctx context.Context, claimID id.ClaimID) (*models.Claim, error) {
	row := execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE id = $1`, uuid.UUID(claimID))
	c, err := scanClaim(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("claim %s: %w", claimID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find claim: %w", err)
	}
	return c, nil
}

// Update writes every mutable column guarded by the expected version.
func (s *PostgresClaimStore) Update(ctx context.Context, c *models.Claim, expectedVersion int64) error {
	args, err := claimArgs(c)
	if err != nil {
		return err
	}
	// claimArgs order: $1 id ... $28 version; created_at ($29) is immutable.
	query := `
		UPDATE claims SET
			insurance_org_id = $4, approved_amount = $6, status = $8, priority = $9,
			specialty = $10, procedure_codes = $11, diagnosis_codes = $12, documents = $13,
			length_of_stay_days = $14, trust_score = $15, fraud_probability = $16,
			anomaly_score = $17, approval_likelihood = $18, ai_recommendation = $19,
			auto_approval_eligible = $20, review_flagged = $21, routing_hold = $22,
			latest_scoring_id = $23, final_decision_id = $24, sla_deadline = $25,
			sla_breached = $26, appeal_count = $27, version = $28, updated_at = $30,
			submitted_at = $31, closed_at = $32
		WHERE id = $1 AND version = $33`
	args = append(args, expectedVersion)
	res, err := execer(ctx, s.db).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update claim rows: %w", err)
	}
	if n == 0 {
		if _, findErr := s.FindByID(ctx, c.ID); errors.Is(findErr, sentinel.ErrNotFound) {
			return findErr
		}
		return fmt.Errorf("claim %s expected version %d: %w", c.ID, expectedVersion, sentinel.ErrStale)
	}
	return nil
}

func (s *PostgresClaimStore) MarkSLABreached(ctx context.Context, claimID id.ClaimID, now time.Time) (*models.Claim, bool, error) {
	row := execer(ctx, s.db).QueryRowContext(ctx, `
		UPDATE claims SET sla_breached = TRUE, version = version + 1, updated_at = $2
		WHERE id = $1
		  AND sla_breached = FALSE
		  AND sla_deadline IS NOT NULL
		  AND sla_deadline < $2
		  AND status <> ALL($3)
		RETURNING `+claimColumns,
		uuid.UUID(claimID), now, pq.Array(resolvedStatusStrings()))
	c, err := scanClaim(row)
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("mark sla breached: %w", err)
	}
	current, err := s.FindByID(ctx, claimID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (s *PostgresClaimStore) ListOpenDeadlines(ctx context.Context) ([]Deadline, error) {
	rows, err := execer(ctx, s.db).QueryContext(ctx, `
		SELECT id, sla_deadline FROM claims
		WHERE sla_breached = FALSE AND sla_deadline IS NOT NULL AND status <> ALL($1)
		ORDER BY sla_deadline`, pq.Array(resolvedStatusStrings()))
	if err != nil {
		return nil, fmt.Errorf("list open deadlines: %w", err)
	}
	defer rows.Close()
	var out []Deadline
	for rows.Next() {
		var raw uuid.UUID
		var d Deadline
		if err := rows.Scan(&raw, &d.Deadline); err != nil {
			return nil, fmt.Errorf("scan deadline: %w", err)
		}
		d.ClaimID = id.ClaimID(raw)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresClaimStore) ListStaleDrafts(ctx context.Context, before time.Time, limit int) ([]id.ClaimID, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := execer(ctx, s.db).QueryContext(ctx, `
		SELECT id FROM claims WHERE status = $1 AND created_at < $2
		ORDER BY created_at LIMIT $3`, string(models.StatusDraft), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale drafts: %w", err)
	}
	defer rows.Close()
	var out []id.ClaimID
	for rows.Next() {
		var raw uuid.UUID
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan draft id: %w", err)
		}
		out = append(out, id.ClaimID(raw))
	}
	return out, rows.Err()
}

func (s *PostgresClaimStore) ListStalledScoring(ctx context.Context, before time.Time, limit int) ([]id.ClaimID, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := execer(ctx, s.db).QueryContext(ctx, `
		SELECT id FROM claims WHERE status IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at LIMIT $4`,
		string(models.StatusOCRProcessing), string(models.StatusAIAnalyzing), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stalled scoring: %w", err)
	}
	defer rows.Close()
	var out []id.ClaimID
	for rows.Next() {
		var raw uuid.UUID
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan stalled claim id: %w", err)
		}
		out = append(out, id.ClaimID(raw))
	}
	return out, rows.Err()
}

func (s *PostgresClaimStore) CountOpenByInsurer(ctx context.Context, orgIDs []id.OrgID) (map[id.OrgID]int, error) {
	out := make(map[id.OrgID]int, len(orgIDs))
	if len(orgIDs) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(orgIDs))
	for _, org := range orgIDs {
		out[org] = 0
		ids = append(ids, org.String())
	}
	rows, err := execer(ctx, s.db).QueryContext(ctx, `
		SELECT insurance_org_id, COUNT(*) FROM claims
		WHERE insurance_org_id = ANY($1::uuid[]) AND status <> ALL($2)
		GROUP BY insurance_org_id`, pq.Array(ids), pq.Array(resolvedStatusStrings()))
	if err != nil {
		return nil, fmt.Errorf("count open claims: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw uuid.UUID
		var n int
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, fmt.Errorf("scan open count: %w", err)
		}
		out[id.OrgID(raw)] = n
	}
	return out, rows.Err()
}

func (s *PostgresClaimStore) ListByOrgSince(ctx context.Context, orgID id.OrgID, since time.Time) ([]*models.Claim, error) {
	rows, err := execer(ctx, s.db).QueryContext(ctx, `
		SELECT `+claimColumns+` FROM claims
		WHERE (hospital_org_id = $1 OR insurance_org_id = $1) AND created_at >= $2
		ORDER BY created_at`, uuid.UUID(orgID), since)
	if err != nil {
		return nil, fmt.Errorf("list org claims: %w", err)
	}
	defer rows.Close()
	var out []*models.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresClaimStore) History(ctx context.Context, q HistoryQuery) (History, error) {
	var h History
	var avg, procAvg sql.NullFloat64
	codes := q.ProcedureCodes
	if codes == nil {
		codes = []string{}
	}
	err := execer(ctx, s.db).QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			AVG(claimed_amount)::float8,
			(AVG(claimed_amount) FILTER (WHERE procedure_codes && $4::text[]))::float8,
			COUNT(*) FILTER (WHERE claimed_amount = $5::numeric
				AND procedure_codes @> $4::text[] AND procedure_codes <@ $4::text[])
		FROM claims
		WHERE hospital_org_id = $1 AND id <> $2 AND created_at >= $3`,
		uuid.UUID(q.HospitalOrgID), uuid.UUID(q.ExcludeClaimID), q.Since,
		pq.Array(codes), q.ClaimedAmount,
	).Scan(&h.ClaimCount, &avg, &procAvg, &h.DuplicateCount)
	if err != nil {
		return History{}, fmt.Errorf("claim history: %w", err)
	}
	h.AvgAmount = avg.Float64
	h.ProcedureAvgAmount = procAvg.Float64
	return h, nil
}

func resolvedStatusStrings() []string {
	statuses := models.ResolvedStatuses()
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func claimArgs(c *models.Claim) ([]any, error) {
	docs := c.Documents
	if docs == nil {
		docs = []models.DocumentRef{}
	}
	docsJSON, err := json.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("marshal documents: %w", err)
	}
	return []any{
		uuid.UUID(c.ID),
		c.ClaimNumber,
		uuid.UUID(c.HospitalOrgID),
		nullableUUID(c.InsuranceOrgID),
		c.ClaimedAmount,
		c.ApprovedAmount,
		c.Currency,
		string(c.Status),
		c.Priority,
		c.Specialty,
		pq.Array(nonNil(c.ProcedureCodes)),
		pq.Array(nonNil(c.DiagnosisCodes)),
		docsJSON,
		c.LengthOfStay,
		c.TrustScore,
		c.FraudProbability,
		c.AnomalyScore,
		c.ApprovalLikelihood,
		c.AIRecommendation,
		c.AutoApprovalEligible,
		c.ReviewFlagged,
		c.RoutingHold,
		nullableUUID(c.LatestScoringID),
		nullableUUID(c.FinalDecisionID),
		c.SLADeadline,
		c.SLABreached,
		c.AppealCount,
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
		c.SubmittedAt,
		c.ClosedAt,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (*models.Claim, error) {
	var (
		c                                            models.Claim
		rawID, hospital                              uuid.UUID
		insurer, latestScoring, finalDecision        uuid.NullUUID
		approved, trust, fraud, anomaly, approvalLik sql.NullFloat64
		status                                       string
		docs                                         []byte
		deadline, submitted, closed                  sql.NullTime
	)
	err := row.Scan(
		&rawID, &c.ClaimNumber, &hospital, &insurer, &c.ClaimedAmount, &approved,
		&c.Currency, &status, &c.Priority, &c.Specialty,
		pq.Array(&c.ProcedureCodes), pq.Array(&c.DiagnosisCodes), &docs,
		&c.LengthOfStay, &trust, &fraud, &anomaly, &approvalLik,
		&c.AIRecommendation, &c.AutoApprovalEligible, &c.ReviewFlagged, &c.RoutingHold,
		&latestScoring, &finalDecision, &deadline, &c.SLABreached, &c.AppealCount,
		&c.Version, &c.CreatedAt, &c.UpdatedAt, &submitted, &closed,
	)
	if err != nil {
		return nil, err
	}
	c.ID = id.ClaimID(rawID)
	c.HospitalOrgID = id.OrgID(hospital)
	c.Status = models.Status(strings.TrimSpace(status))
	if insurer.Valid {
		org := id.OrgID(insurer.UUID)
		c.InsuranceOrgID = &org
	}
	if latestScoring.Valid {
		resultID := id.ScoringResultID(latestScoring.UUID)
		c.LatestScoringID = &resultID
	}
	if finalDecision.Valid {
		decisionID := id.DecisionID(finalDecision.UUID)
		c.FinalDecisionID = &decisionID
	}
	c.ApprovedAmount = floatPtr(approved)
	c.TrustScore = floatPtr(trust)
	c.FraudProbability = floatPtr(fraud)
	c.AnomalyScore = floatPtr(anomaly)
	c.ApprovalLikelihood = floatPtr(approvalLik)
	c.SLADeadline = timePtr(deadline)
	c.SubmittedAt = timePtr(submitted)
	c.ClosedAt = timePtr(closed)
	if len(docs) > 0 {
		if err := json.Unmarshal(docs, &c.Documents); err != nil {
			return nil, fmt.Errorf("unmarshal documents: %w", err)
		}
	}
	return &c, nil
}

func nullableUUID[T ~[16]byte](v *T) uuid.NullUUID {
	if v == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*v), Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
