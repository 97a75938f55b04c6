package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"careverify/internal/claims/models"
	"careverify/internal/claims/store"
	"careverify/internal/dispatch"
	"careverify/internal/extraction"
	orgmodels "careverify/internal/orgs/models"
	"careverify/internal/scoring"
	id "careverify/pkg/domain"
	dErrors "careverify/pkg/domain-errors"
	"careverify/pkg/requestcontext"
)

const historyWindow = 365 * 24 * time.Hour

// ClaimJob is the payload of every per-claim job.
type ClaimJob struct {
	ClaimID id.ClaimID `json:"claim_id"`
}

// PartitionKey keeps all jobs for one claim on one partition.
func (j ClaimJob) PartitionKey() string { return j.ClaimID.String() }

// CleanupJob is the payload of the stale draft and stalled scoring sweeps.
// Zero means the configured window.
type CleanupJob struct {
	OlderThan time.Duration `json:"older_than,omitempty"`
}

// HistorySource aggregates a hospital's recent claims.
type HistorySource interface {
	History(ctx context.Context, q store.HistoryQuery) (store.History, error)
}

// TrustSource reads the submitting hospital's trust series.
type TrustSource interface {
	CurrentTrust(ctx context.Context, orgID id.OrgID) (float64, error)
	Latest(ctx context.Context, orgID id.OrgID) (*orgmodels.TrustScore, error)
}

// Scorer produces the ensemble output for a feature set.
type Scorer interface {
	Score(ctx context.Context, f scoring.Features) (*scoring.Aggregate, error)
}

// Pipeline is the claims.score job: extract document text, build features,
// run the scorers and hand the result back to the state machine.
type Pipeline struct {
	service      *Service
	history      HistorySource
	trust        TrustSource
	scorer       Scorer
	extractor    extraction.Extractor
	modelVersion string
	logger       *slog.Logger
}

type PipelineOption func(*Pipeline)

func WithExtractor(ex extraction.Extractor) PipelineOption {
	return func(p *Pipeline) {
		if ex != nil {
			p.extractor = ex
		}
	}
}

func WithModelVersion(v string) PipelineOption {
	return func(p *Pipeline) {
		if v != "" {
			p.modelVersion = v
		}
	}
}

func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPipeline(service *Service, history HistorySource, trust TrustSource, scorer Scorer, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		service:      service,
		history:      history,
		trust:        trust,
		scorer:       scorer,
		extractor:    extraction.Noop{},
		modelVersion: "rules-v1",
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run scores one claim. It does nothing when the claim already left the scoring states.
func (p *Pipeline) Run(ctx context.Context, claimID id.ClaimID) (*models.Claim, error) {
	claim, err := p.service.Get(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if !claim.Status.IsScoring() {
		p.logger.DebugContext(ctx, "claim no longer awaits scoring", "claim_id", claimID, "status", claim.Status)
		return claim, nil
	}

	extracted := p.extract(ctx, claim)
	if claim, err = p.service.MarkAnalyzing(ctx, claimID); err != nil {
		return claim, err
	}

	result, err := p.score(ctx, claim, extracted)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNoScorersAvailable) {
			return p.service.OnScoringUnavailable(ctx, claimID, "no scorers available")
		}
		return claim, err
	}
	return p.service.OnScoringComplete(ctx, claimID, result)
}

// Rescore runs the scorers again for a claim under review, e.g. after new
// documents arrived. When no scorer responds the current score stands.
func (p *Pipeline) Rescore(ctx context.Context, claimID id.ClaimID) (*models.Claim, error) {
	claim, err := p.service.Get(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if err := claim.CanRescore(); err != nil {
		p.logger.DebugContext(ctx, "claim no longer accepts a rescore", "claim_id", claimID, "status", claim.Status)
		return claim, nil
	}

	result, err := p.score(ctx, claim, p.extract(ctx, claim))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNoScorersAvailable) {
			p.logger.WarnContext(ctx, "rescore skipped, no scorers available", "claim_id", claimID)
			return claim, nil
		}
		return claim, err
	}
	return p.service.OnRescoringComplete(ctx, claimID, result)
}

func (p *Pipeline) extract(ctx context.Context, claim *models.Claim) extraction.Result {
	extracted := extraction.ExtractAll(ctx, p.extractor, claim.Documents)
	if extracted.Failed > 0 {
		p.logger.WarnContext(ctx, "document extraction incomplete",
			"claim_id", claim.ID,
			"failed", extracted.Failed,
			"documents", len(claim.Documents),
		)
	}
	return extracted
}

func (p *Pipeline) score(ctx context.Context, claim *models.Claim, extracted extraction.Result) (*models.ScoringResult, error) {
	features, err := p.features(ctx, claim, extracted)
	if err != nil {
		return nil, err
	}
	agg, err := p.scorer.Score(ctx, features)
	if err != nil {
		return nil, err
	}
	return agg.Result(claim.ID, p.modelVersion, requestcontext.Now(ctx)), nil
}

func (p *Pipeline) features(ctx context.Context, c *models.Claim, extracted extraction.Result) (scoring.Features, error) {
	now := requestcontext.Now(ctx)
	hist, err := p.history.History(ctx, store.HistoryQuery{
		HospitalOrgID:  c.HospitalOrgID,
		ExcludeClaimID: c.ID,
		ProcedureCodes: c.ProcedureCodes,
		ClaimedAmount:  c.ClaimedAmount,
		Since:          now.Add(-historyWindow),
	})
	if err != nil {
		return scoring.Features{}, fmt.Errorf("load claim history: %w", err)
	}
	trust, err := p.trust.CurrentTrust(ctx, c.HospitalOrgID)
	if err != nil {
		return scoring.Features{}, err
	}
	var fraudRate float64
	latest, err := p.trust.Latest(ctx, c.HospitalOrgID)
	if err != nil {
		return scoring.Features{}, err
	}
	if latest != nil {
		fraudRate = latest.Factors[orgmodels.FactorFraudRate]
	}

	return scoring.Features{
		ClaimID:                c.ID,
		ClaimedAmount:          c.ClaimedAmount,
		LengthOfStay:           c.LengthOfStay,
		ProcedureCodes:         c.ProcedureCodes,
		DiagnosisCodes:         c.DiagnosisCodes,
		OrgTrustScore:          trust,
		OrgHistoricalFraudRate: fraudRate,
		OrgClaimVolume:         hist.ClaimCount,
		AmountVsOrgAvg:         scoring.Ratio(c.ClaimedAmount, hist.AvgAmount),
		AmountVsProcedureAvg:   scoring.Ratio(c.ClaimedAmount, hist.ProcedureAvgAmount),
		DuplicateClaim:         hist.DuplicateCount > 0,
		DocumentCount:          len(c.Documents),
		DocumentCompleteness:   extracted.Completeness(len(c.Documents)),
		MissingRequiredFields:  missingFields(c),
		ExtractedText:          extracted.Text,
	}, nil
}

// missingFields counts the optional claim fields reviewers expect to see filled.
func missingFields(c *models.Claim) int {
	missing := 0
	if len(c.ProcedureCodes) == 0 {
		missing++
	}
	if len(c.DiagnosisCodes) == 0 {
		missing++
	}
	if len(c.Documents) == 0 {
		missing++
	}
	if strings.TrimSpace(c.Specialty) == "" {
		missing++
	}
	return missing
}

// RegisterJobs binds the claim job kinds to their handlers. A scoring job that
// is given up on sends its claim to compliance review unscored, so no claim
// waits on a job that will never finish.
func RegisterJobs(registry *dispatch.Registry, svc *Service, pipeline *Pipeline) {
	registry.Handle(dispatch.KindScoreClaim, func(ctx context.Context, job dispatch.Job) error {
		payload, err := dispatch.Decode[ClaimJob](job)
		if err != nil {
			return err
		}
		_, err = pipeline.Run(ctx, payload.ClaimID)
		return jobError(err)
	})
	registry.OnFailure(dispatch.KindScoreClaim, func(ctx context.Context, job dispatch.Job, cause error) {
		payload, err := dispatch.Decode[ClaimJob](job)
		if err != nil {
			svc.logger.ErrorContext(ctx, "failed scoring job has no claim", "job_id", job.ID, "error", err)
			return
		}
		svc.logger.WarnContext(ctx, "scoring job failed, routing claim to compliance review",
			"claim_id", payload.ClaimID,
			"job_id", job.ID,
			"attempt", job.Attempt,
			"error", cause,
		)
		if _, err := svc.OnScoringUnavailable(ctx, payload.ClaimID, "scoring job failed"); err != nil {
			svc.logger.ErrorContext(ctx, "failed to route unscored claim",
				"claim_id", payload.ClaimID,
				"error", err,
			)
		}
	})
	registry.Handle(dispatch.KindRescoreClaim, func(ctx context.Context, job dispatch.Job) error {
		payload, err := dispatch.Decode[ClaimJob](job)
		if err != nil {
			return err
		}
		_, err = pipeline.Rescore(ctx, payload.ClaimID)
		return jobError(err)
	})
	registry.Handle(dispatch.KindCloseClaim, func(ctx context.Context, job dispatch.Job) error {
		payload, err := dispatch.Decode[ClaimJob](job)
		if err != nil {
			return err
		}
		_, err = svc.Close(ctx, payload.ClaimID)
		return jobError(err)
	})
	registry.Handle(dispatch.KindCleanupDrafts, func(ctx context.Context, job dispatch.Job) error {
		var payload CleanupJob
		if len(job.Payload) > 0 {
			decoded, err := dispatch.Decode[CleanupJob](job)
			if err != nil {
				return err
			}
			payload = decoded
		}
		_, err := svc.AbandonStaleDrafts(ctx, payload.OlderThan)
		return jobError(err)
	})
	registry.Handle(dispatch.KindRecoverScoring, func(ctx context.Context, job dispatch.Job) error {
		var payload CleanupJob
		if len(job.Payload) > 0 {
			decoded, err := dispatch.Decode[CleanupJob](job)
			if err != nil {
				return err
			}
			payload = decoded
		}
		_, err := svc.RecoverStalledScoring(ctx, payload.OlderThan)
		return jobError(err)
	})
}

// jobError stops retries for rejections that no redelivery can fix.
func jobError(err error) error {
	if err == nil {
		return nil
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeTimeout, dErrors.CodeStaleState:
		return err
	default:
		return dispatch.Permanent(err)
	}
}
