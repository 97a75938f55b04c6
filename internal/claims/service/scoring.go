package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"careverify/internal/claims/models"
	"careverify/internal/notify"
	"careverify/internal/routing"
	id "careverify/pkg/domain"
	dErrors "careverify/pkg/domain-errors"
	audit "careverify/pkg/platform/audit"
	"careverify/pkg/platform/sentinel"
)

// MarkAnalyzing records that document processing finished and model scoring
// started. It is a no-op once the claim is past document processing.
func (s *Service) MarkAnalyzing(ctx context.Context, claimID id.ClaimID) (*models.Claim, error) {
	return s.mutate(ctx, "mark_analyzing", claimID, nil, func(ctx context.Context, c *models.Claim, now time.Time) (*change, error) {
		if c.Status != models.StatusOCRProcessing {
			return nil, nil
		}
		t, err := c.TransitionTo(models.StatusAIAnalyzing, now)
		if err != nil {
			return nil, err
		}
		ch := &change{}
		ch.transition(t)
		return ch, nil
	})
}

// OnScoringComplete attaches a scoring result, moves the claim into review and
// routes it to an insurer. Redelivery of a result that was already applied is
// a no-op returning the current claim.
func (s *Service) OnScoringComplete(ctx context.Context, claimID id.ClaimID, result *models.ScoringResult) (*models.Claim, error) {
	if result == nil || result.ID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "scoring result with an id is required")
	}
	if result.ClaimID != claimID {
		return nil, dErrors.New(dErrors.CodeValidation, "scoring result belongs to another claim")
	}
	return s.mutate(ctx, "score", claimID, nil, func(ctx context.Context, c *models.Claim, now time.Time) (*change, error) {
		if c.LatestScoringID != nil && *c.LatestScoringID == result.ID {
			s.metrics.IncDuplicate("score")
			return nil, nil
		}
		if c.IsScored() && !c.Status.IsScoring() {
			s.metrics.IncDuplicate("score")
			return nil, nil
		}
		if _, err := s.records.FindScoringResult(ctx, result.ID); err == nil {
			s.metrics.IncDuplicate("score")
			return nil, nil
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, err
		}
		if err := c.CanAcceptScoring(); err != nil {
			return nil, err
		}

		ch := &change{}
		target := c.ApplyScoring(result)
		t, err := c.TransitionTo(target, now)
		if err != nil {
			return nil, err
		}
		ch.transition(t)
		ch.write(func(ctx context.Context) error { return s.records.SaveScoringResult(ctx, result) })

		if err := s.route(ctx, c, now, ch, false); err != nil {
			return nil, err
		}
		ch.then(func(ctx context.Context, c *models.Claim) {
			s.logger.InfoContext(ctx, "claim scored",
				"claim_id", c.ID,
				"trust_score", result.TrustScore,
				"recommendation", result.Recommendation,
				"status", c.Status,
			)
		})
		return ch, nil
	})
}

// OnRescoringComplete stores a further scoring result for a claim under review
// and makes it authoritative. The status, routing and SLA deadline are kept.
// A result that was already stored, or one older than the current score, is a no-op.
func (s *Service) OnRescoringComplete(ctx context.Context, claimID id.ClaimID, result *models.ScoringResult) (*models.Claim, error) {
	if result == nil || result.ID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "scoring result with an id is required")
	}
	if result.ClaimID != claimID {
		return nil, dErrors.New(dErrors.CodeValidation, "scoring result belongs to another claim")
	}
	return s.mutate(ctx, "rescore", claimID, nil, func(ctx context.Context, c *models.Claim, now time.Time) (*change, error) {
		if _, err := s.records.FindScoringResult(ctx, result.ID); err == nil {
			s.metrics.IncDuplicate("rescore")
			return nil, nil
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, err
		}
		if err := c.CanRescore(); err != nil {
			return nil, err
		}

		payload := map[string]any{
			"scoring_result_id": result.ID.String(),
			"trust_score":       result.TrustScore,
			"recommendation":    result.Recommendation,
		}
		if c.LatestScoringID != nil {
			previous, err := s.records.FindScoringResult(ctx, *c.LatestScoringID)
			if err != nil {
				return nil, err
			}
			if result.CreatedAt.Before(previous.CreatedAt) {
				s.logger.InfoContext(ctx, "discarding rescore older than the current score",
					"claim_id", c.ID,
					"scoring_result_id", result.ID,
				)
				s.metrics.IncDuplicate("rescore")
				return nil, nil
			}
			payload["previous_scoring_result_id"] = previous.ID.String()
			payload["previous_trust_score"] = previous.TrustScore
		}

		c.ApplyRescoring(result)
		ch := &change{}
		ch.write(func(ctx context.Context) error { return s.records.SaveScoringResult(ctx, result) })
		ch.emit(claimEvent(audit.EventClaimRescored, c.ID, payload))
		ch.then(func(ctx context.Context, c *models.Claim) {
			s.logger.InfoContext(ctx, "claim rescored",
				"claim_id", c.ID,
				"trust_score", result.TrustScore,
				"recommendation", result.Recommendation,
				"status", c.Status,
			)
		})
		return ch, nil
	})
}

// route assigns an insurer, or confirms the one already set. When no insurer
// is eligible the claim keeps its review state and is held for manual
// assignment. With holdOnError any routing failure holds the claim.
func (s *Service) route(ctx context.Context, c *models.Claim, now time.Time, ch *change, holdOnError bool) error {
	if s.router == nil {
		return nil
	}

	if c.InsuranceOrgID != nil {
		err := s.router.Confirm(ctx, *c.InsuranceOrgID)
		if err == nil {
			return nil
		}
		if !holdOnError && !dErrors.HasCode(err, dErrors.CodeNoEligibleInsurer) {
			return err
		}
		s.hold(c, ch, err.Error())
		return nil
	}

	trust := 0.0
	if c.TrustScore != nil {
		trust = *c.TrustScore
	}
	assignment, err := s.router.Route(ctx, routing.Request{
		ClaimID:       c.ID,
		HospitalOrgID: c.HospitalOrgID,
		Specialty:     c.Specialty,
		TrustScore:    trust,
	})
	if err != nil {
		if !holdOnError && !dErrors.HasCode(err, dErrors.CodeNoEligibleInsurer) {
			return err
		}
		s.hold(c, ch, err.Error())
		return nil
	}

	c.ApplyInsurer(assignment.InsurerID, now)
	ch.emit(claimEvent(audit.EventInsurerAssigned, c.ID, map[string]any{
		"insurer_org_id":        assignment.InsurerID.String(),
		"manual":                false,
		"org_trust":             assignment.OrgTrust,
		"open_claims":           assignment.OpenClaims,
		"standing_relationship": assignment.Standing,
		"candidates":            assignment.Candidates,
		"reason":                assignment.Reason,
	}))
	return nil
}

func (s *Service) hold(c *models.Claim, ch *change, reason string) {
	c.RoutingHold = true
	ch.emit(claimEvent(audit.EventRoutingHeld, c.ID, map[string]any{
		"reason": reason,
		"status": c.Status.String(),
	}))
	ch.then(func(ctx context.Context, c *models.Claim) {
		s.metrics.IncRoutingHold()
		s.notify(ctx, notify.Notification{
			Event:     notify.EventRoutingHeld,
			Recipient: notify.Recipient{Admin: true},
			ClaimID:   c.ID.String(),
			Message:   fmt.Sprintf("claim %s needs a manual insurer assignment", c.ClaimNumber),
			Data:      map[string]any{"reason": reason},
		})
	})
}

// OnScoringUnavailable sends a claim that could not be scored to compliance
// review without a trust score. It is a no-op once the claim left the scoring states.
func (s *Service) OnScoringUnavailable(ctx context.Context, claimID id.ClaimID, cause string) (*models.Claim, error) {
	return s.mutate(ctx, "scoring_unavailable", claimID, nil, func(ctx context.Context, c *models.Claim, now time.Time) (*change, error) {
		if !c.Status.IsScoring() {
			s.metrics.IncDuplicate("scoring_unavailable")
			return nil, nil
		}
		t, err := c.TransitionTo(models.StatusComplianceReview, now)
		if err != nil {
			return nil, err
		}
		ch := &change{}
		ch.transition(t)
		if err := s.route(ctx, c, now, ch, true); err != nil {
			return nil, err
		}
		ch.then(func(ctx context.Context, c *models.Claim) {
			s.notify(ctx, notify.Notification{
				Event:     notify.EventScoringUnavailable,
				Recipient: notify.Recipient{Admin: true},
				ClaimID:   c.ID.String(),
				Message:   fmt.Sprintf("claim %s went to compliance review unscored", c.ClaimNumber),
				Data:      map[string]any{"cause": cause},
			})
		})
		return ch, nil
	})
}
