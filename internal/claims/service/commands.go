package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"careverify/internal/claims/models"
	"careverify/internal/dispatch"
	"careverify/internal/notify"
	orgmodels "careverify/internal/orgs/models"
	id "careverify/pkg/domain"
	dErrors "careverify/pkg/domain-errors"
	audit "careverify/pkg/platform/audit"
	"careverify/pkg/platform/sentinel"
	"careverify/pkg/requestcontext"
)

const (
	staleDraftBatch     = 500
	stalledScoringBatch = 500
	claimNumberAttempts = 3
)

// Create stores a draft claim. Drafts have no ledger entry until they are submitted.
func (s *Service) Create(ctx context.Context, req *models.CreateClaimRequest) (*models.Claim, error) {
	start := time.Now()
	defer s.metrics.ObserveOperation("create", start)

	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	req.Normalize(s.cfg.DefaultCurrency, s.cfg.DefaultPriority)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireHospital(ctx, req.HospitalOrgID); err != nil {
		return nil, err
	}

	claim, err := s.insertDraft(ctx, req.Params())
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "claim created",
		"claim_id", claim.ID,
		"claim_number", claim.ClaimNumber,
		"hospital_org_id", claim.HospitalOrgID,
	)
	return claim, nil
}

// insertDraft stores a new draft, drawing a fresh id and claim number when
// the number collides with an existing claim.
func (s *Service) insertDraft(ctx context.Context, params models.NewClaimParams) (*models.Claim, error) {
	now := requestcontext.Now(ctx)
	for attempt := 1; ; attempt++ {
		claim, err := models.NewClaim(id.NewClaimID(), params, now)
		if err != nil {
			return nil, err
		}
		err = s.claims.Create(ctx, claim)
		switch {
		case err == nil:
			return claim, nil
		case !errors.Is(err, sentinel.ErrConflict):
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create claim")
		case attempt == claimNumberAttempts:
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "claim number already in use")
		}
		s.logger.WarnContext(ctx, "claim number collision, drawing a new one",
			"claim_number", claim.ClaimNumber,
			"attempt", attempt,
		)
	}
}

func (s *Service) requireHospital(ctx context.Context, orgID id.OrgID) error {
	org, err := s.orgs.FindByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeValidation, "hospital_org_id does not name a known organization")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load hospital")
	}
	if org.Type != orgmodels.OrgTypeHospital || !org.Active {
		return dErrors.New(dErrors.CodeValidation, "hospital_org_id must name an active hospital")
	}
	return nil
}

// Submit freezes the SLA deadline, hands the claim to document processing and
// enqueues scoring. When scoring cannot be enqueued the claim goes to
// compliance review instead; the submission itself still succeeds.
func (s *Service) Submit(ctx context.Context, claimID id.ClaimID, opts ...CommandOption) (*models.Claim, error) {
	claim, err := s.mutate(ctx, "submit", claimID, opts, func(ctx context.Context, c *models.Claim, now time.Time) (*change, error) {
		if err := c.CanSubmit(); err != nil {
			return nil, err
		}
		ch := &change{}
		submitted, err := c.ApplySubmit(now, s.cfg.SLAWindow)
		if err != nil {
			return nil, err
		}
		ch.transition(submitted)
		processing, err := c.TransitionTo(models.StatusOCRProcessing, now)
		if err != nil {
			return nil, err
		}
		ch.transition(processing)
		ch.then(func(ctx context.Context, c *models.Claim) {
			if s.deadlines != nil {
				s.deadlines.Arm(c.ID, *c.SLADeadline)
			}
		})
		return ch, nil
	})
	if err != nil {
		return claim, err
	}

	if err := s.enqueue(ctx, dispatch.KindScoreClaim, ClaimJob{ClaimID: claimID}); err != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue scoring, routing to compliance review",
			"claim_id", claimID,
			"error", err,
		)
		return s.OnScoringUnavailable(ctx, claimID, "scoring could not be enqueued")
	}
	return claim, nil
}

func (s *Service) enqueue(ctx context.Context, kind dispatch.Kind, payload any) error {
	if s.dispatcher == nil {
		return errors.New("no dispatcher configured")
	}
	handle, err := s.dispatcher.Enqueue(ctx, kind, payload)
	if err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "job enqueued", "kind", kind, "job_id", handle.ID)
	return nil
}

// RecordReview stores a reviewer's verdict and moves the claim on:
// reject denies it, every other verdict hands it to the insurer.
func (s *Service) RecordReview(ctx context.Context, claimID id.ClaimID, in *models.ReviewInput, opts ...CommandOption) (*models.Claim, error) {
	return s.mutate(ctx, "review", claimID, opts, func(ctx context.Context, c *models.Claim, now time.Time) (*change, error) {
		if err := in.Validate(); err != nil {
			return nil, err
		}
		if err := c.CanRecordReview(); err != nil {
			return nil, err
		}
		target, err := models.ReviewTarget(in.Outcome)
		if err != nil {
			return nil, err
		}
		review := &models.Review{
			ID:         id.NewReviewID(),
			ClaimID:    c.ID,
			ReviewerID: requestcontext.ActorID(ctx),
			Kind:       models.ReviewKindStandard,
			Outcome:    in.Outcome,
			Notes:      in.Notes,
			CreatedAt:  now,
		}
		if in.Outcome == models.ReviewFlag {
			c.ReviewFlagged = true
		}
		t, err := c.TransitionTo(target, now)
		if err != nil {
			return nil, err
		}

		ch := &change{}
		ch.transition(t)
		ch.write(func(ctx context.Context) error { return s.records.SaveReview(ctx, review) })
		ch.emit(claimEvent(audit.EventReviewRecorded, c.ID, map[string]any{
			"review_id": review.ID.String(),
			"outcome":   string(review.Outcome),
			"flagged":   c.ReviewFlagged,
		}))
		ch.then(func(ctx context.Context, c *models.Claim) {
			if c.Status == models.StatusDenied {
				s.notifyDecided(ctx, c)
				return
			}
			s.notifyInsurer(ctx, c, "claim is ready for insurer review")
		})
		return ch, nil
	})
}

// RecordDecision applies an insurer determination. A final decision schedules
// the claim to be closed.
func (s *Service) RecordDecision(ctx context.Context, claimID id.ClaimID, in *models.DecisionInput, opts ...CommandOption) (*models.Claim, error) {
	return s.mutate(ctx, "decide", claimID, opts, func(ctx context.Context, c *models.Claim, now time.Time) (*change, error) {
		if err := in.Validate(); err != nil {
			return nil, err
		}
		if err := c.CanRecordDecision(in.Outcome, in.ApprovedAmount, in.IsFinal); err != nil {
			return nil, err
		}
		decision := &models.Decision{
			ID:             id.NewDecisionID(),
			ClaimID:        c.ID,
			DecidedBy:      requestcontext.ActorID(ctx),
			Outcome:        in.Outcome,
			ApprovedAmount: in.ApprovedAmount,
			ReasonCodes:    in.ReasonCodes,
			Notes:          in.Notes,
			IsFinal:        in.IsFinal,
			CreatedAt:      now,
		}
		t, err := c.ApplyDecision(decision, now)
		if err != nil {
			return nil, err
		}

		ch := &change{}
		ch.transition(t)
		ch.write(func(ctx context.Context) error { return s.records.SaveDecision(ctx, decision) })
		ch.then(func(ctx context.Context, c *models.Claim) {
			s.notifyDecided(ctx, c)
			if !decision.IsFinal {
				return
			}
			if err := s.enqueue(ctx, dispatch.KindCloseClaim, ClaimJob{ClaimID: c.ID}); err != nil {
				// The nightly draft sweep does not close decided claims; this needs an operator.
				s.logger.ErrorContext(ctx, "failed to enqueue close after final decision",
					"claim_id", c.ID,
					"error", err,
				)
			}
		})
		return ch, nil
	})
}

// Appeal reopens a denied or partially approved claim for another insurer
// review and opens an appeal review due within the configured window. The
// frozen SLA deadline is armed again: a sweep may have dropped it while the
// claim was resolved.
func (s *Service) Appeal(ctx context.Context, claimID id.ClaimID, in *models.AppealInput, opts ...CommandOption) (*models.Claim, error) {
	return s.mutate(ctx, "appeal", claimID, opts, func(ctx context.Context, c *models.Claim, now time.Time) (*change, error) {
		if err := in.Validate(); err != nil {
			return nil, err
		}
		if err := c.CanAppeal(s.cfg.MaxAppeals); err != nil {
			return nil, err
		}
		ch := &change{}
		appealed, err := c.ApplyAppeal(now)
		if err != nil {
			return nil, err
		}
		ch.transition(appealed)
		reopened, err := c.TransitionTo(models.StatusInsurerReview, now)
		if err != nil {
			return nil, err
		}
		ch.transition(reopened)

		due := now.Add(s.cfg.AppealReviewDue)
		review := &models.Review{
			ID:         id.NewReviewID(),
			ClaimID:    c.ID,
			ReviewerID: requestcontext.ActorID(ctx),
			Kind:       models.ReviewKindAppeal,
			Outcome:    models.ReviewPending,
			Notes:      in.Reason,
			DueAt:      &due,
			CreatedAt:  now,
		}
		ch.write(func(ctx context.Context) error { return s.records.SaveReview(ctx, review) })
		ch.emit(claimEvent(audit.EventReviewRecorded, c.ID, map[string]any{
			"review_id":    review.ID.String(),
			"outcome":      string(review.Outcome),
			"kind":         string(review.Kind),
			"appeal_count": c.AppealCount,
			"due_at":       due,
		}))
		ch.then(func(ctx context.Context, c *models.Claim) {
			s.rearmDeadline(c)
			s.notifyInsurer(ctx, c, fmt.Sprintf("claim appealed (%d of %d)", c.AppealCount, s.cfg.MaxAppeals))
		})
		return ch, nil
	})
}

// rearmDeadline puts an unresolved claim's frozen deadline back on the SLA queue.
func (s *Service) rearmDeadline(c *models.Claim) {
	if s.deadlines == nil || c.SLADeadline == nil || c.SLABreached || c.Status.IsResolved() {
		return
	}
	s.deadlines.Arm(c.ID, *c.SLADeadline)
}

// AttachDocuments adds supporting documents. Documents already on the claim
// are skipped. Once the claim is under review the new evidence triggers a rescore.
func (s *Service) AttachDocuments(ctx context.Context, claimID id.ClaimID, in *models.AttachDocumentsInput, opts ...CommandOption) (*models.Claim, error) {
	return s.mutate(ctx, "attach_documents", claimID, opts, func(ctx context.Context, c *models.Claim, now time.Time) (*change, error) {
		if err := in.Validate(); err != nil {
			return nil, err
		}
		if err := c.CanAttachDocuments(); err != nil {
			return nil, err
		}
		added := c.AttachDocuments(in.Documents, now)
		if len(added) == 0 {
			s.metrics.IncDuplicate("attach_documents")
			return nil, nil
		}
		ids := make([]string, 0, len(added))
		for _, d := range added {
			ids = append(ids, d.ID)
		}

		ch := &change{}
		ch.emit(claimEvent(audit.EventDocumentsAttached, c.ID, map[string]any{
			"document_ids": ids,
			"status":       c.Status.String(),
		}))
		ch.then(func(ctx context.Context, c *models.Claim) {
			if c.CanRescore() != nil {
				return
			}
			if err := s.enqueue(ctx, dispatch.KindRescoreClaim, ClaimJob{ClaimID: c.ID}); err != nil {
				s.logger.ErrorContext(ctx, "failed to enqueue rescore after document upload",
					"claim_id", c.ID,
					"error", err,
				)
			}
		})
		return ch, nil
	})
}

// Rescore asks for a fresh scoring run of a claim under review. The claim is
// returned as it is; the new result is applied when the job completes.
func (s *Service) Rescore(ctx context.Context, claimID id.ClaimID) (*models.Claim, error) {
	start := time.Now()
	defer s.metrics.ObserveOperation("rescore", start)

	claim, err := s.Get(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if err := claim.CanRescore(); err != nil {
		return claim, err
	}
	if err := s.enqueue(ctx, dispatch.KindRescoreClaim, ClaimJob{ClaimID: claimID}); err != nil {
		return claim, dErrors.Wrap(err, dErrors.CodeInternal, "rescoring could not be enqueued")
	}
	return claim, nil
}

// RecoverStalledScoring sends claims that sat in a scoring status longer than
// olderThan (the configured stall window when zero) to compliance review
// unscored. It covers scoring jobs lost with a crashed worker.
func (s *Service) RecoverStalledScoring(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = s.cfg.ScoringStallAfter
	}
	if olderThan <= 0 {
		olderThan = DefaultConfig().ScoringStallAfter
	}
	before := requestcontext.Now(ctx).Add(-olderThan)
	ids, err := s.claims.ListStalledScoring(ctx, before, stalledScoringBatch)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list stalled claims")
	}

	recovered := 0
	for _, claimID := range ids {
		if err := ctx.Err(); err != nil {
			return recovered, err
		}
		claim, err := s.OnScoringUnavailable(ctx, claimID, "scoring stalled")
		if err != nil {
			s.logger.WarnContext(ctx, "failed to recover stalled claim", "claim_id", claimID, "error", err)
			continue
		}
		if claim.Status == models.StatusComplianceReview {
			recovered++
		}
	}
	if recovered > 0 {
		s.logger.WarnContext(ctx, "stalled claims sent to compliance review", "count", recovered, "before", before)
	}
	return recovered, nil
}

// Close ends a decided claim. Closing a closed claim is a no-op, so the close
// job can be redelivered safely.
func (s *Service) Close(ctx context.Context, claimID id.ClaimID, opts ...CommandOption) (*models.Claim, error) {
	return s.mutate(ctx, "close", claimID, opts, func(ctx context.Context, c *models.Claim, now time.Time) (*change, error) {
		if c.Status == models.StatusClosed {
			s.metrics.IncDuplicate("close")
			return nil, nil
		}
		if err := c.CanClose(); err != nil {
			return nil, err
		}
		t, err := c.TransitionTo(models.StatusClosed, now)
		if err != nil {
			return nil, err
		}
		ch := &change{}
		ch.transition(t)
		return ch, nil
	})
}

// AssignInsurer sets the insurer by hand and clears a routing hold.
func (s *Service) AssignInsurer(ctx context.Context, claimID id.ClaimID, in *models.AssignInsurerInput, opts ...CommandOption) (*models.Claim, error) {
	return s.mutate(ctx, "assign_insurer", claimID, opts, func(ctx context.Context, c *models.Claim, now time.Time) (*change, error) {
		if err := in.Validate(); err != nil {
			return nil, err
		}
		if err := c.CanAssignInsurer(); err != nil {
			return nil, err
		}
		if err := s.confirmInsurer(ctx, in.InsurerOrgID); err != nil {
			return nil, err
		}
		wasHeld := c.RoutingHold
		c.ApplyInsurer(in.InsurerOrgID, now)

		ch := &change{}
		ch.emit(claimEvent(audit.EventInsurerAssigned, c.ID, map[string]any{
			"insurer_org_id": in.InsurerOrgID.String(),
			"manual":         true,
			"cleared_hold":   wasHeld,
		}))
		ch.then(func(ctx context.Context, c *models.Claim) {
			s.notifyInsurer(ctx, c, "claim assigned to your organization")
		})
		return ch, nil
	})
}

func (s *Service) confirmInsurer(ctx context.Context, orgID id.OrgID) error {
	if s.router != nil {
		return s.router.Confirm(ctx, orgID)
	}
	org, err := s.orgs.FindByID(ctx, orgID)
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

// AbandonStaleDrafts closes drafts created before now minus olderThan
// (the configured draft retention when zero) and returns how many it closed.
func (s *Service) AbandonStaleDrafts(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = s.cfg.DraftRetention
	}
	before := requestcontext.Now(ctx).Add(-olderThan)
	ids, err := s.claims.ListStaleDrafts(ctx, before, staleDraftBatch)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list stale drafts")
	}

	closed := 0
	for _, claimID := range ids {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		claim, err := s.mutate(ctx, "abandon_draft", claimID, nil, func(ctx context.Context, c *models.Claim, now time.Time) (*change, error) {
			if c.Status != models.StatusDraft {
				return nil, nil
			}
			t, err := c.TransitionTo(models.StatusClosed, now)
			if err != nil {
				return nil, err
			}
			ch := &change{}
			ch.transition(t)
			return ch, nil
		})
		if err != nil {
			s.logger.WarnContext(ctx, "failed to abandon draft", "claim_id", claimID, "error", err)
			continue
		}
		if claim.Status == models.StatusClosed {
			closed++
		}
	}
	if closed > 0 {
		s.logger.InfoContext(ctx, "stale drafts abandoned", "count", closed, "before", before)
	}
	return closed, nil
}

func (s *Service) notifyInsurer(ctx context.Context, c *models.Claim, message string) {
	if c.InsuranceOrgID == nil {
		return
	}
	s.notify(ctx, notify.Notification{
		Event:     notify.EventClaimReadyForReview,
		Recipient: notify.Recipient{OrgID: c.InsuranceOrgID.String()},
		ClaimID:   c.ID.String(),
		Message:   message,
		Data:      map[string]any{"claim_number": c.ClaimNumber, "status": c.Status},
	})
}

func (s *Service) notifyDecided(ctx context.Context, c *models.Claim) {
	data := map[string]any{"claim_number": c.ClaimNumber, "status": c.Status}
	if c.ApprovedAmount != nil {
		data["approved_amount"] = *c.ApprovedAmount
	}
	s.notify(ctx, notify.Notification{
		Event:     notify.EventClaimDecided,
		Recipient: notify.Recipient{OrgID: c.HospitalOrgID.String()},
		ClaimID:   c.ID.String(),
		Message:   fmt.Sprintf("claim %s is %s", c.ClaimNumber, c.Status),
		Data:      data,
	})
}
