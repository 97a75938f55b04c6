// Package service is the claim state machine.
//
// Every mutating operation follows the same path:
//
//	lock(claim) -> tx { read -> validate -> conditional write on version -> audit append } -> unlock
//
// followed by side effects that must not roll back the transition (arming the
// SLA deadline, enqueueing jobs, notifications). A rejected operation returns a
// coded error together with the claim as it is currently persisted.
package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"careverify/internal/claims/metrics"
	"careverify/internal/claims/models"
	"careverify/internal/claims/store"
	"careverify/internal/notify"
	orgmodels "careverify/internal/orgs/models"
	"careverify/internal/platform/lock"
	id "careverify/pkg/domain"
	dErrors "careverify/pkg/domain-errors"
	audit "careverify/pkg/platform/audit"
	"careverify/pkg/platform/sentinel"
	"careverify/pkg/platform/tx"
	"careverify/pkg/requestcontext"
)

type ClaimStore interface {
	Create(ctx context.Context, claim *models.Claim) error
	FindByID(ctx context.Context, claimID id.ClaimID) (*models.Claim, error)
	Update(ctx context.Context, claim *models.Claim, expectedVersion int64) error
	ListStaleDrafts(ctx context.Context, before time.Time, limit int) ([]id.ClaimID, error)
	ListStalledScoring(ctx context.Context, before time.Time, limit int) ([]id.ClaimID, error)
}

type RecordStore interface {
	SaveScoringResult(ctx context.Context, result *models.ScoringResult) error
	FindScoringResult(ctx context.Context, resultID id.ScoringResultID) (*models.ScoringResult, error)
	SaveReview(ctx context.Context, review *models.Review) error
	ListReviews(ctx context.Context, claimID id.ClaimID) ([]*models.Review, error)
	SaveDecision(ctx context.Context, decision *models.Decision) error
	ListDecisions(ctx context.Context, claimID id.ClaimID) ([]*models.Decision, error)
}

// OrgDirectory resolves the organizations a claim refers to.
type OrgDirectory interface {
	FindByID(ctx context.Context, orgID id.OrgID) (*orgmodels.Organization, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) (audit.Event, error)
}

// TimelineReader reads a resource's ledger entries.
type TimelineReader interface {
	ReadTimeline(ctx context.Context, resourceType, resourceID string) iter.Seq2[audit.Event, error]
}

// Config holds the workflow limits.
type Config struct {
	SLAWindow       time.Duration
	MaxAppeals      int
	AppealReviewDue time.Duration
	DraftRetention  time.Duration
	// ScoringStallAfter is how long a claim may sit in a scoring status
	// before the recovery sweep sends it to compliance review unscored.
	ScoringStallAfter time.Duration
	LockTimeout       time.Duration
	DefaultCurrency   string
	DefaultPriority   int
}

func DefaultConfig() Config {
	return Config{
		SLAWindow:         72 * time.Hour,
		MaxAppeals:        2,
		AppealReviewDue:   72 * time.Hour,
		DraftRetention:    30 * 24 * time.Hour,
		ScoringStallAfter: 30 * time.Minute,
		LockTimeout:       5 * time.Second,
		DefaultCurrency:   "INR",
		DefaultPriority:   2,
	}
}

// Service runs claim commands.
type Service struct {
	claims    ClaimStore
	records   RecordStore
	orgs      OrgDirectory
	publisher AuditPublisher

	timeline   TimelineReader
	tx         tx.Runner
	locker     lock.Locker
	dispatcher Dispatcher
	router     Router
	deadlines  DeadlineArmer
	notifier   Notifier
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	cfg        Config
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithTxRunner makes every command atomic across the claim, record and ledger stores.
func WithTxRunner(runner tx.Runner) Option {
	return func(s *Service) {
		if runner != nil {
			s.tx = runner
		}
	}
}

// WithLocker replaces the in-process per-claim lock, e.g. with a Redis lock
// shared by several workers.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithTimeline(t TimelineReader) Option {
	return func(s *Service) {
		s.timeline = t
	}
}

func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) {
		s.dispatcher = d
	}
}

func WithRouter(r Router) Option {
	return func(s *Service) {
		s.router = r
	}
}

func WithDeadlines(d DeadlineArmer) Option {
	return func(s *Service) {
		s.deadlines = d
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		s.cfg = cfg
	}
}

// New constructs a Service. Without a Router scored claims stay unassigned;
// without a Dispatcher every submission is routed to compliance review.
func New(claims ClaimStore, records RecordStore, orgs OrgDirectory, publisher AuditPublisher, opts ...Option) (*Service, error) {
	if claims == nil {
		return nil, errors.New("claim store is required")
	}
	if records == nil {
		return nil, errors.New("record store is required")
	}
	if orgs == nil {
		return nil, errors.New("org directory is required")
	}
	if publisher == nil {
		return nil, errors.New("audit publisher is required")
	}
	s := &Service{
		claims:    claims,
		records:   records,
		orgs:      orgs,
		publisher: publisher,
		tx:        tx.NoopRunner{},
		locker:    lock.NewSharded(),
		notifier:  notify.Discard{},
		logger:    slog.Default(),
		tracer:    otel.Tracer("careverify/claims"),
		cfg:       DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CommandOption adjusts a single command.
type CommandOption func(*commandOptions)

type commandOptions struct {
	ifVersion *int64
}

// IfVersion makes the command conditional on the claim's current version.
// A mismatch fails with CodeStaleState.
func IfVersion(v int64) CommandOption {
	return func(o *commandOptions) {
		o.ifVersion = &v
	}
}

func applyCommandOptions(opts []CommandOption) commandOptions {
	var o commandOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Get returns the persisted claim.
func (s *Service) Get(ctx context.Context, claimID id.ClaimID) (*models.Claim, error) {
	claim, err := s.claims.FindByID(ctx, claimID)
	if err != nil {
		return nil, translate(err, "claim not found", "failed to load claim")
	}
	return claim, nil
}

// Timeline returns the claim's ledger entries in append order.
func (s *Service) Timeline(ctx context.Context, claimID id.ClaimID) ([]audit.Event, error) {
	if s.timeline == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "timeline reader not configured")
	}
	if _, err := s.Get(ctx, claimID); err != nil {
		return nil, err
	}
	events, err := audit.Collect(s.timeline.ReadTimeline(ctx, audit.ResourceClaim, claimID.String()))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read claim timeline")
	}
	return events, nil
}

// Reviews lists the claim's reviews, oldest first.
func (s *Service) Reviews(ctx context.Context, claimID id.ClaimID) ([]*models.Review, error) {
	if _, err := s.Get(ctx, claimID); err != nil {
		return nil, err
	}
	reviews, err := s.records.ListReviews(ctx, claimID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list reviews")
	}
	return reviews, nil
}

// Decisions lists the claim's decisions, oldest first.
func (s *Service) Decisions(ctx context.Context, claimID id.ClaimID) ([]*models.Decision, error) {
	if _, err := s.Get(ctx, claimID); err != nil {
		return nil, err
	}
	decisions, err := s.records.ListDecisions(ctx, claimID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list decisions")
	}
	return decisions, nil
}

// ScoringResult returns the claim's latest scoring result.
func (s *Service) ScoringResult(ctx context.Context, claimID id.ClaimID) (*models.ScoringResult, error) {
	claim, err := s.Get(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.LatestScoringID == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "claim has not been scored")
	}
	result, err := s.records.FindScoringResult(ctx, *claim.LatestScoringID)
	if err != nil {
		return nil, translate(err, "scoring result not found", "failed to load scoring result")
	}
	return result, nil
}

// change is what a command wants committed. A nil change means nothing to do.
type change struct {
	transitions []models.Transition
	events      []audit.Event
	// writes run inside the transaction after the claim row is updated.
	writes []func(ctx context.Context) error
	// after runs once the transaction committed and the lock is released.
	after []func(ctx context.Context, claim *models.Claim)
}

func (c *change) transition(t models.Transition) {
	c.transitions = append(c.transitions, t)
}

func (c *change) write(fn func(ctx context.Context) error) {
	c.writes = append(c.writes, fn)
}

func (c *change) emit(ev audit.Event) {
	c.events = append(c.events, ev)
}

func (c *change) then(fn func(ctx context.Context, claim *models.Claim)) {
	c.after = append(c.after, fn)
}

type mutation func(ctx context.Context, claim *models.Claim, now time.Time) (*change, error)

// mutate applies fn to the claim under the per-claim lock and commits the result.
// It returns the claim as persisted after the command, or on rejection the
// claim as currently persisted.
func (s *Service) mutate(ctx context.Context, op string, claimID id.ClaimID, opts []CommandOption, fn mutation) (*models.Claim, error) {
	start := time.Now()
	defer s.metrics.ObserveOperation(op, start)

	ctx, span := s.tracer.Start(ctx, "claims."+op,
		trace.WithAttributes(attribute.String("claim_id", claimID.String())))
	defer span.End()

	co := applyCommandOptions(opts)

	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	unlock, err := s.locker.Lock(lockCtx, "claim:"+claimID.String())
	cancel()
	if err != nil {
		return s.reject(ctx, span, op, claimID, err)
	}

	var (
		committed *models.Claim
		applied   *change
	)
	_, compensate := s.tx.(tx.NoopRunner)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.claims.FindByID(ctx, claimID)
		if err != nil {
			return err
		}
		if co.ifVersion != nil && *co.ifVersion != current.Version {
			return dErrors.New(dErrors.CodeStaleState,
				fmt.Sprintf("claim is at version %d, expected %d", current.Version, *co.ifVersion))
		}

		working := current.Clone()
		now := requestcontext.Now(ctx)
		ch, err := fn(ctx, working, now)
		if err != nil {
			return err
		}
		if ch == nil {
			committed = current
			return nil
		}

		prev := current.Version
		working.Version = prev + 1
		working.UpdatedAt = now
		if err := s.claims.Update(ctx, working, prev); err != nil {
			return err
		}
		if err := s.commit(ctx, working, ch); err != nil {
			if compensate {
				s.restore(ctx, current, working.Version)
			}
			return err
		}
		committed = working
		applied = ch
		return nil
	})
	unlock()
	if err != nil {
		return s.reject(ctx, span, op, claimID, err)
	}

	if applied == nil {
		span.SetAttributes(attribute.Bool("noop", true))
		return committed, nil
	}
	for _, t := range applied.transitions {
		s.metrics.IncTransition(t.From.String(), t.To.String())
	}
	span.SetAttributes(
		attribute.String("status", committed.Status.String()),
		attribute.Int64("version", committed.Version),
	)
	for _, fn := range applied.after {
		fn(ctx, committed)
	}
	return committed, nil
}

// commit runs the record writes and appends one ledger entry per transition
// followed by the command's own events.
func (s *Service) commit(ctx context.Context, claim *models.Claim, ch *change) error {
	for _, write := range ch.writes {
		if err := write(ctx); err != nil {
			return err
		}
	}
	for _, t := range ch.transitions {
		payload := map[string]any{
			"from":         t.From.String(),
			"to":           t.To.String(),
			"version":      claim.Version,
			"claim_number": claim.ClaimNumber,
			"actor_role":   string(requestcontext.ActorRole(ctx)),
		}
		if client := requestcontext.UserAgent(ctx); client != "" {
			payload["client"] = client
		}
		if _, err := s.publisher.Emit(ctx, claimEvent(audit.EventClaimStatusChanged, claim.ID, payload)); err != nil {
			return fmt.Errorf("append status change: %w", err)
		}
	}
	for _, ev := range ch.events {
		if _, err := s.publisher.Emit(ctx, ev); err != nil {
			return fmt.Errorf("append %s: %w", ev.Type, err)
		}
	}
	return nil
}

// restore puts the pre-image back when an in-memory command fails after the
// claim row was written. Record writes already made are left behind.
func (s *Service) restore(ctx context.Context, pre *models.Claim, written int64) {
	if err := s.claims.Update(ctx, pre, written); err != nil {
		s.logger.ErrorContext(ctx, "failed to restore claim after aborted command",
			"claim_id", pre.ID,
			"error", err,
		)
	}
}

// reject translates err and pairs it with the currently persisted claim.
func (s *Service) reject(ctx context.Context, span trace.Span, op string, claimID id.ClaimID, err error) (*models.Claim, error) {
	err = translate(err, "claim not found", "failed to "+op+" claim")
	code := dErrors.CodeOf(err)
	s.metrics.IncRejection(op, string(code))
	span.SetStatus(codes.Error, string(code))
	if code == dErrors.CodeInternal {
		span.RecordError(err)
		s.logger.ErrorContext(ctx, "claim command failed",
			"operation", op,
			"claim_id", claimID,
			"error", err,
		)
	} else {
		s.logger.InfoContext(ctx, "claim command rejected",
			"operation", op,
			"claim_id", claimID,
			"code", code,
		)
	}

	current, findErr := s.claims.FindByID(ctx, claimID)
	if findErr != nil {
		return nil, err
	}
	return current, err
}

// translate maps store sentinels to domain codes and keeps coded errors as they are.
func translate(err error, notFoundMsg, internalMsg string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	case errors.Is(err, sentinel.ErrStale):
		return dErrors.Wrap(err, dErrors.CodeStaleState, "claim was changed concurrently")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "conflicting record")
	case errors.Is(err, sentinel.ErrLockTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "claim is busy, try again")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, internalMsg)
	}
}

func claimEvent(eventType audit.AuditEvent, claimID id.ClaimID, payload map[string]any) audit.Event {
	return audit.Event{
		Type:         eventType,
		ResourceType: audit.ResourceClaim,
		ResourceID:   claimID.String(),
		Payload:      payload,
	}
}

func (s *Service) notify(ctx context.Context, n notify.Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = requestcontext.Now(ctx)
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			"event", n.Event,
			"claim_id", n.ClaimID,
			"error", err,
		)
	}
}

var (
	_ ClaimStore  = (*store.InMemoryClaimStore)(nil)
	_ ClaimStore  = (*store.PostgresClaimStore)(nil)
	_ RecordStore = (*store.InMemoryRecordStore)(nil)
	_ RecordStore = (*store.PostgresRecordStore)(nil)
)
