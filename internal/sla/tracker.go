// Package sla flags claims that were not resolved by their SLA deadline.
//
// The deadline is frozen at submission. The tracker keeps a min-heap of open
// deadlines and sweeps it periodically; each claim breaches at most once and
// every new breach produces one ledger entry and one notification. Several
// worker processes converge because the breach flag is set atomically in the
// claim store and the queue is resynced from it on an interval.
package sla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"careverify/internal/claims/metrics"
	"careverify/internal/claims/models"
	"careverify/internal/claims/store"
	"careverify/internal/notify"
	"careverify/internal/platform/lock"
	id "careverify/pkg/domain"
	audit "careverify/pkg/platform/audit"
	"careverify/pkg/platform/tx"
	"careverify/pkg/requestcontext"
)

const (
	defaultSweepInterval  = 30 * time.Minute
	defaultResyncInterval = 6 * time.Hour
	lockTimeout           = 5 * time.Second
)

// ClaimStore is the slice of the claim repository the tracker needs.
type ClaimStore interface {
	ListOpenDeadlines(ctx context.Context) ([]store.Deadline, error)
	MarkSLABreached(ctx context.Context, claimID id.ClaimID, now time.Time) (*models.Claim, bool, error)
	Update(ctx context.Context, claim *models.Claim, expectedVersion int64) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) (audit.Event, error)
}

// Tracker owns the deadline queue.
type Tracker struct {
	claims    ClaimStore
	publisher AuditPublisher
	notifier  notify.Sink
	locker    lock.Locker
	tx        tx.Runner
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	sweepInterval  time.Duration
	resyncInterval time.Duration

	mu    sync.Mutex
	queue *queue
}

type Option func(*Tracker)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func WithNotifier(n notify.Sink) Option {
	return func(t *Tracker) {
		if n != nil {
			t.notifier = n
		}
	}
}

// WithLocker shares the claim service's locker so a sweep never interleaves
// with a command on the same claim.
func WithLocker(l lock.Locker) Option {
	return func(t *Tracker) {
		if l != nil {
			t.locker = l
		}
	}
}

func WithTxRunner(r tx.Runner) Option {
	return func(t *Tracker) {
		if r != nil {
			t.tx = r
		}
	}
}

func WithIntervals(sweep, resync time.Duration) Option {
	return func(t *Tracker) {
		if sweep > 0 {
			t.sweepInterval = sweep
		}
		if resync > 0 {
			t.resyncInterval = resync
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func New(claims ClaimStore, publisher AuditPublisher, opts ...Option) (*Tracker, error) {
	if claims == nil {
		return nil, errors.New("claim store is required")
	}
	if publisher == nil {
		return nil, errors.New("audit publisher is required")
	}
	t := &Tracker{
		claims:         claims,
		publisher:      publisher,
		notifier:       notify.Discard{},
		locker:         lock.NewSharded(),
		tx:             tx.NoopRunner{},
		logger:         slog.Default(),
		now:            time.Now,
		sweepInterval:  defaultSweepInterval,
		resyncInterval: defaultResyncInterval,
		queue:          newQueue(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Arm schedules a claim's deadline. Arming the same deadline twice is a no-op.
func (t *Tracker) Arm(claimID id.ClaimID, deadline time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue.push(claimID, deadline)
}

// Pending reports how many deadlines are armed.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.len()
}

// Rebuild replaces the queue with the open deadlines in the claim store.
func (t *Tracker) Rebuild(ctx context.Context) error {
	deadlines, err := t.claims.ListOpenDeadlines(ctx)
	if err != nil {
		return fmt.Errorf("load open deadlines: %w", err)
	}
	entries := make([]entry, 0, len(deadlines))
	for _, d := range deadlines {
		entries = append(entries, entry{claimID: d.ClaimID, deadline: d.Deadline})
	}
	t.mu.Lock()
	t.queue.reset(entries)
	t.mu.Unlock()
	t.logger.DebugContext(ctx, "sla queue rebuilt", "open_deadlines", len(entries))
	return nil
}

// Sweep processes every deadline before now and returns how many claims newly
// breached. Claims that could not be processed are re-armed for the next sweep.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) (int, error) {
	t.mu.Lock()
	due := t.queue.popDue(now)
	t.mu.Unlock()

	ctx = requestcontext.WithTime(requestcontext.WithSystemActor(ctx), now)
	var (
		breached int
		errs     []error
	)
	for _, e := range due {
		newly, err := t.breach(ctx, e.claimID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("claim %s: %w", e.claimID, err))
			t.Arm(e.claimID, e.deadline)
			continue
		}
		if newly {
			breached++
		}
	}
	if breached > 0 || len(errs) > 0 {
		t.logger.InfoContext(ctx, "sla sweep finished",
			"due", len(due),
			"breached", breached,
			"failed", len(errs),
		)
	}
	return breached, errors.Join(errs...)
}

func (t *Tracker) breach(ctx context.Context, claimID id.ClaimID, now time.Time) (bool, error) {
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	unlock, err := t.locker.Lock(lockCtx, "claim:"+claimID.String())
	cancel()
	if err != nil {
		return false, err
	}
	defer unlock()

	var flagged *models.Claim
	_, compensate := t.tx.(tx.NoopRunner)
	err = t.tx.RunInTx(ctx, func(ctx context.Context) error {
		claim, newly, err := t.claims.MarkSLABreached(ctx, claimID, now)
		if err != nil || !newly {
			return err
		}
		_, err = t.publisher.Emit(ctx, audit.Event{
			Type:         audit.EventSLABreached,
			ResourceType: audit.ResourceClaim,
			ResourceID:   claimID.String(),
			Payload: map[string]any{
				"deadline":     claim.SLADeadline.Format(time.RFC3339),
				"status":       claim.Status.String(),
				"claim_number": claim.ClaimNumber,
				"version":      claim.Version,
			},
		})
		if err != nil {
			if compensate {
				t.unflag(ctx, claim)
			}
			return fmt.Errorf("append sla breach: %w", err)
		}
		flagged = claim
		return nil
	})
	if err != nil || flagged == nil {
		return false, err
	}

	t.metrics.IncSLABreach()
	t.notify(ctx, flagged, now)
	return true, nil
}

// unflag reverts an in-memory breach whose ledger entry could not be written.
func (t *Tracker) unflag(ctx context.Context, flagged *models.Claim) {
	pre := flagged.Clone()
	pre.SLABreached = false
	pre.Version = flagged.Version - 1
	if err := t.claims.Update(ctx, pre, flagged.Version); err != nil {
		t.logger.ErrorContext(ctx, "failed to revert sla breach", "claim_id", flagged.ID, "error", err)
	}
}

// notify tells the assigned insurer, or the admin desk when none is assigned.
func (t *Tracker) notify(ctx context.Context, c *models.Claim, now time.Time) {
	recipient := notify.Recipient{Admin: true}
	if c.InsuranceOrgID != nil {
		recipient = notify.Recipient{OrgID: c.InsuranceOrgID.String()}
	}
	n := notify.Notification{
		Event:     notify.EventSLABreached,
		Recipient: recipient,
		ClaimID:   c.ID.String(),
		Message:   fmt.Sprintf("claim %s missed its SLA deadline", c.ClaimNumber),
		Data:      map[string]any{"deadline": c.SLADeadline.Format(time.RFC3339), "status": c.Status.String()},
		CreatedAt: now,
	}
	if err := t.notifier.Notify(ctx, n); err != nil {
		t.logger.WarnContext(ctx, "sla breach notification failed", "claim_id", c.ID, "error", err)
	}
}

// Run rebuilds the queue, then sweeps and resyncs until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	if err := t.Rebuild(ctx); err != nil {
		return err
	}
	sweep := time.NewTicker(t.sweepInterval)
	defer sweep.Stop()
	resync := time.NewTicker(t.resyncInterval)
	defer resync.Stop()

	t.logger.InfoContext(ctx, "sla tracker started",
		"sweep_interval", t.sweepInterval,
		"resync_interval", t.resyncInterval,
		"open_deadlines", t.Pending(),
	)
	for {
		if _, err := t.Sweep(ctx, t.now()); err != nil && ctx.Err() == nil {
			t.logger.WarnContext(ctx, "sla sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resync.C:
			if err := t.Rebuild(ctx); err != nil && ctx.Err() == nil {
				t.logger.WarnContext(ctx, "sla queue resync failed", "error", err)
			}
		case <-sweep.C:
		}
	}
}
