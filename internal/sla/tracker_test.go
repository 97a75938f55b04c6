package sla

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"careverify/internal/claims/models"
	"careverify/internal/claims/store"
	"careverify/internal/notify"
	id "careverify/pkg/domain"
	audit "careverify/pkg/platform/audit"
	"careverify/pkg/platform/audit/publishers/compliance"
	auditmemory "careverify/pkg/platform/audit/store/memory"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingSink) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type brokenPublisher struct{}

func (brokenPublisher) Emit(context.Context, audit.Event) (audit.Event, error) {
	return audit.Event{}, errors.New("ledger unavailable")
}

type TrackerSuite struct {
	suite.Suite
	ctx       context.Context
	submitted time.Time
	claims    *store.InMemoryClaimStore
	ledger    *auditmemory.InMemoryStore
	sink      *recordingSink
	tracker   *Tracker
}

func TestTrackerSuite(t *testing.T) {
	suite.Run(t, new(TrackerSuite))
}

func (s *TrackerSuite) SetupTest() {
	s.ctx = context.Background()
	s.submitted = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.claims = store.NewInMemoryClaimStore()
	s.ledger = auditmemory.NewInMemoryStore()
	s.sink = &recordingSink{}

	var err error
	s.tracker, err = New(s.claims, compliance.New(s.ledger), WithNotifier(s.sink))
	s.Require().NoError(err)
}

// submit stores a claim that was submitted at s.submitted with a 72h window.
func (s *TrackerSuite) submit(status models.Status) *models.Claim {
	claim, err := models.NewClaim(id.NewClaimID(), models.NewClaimParams{
		HospitalOrgID: id.OrgID(uuid.New()),
		ClaimedAmount: 100,
		Currency:      "INR",
		Priority:      2,
	}, s.submitted)
	s.Require().NoError(err)
	_, err = claim.ApplySubmit(s.submitted, 72*time.Hour)
	s.Require().NoError(err)
	claim.Status = status
	s.Require().NoError(s.claims.Create(s.ctx, claim))
	return claim
}

func (s *TrackerSuite) breachEvents(claimID id.ClaimID) int {
	events, err := audit.Collect(s.ledger.ReadTimeline(s.ctx, audit.ResourceClaim, claimID.String()))
	s.Require().NoError(err)
	n := 0
	for _, ev := range events {
		if ev.Type == audit.EventSLABreached {
			n++
		}
	}
	return n
}

func (s *TrackerSuite) TestSweep_BreachesOnceAfterDeadline() {
	claim := s.submit(models.StatusPendingReview)
	deadline := s.submitted.Add(72 * time.Hour)
	s.tracker.Arm(claim.ID, deadline)

	breached, err := s.tracker.Sweep(s.ctx, deadline)
	s.Require().NoError(err)
	s.Equal(0, breached, "a claim at its deadline is not yet late")

	breached, err = s.tracker.Sweep(s.ctx, deadline.Add(time.Hour))
	s.Require().NoError(err)
	s.Equal(1, breached)

	got, err := s.claims.FindByID(s.ctx, claim.ID)
	s.Require().NoError(err)
	s.True(got.SLABreached)
	s.Equal(models.StatusPendingReview, got.Status, "a breach does not move the claim")
	s.Equal(1, s.breachEvents(claim.ID))
	s.Equal(1, s.sink.count())

	// Re-arming after a resync must not produce a second breach.
	s.tracker.Arm(claim.ID, deadline)
	breached, err = s.tracker.Sweep(s.ctx, deadline.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal(0, breached)
	s.Equal(1, s.breachEvents(claim.ID))
	s.Equal(1, s.sink.count())
}

func (s *TrackerSuite) TestSweep_ResolvedClaimNeverBreaches() {
	claim := s.submit(models.StatusDenied)
	s.tracker.Arm(claim.ID, *claim.SLADeadline)

	breached, err := s.tracker.Sweep(s.ctx, claim.SLADeadline.Add(time.Hour))

	s.Require().NoError(err)
	s.Equal(0, breached)
	s.Equal(0, s.breachEvents(claim.ID))
	s.Equal(0, s.tracker.Pending())
}

func (s *TrackerSuite) TestSweep_AppealAfterDroppedDeadlineBreachesOnNextSweep() {
	claim := s.submit(models.StatusDenied)
	deadline := *claim.SLADeadline
	s.tracker.Arm(claim.ID, deadline)

	// Denied at 71h, swept at 73h: the resolved claim's entry is dropped.
	breached, err := s.tracker.Sweep(s.ctx, deadline.Add(time.Hour))
	s.Require().NoError(err)
	s.Equal(0, breached)
	s.Equal(0, s.tracker.Pending())

	// The appeal reopens the claim and arms the frozen deadline again.
	stored, err := s.claims.FindByID(s.ctx, claim.ID)
	s.Require().NoError(err)
	stored.Status = models.StatusInsurerReview
	stored.AppealCount = 1
	stored.Version++
	s.Require().NoError(s.claims.Update(s.ctx, stored, claim.Version))
	s.tracker.Arm(claim.ID, deadline)
	s.Equal(1, s.tracker.Pending())

	breached, err = s.tracker.Sweep(s.ctx, deadline.Add(90*time.Minute))
	s.Require().NoError(err)
	s.Equal(1, breached, "the breach is caught by the next sweep, not the next resync")
	s.Equal(1, s.breachEvents(claim.ID))

	got, err := s.claims.FindByID(s.ctx, claim.ID)
	s.Require().NoError(err)
	s.True(got.SLABreached)
	s.Equal(deadline, *got.SLADeadline)
}

func (s *TrackerSuite) TestRebuild_LoadsOpenDeadlines() {
	open := s.submit(models.StatusInsurerReview)
	s.submit(models.StatusApproved)

	s.Require().NoError(s.tracker.Rebuild(s.ctx))
	s.Equal(1, s.tracker.Pending())

	breached, err := s.tracker.Sweep(s.ctx, open.SLADeadline.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(1, breached)

	s.Require().NoError(s.tracker.Rebuild(s.ctx))
	s.Equal(0, s.tracker.Pending(), "breached claims have no open deadline")
}

func (s *TrackerSuite) TestSweep_NotifiesAssignedInsurer() {
	claim := s.submit(models.StatusInsurerReview)
	insurer := id.OrgID(uuid.New())
	stored, err := s.claims.FindByID(s.ctx, claim.ID)
	s.Require().NoError(err)
	stored.InsuranceOrgID = &insurer
	stored.Version++
	s.Require().NoError(s.claims.Update(s.ctx, stored, claim.Version))

	s.tracker.Arm(claim.ID, *claim.SLADeadline)
	_, err = s.tracker.Sweep(s.ctx, claim.SLADeadline.Add(time.Minute))
	s.Require().NoError(err)

	s.Require().Equal(1, s.sink.count())
	s.Equal(insurer.String(), s.sink.sent[0].Recipient.OrgID)
	s.Equal(notify.EventSLABreached, s.sink.sent[0].Event)
}

func (s *TrackerSuite) TestSweep_LedgerFailureRevertsAndRetries() {
	tracker, err := New(s.claims, brokenPublisher{}, WithNotifier(s.sink))
	s.Require().NoError(err)
	claim := s.submit(models.StatusPendingReview)
	tracker.Arm(claim.ID, *claim.SLADeadline)

	breached, err := tracker.Sweep(s.ctx, claim.SLADeadline.Add(time.Minute))

	s.Error(err)
	s.Equal(0, breached)
	got, findErr := s.claims.FindByID(s.ctx, claim.ID)
	s.Require().NoError(findErr)
	s.False(got.SLABreached)
	s.Equal(claim.Version, got.Version)
	s.Equal(1, tracker.Pending(), "the deadline is re-armed for the next sweep")
	s.Equal(0, s.sink.count())
}

func (s *TrackerSuite) TestRun_StopsOnCancel() {
	claim := s.submit(models.StatusPendingReview)
	ctx, cancel := context.WithCancel(s.ctx)
	tracker, err := New(s.claims, compliance.New(s.ledger),
		WithNotifier(s.sink),
		WithIntervals(5*time.Millisecond, time.Hour),
		WithClock(func() time.Time { return claim.SLADeadline.Add(time.Hour) }),
	)
	s.Require().NoError(err)

	done := make(chan error, 1)
	go func() { done <- tracker.Run(ctx) }()

	s.Eventually(func() bool { return s.sink.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	s.ErrorIs(<-done, context.Canceled)
	s.Equal(1, s.breachEvents(claim.ID))
}

func TestQueue_SkipsSupersededEntries(t *testing.T) {
	q := newQueue()
	a, b := id.NewClaimID(), id.NewClaimID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	q.push(a, base.Add(3*time.Hour))
	q.push(b, base.Add(time.Hour))
	q.push(a, base.Add(2*time.Hour))
	q.push(b, base.Add(time.Hour))

	if q.len() != 2 {
		t.Fatalf("expected 2 armed claims, got %d", q.len())
	}
	next, ok := q.next()
	if !ok || !next.Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected next deadline %v", next)
	}
	due := q.popDue(base.Add(4 * time.Hour))
	if len(due) != 2 || due[0].claimID != b || due[1].claimID != a {
		t.Fatalf("unexpected due order %+v", due)
	}
	if q.len() != 0 {
		t.Fatalf("queue should be empty, has %d", q.len())
	}
}
