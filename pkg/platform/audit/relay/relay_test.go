package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	audit "careverify/pkg/platform/audit"
	"careverify/pkg/platform/audit/store/memory"
)

type recordingSink struct {
	batches [][]audit.Event
	err     error
}

func (s *recordingSink) Publish(_ context.Context, events []audit.Event) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]audit.Event(nil), events...))
	return nil
}

type RelaySuite struct {
	suite.Suite
	store  *memory.InMemoryStore
	sink   *recordingSink
	cursor *MemoryCursor
	now    time.Time
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupTest() {
	s.store = memory.NewInMemoryStore()
	s.sink = &recordingSink{}
	s.cursor = NewMemoryCursor()
	s.now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
}

func (s *RelaySuite) append(ts time.Time) {
	_, err := s.store.Append(context.Background(), audit.Event{
		ID:           uuid.New(),
		Type:         audit.EventClaimStatusChanged,
		ResourceType: audit.ResourceClaim,
		ResourceID:   "claim-1",
		Timestamp:    ts,
	})
	s.Require().NoError(err)
}

func (s *RelaySuite) newRelay() *Relay {
	return New("kafka", s.store, s.sink, s.cursor,
		WithBatchSize(2),
		WithSettle(10*time.Second),
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *RelaySuite) TestRelayOnce_AdvancesCursorInBatches() {
	old := s.now.Add(-time.Minute)
	s.append(old)
	s.append(old)
	s.append(old)
	r := s.newRelay()
	ctx := context.Background()

	n, err := r.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(2, n)

	n, err = r.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	n, err = r.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Zero(n)

	seq, _ := s.cursor.Load(ctx, "kafka")
	s.Equal(int64(3), seq)
	s.Len(s.sink.batches, 2)
}

func (s *RelaySuite) TestRelayOnce_HoldsBackUnsettledEvents() {
	s.append(s.now.Add(-time.Minute))
	s.append(s.now.Add(-time.Second))
	r := s.newRelay()

	n, err := r.RelayOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *RelaySuite) TestRelayOnce_SinkFailureKeepsCursor() {
	s.append(s.now.Add(-time.Minute))
	s.sink.err = errors.New("broker down")
	r := s.newRelay()

	_, err := r.RelayOnce(context.Background())
	s.Require().Error(err)
	seq, _ := s.cursor.Load(context.Background(), "kafka")
	s.Zero(seq)
}

func (s *RelaySuite) TestCircuitBreaker_OpensAndCoolsDown() {
	now := s.now
	cb := newCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	s.True(cb.Allow())
	cb.RecordFailure()
	s.True(cb.IsOpen())
	s.False(cb.Allow())

	now = now.Add(2 * time.Minute)
	s.True(cb.Allow())
	// One more failure after the cooldown reopens immediately.
	cb.RecordFailure()
	s.True(cb.IsOpen())
}
