//go:build integration

package dispatch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"careverify/internal/dispatch"
	"careverify/internal/platform/config"
	"careverify/internal/platform/kafka"
	"careverify/pkg/requestcontext"
	"careverify/pkg/testutil/containers"
)

type claimPayload struct {
	ClaimID string `json:"claim_id"`
}

func (p claimPayload) PartitionKey() string { return p.ClaimID }

type KafkaQueueSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
	cfg      config.KafkaConfig
	client   *kgo.Client
	registry *dispatch.Registry
	queue    *dispatch.KafkaQueue
	cancel   context.CancelFunc
	done     chan error
}

func TestKafkaQueueSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaQueueSuite))
}

func (s *KafkaQueueSuite) SetupSuite() {
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
}

func (s *KafkaQueueSuite) SetupTest() {
	suffix := uuid.NewString()[:8]
	s.cfg = config.KafkaConfig{
		Brokers:       s.redpanda.Brokers,
		JobsTopic:     "jobs-" + suffix,
		ConsumerGroup: "workers-" + suffix,
	}
	admin, err := kafka.NewProducer(s.cfg)
	s.Require().NoError(err)
	defer admin.Close()
	s.Require().NoError(kafka.EnsureTopics(context.Background(), admin, 3, 1, s.cfg.JobsTopic, s.cfg.JobsTopic+".dlq"))

	s.client, err = kafka.NewGroupConsumer(s.cfg, s.cfg.JobsTopic)
	s.Require().NoError(err)
	s.registry = dispatch.NewRegistry()
	s.queue = dispatch.NewKafkaQueue(s.client, s.cfg.JobsTopic,
		dispatch.WithHandlers(s.registry),
		dispatch.WithKafkaRetry(2, 10*time.Millisecond),
	)
}

func (s *KafkaQueueSuite) TearDownTest() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
	s.client.Close()
}

func (s *KafkaQueueSuite) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() { s.done <- s.queue.Run(ctx) }()
}

// =============================================================================
// Delivery
// =============================================================================

func (s *KafkaQueueSuite) TestEnqueuedJobRunsAsSystemActor() {
	received := make(chan dispatch.Job, 1)
	roles := make(chan requestcontext.Role, 1)
	s.registry.Handle(dispatch.KindScoreClaim, func(ctx context.Context, job dispatch.Job) error {
		roles <- requestcontext.ActorRole(ctx)
		received <- job
		return nil
	})
	s.start()

	handle, err := s.queue.Enqueue(context.Background(), dispatch.KindScoreClaim, claimPayload{ClaimID: "c-1"})
	s.Require().NoError(err)

	select {
	case job := <-received:
		s.Equal(handle.ID, job.ID)
		s.Equal(1, job.Attempt)
		payload, err := dispatch.Decode[claimPayload](job)
		s.Require().NoError(err)
		s.Equal("c-1", payload.ClaimID)
		s.Equal(requestcontext.RoleSystem, <-roles)
	case <-time.After(30 * time.Second):
		s.Fail("job was not consumed")
	}
}

func (s *KafkaQueueSuite) TestPermanentFailureGoesToDeadLetterTopic() {
	s.registry.Handle(dispatch.KindCloseClaim, func(context.Context, dispatch.Job) error {
		return dispatch.Permanent(errors.New("claim is gone"))
	})
	s.start()

	_, err := s.queue.Enqueue(context.Background(), dispatch.KindCloseClaim, claimPayload{ClaimID: "c-2"})
	s.Require().NoError(err)

	dlq, err := kgo.NewClient(
		kgo.SeedBrokers(s.cfg.Brokers...),
		kgo.ConsumeTopics(s.cfg.JobsTopic+".dlq"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer dlq.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for {
		fetches := dlq.PollFetches(ctx)
		s.Require().NoError(ctx.Err(), "no dead letter record arrived")
		var found *kgo.Record
		fetches.EachRecord(func(rec *kgo.Record) {
			if found == nil {
				found = rec
			}
		})
		if found == nil {
			continue
		}
		s.Equal("c-2", string(found.Key))
		var cause string
		for _, h := range found.Headers {
			if h.Key == "error" {
				cause = string(h.Value)
			}
		}
		s.Equal("claim is gone", cause)
		return
	}
}
