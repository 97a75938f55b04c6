package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

const deadLetterSuffix = ".dlq"

// KafkaQueue carries jobs over a Kafka topic. The same type produces (serve
// process) and consumes (worker process); consuming requires a client built
// with a consumer group and a Registry.
//
// Offsets are committed only after every record of a poll was handled, so a
// crash redelivers the batch. Jobs that exhaust their attempts run the
// registry's failure handler and go to the "<topic>.dlq" topic.
type KafkaQueue struct {
	client      *kgo.Client
	topic       string
	registry    *Registry
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger
	metrics     *Metrics
	now         func() time.Time
}

type KafkaOption func(*KafkaQueue)

// WithHandlers enables Run.
func WithHandlers(registry *Registry) KafkaOption {
	return func(q *KafkaQueue) {
		q.registry = registry
	}
}

func WithKafkaRetry(maxAttempts int, baseBackoff time.Duration) KafkaOption {
	return func(q *KafkaQueue) {
		if maxAttempts > 0 {
			q.maxAttempts = maxAttempts
		}
		if baseBackoff > 0 {
			q.baseBackoff = baseBackoff
		}
	}
}

func WithKafkaLogger(logger *slog.Logger) KafkaOption {
	return func(q *KafkaQueue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

func WithKafkaMetrics(m *Metrics) KafkaOption {
	return func(q *KafkaQueue) {
		q.metrics = m
	}
}

func NewKafkaQueue(client *kgo.Client, topic string, opts ...KafkaOption) *KafkaQueue {
	q := &KafkaQueue{
		client:      client,
		topic:       topic,
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue produces the job synchronously and returns once the broker acknowledged it.
func (q *KafkaQueue) Enqueue(ctx context.Context, kind Kind, payload any) (JobHandle, error) {
	job, err := NewJob(kind, payload, q.now())
	if err != nil {
		return JobHandle{}, err
	}
	value, err := json.Marshal(job)
	if err != nil {
		return JobHandle{}, fmt.Errorf("marshal job: %w", err)
	}
	key := job.ID
	if keyed, ok := payload.(Keyed); ok {
		key = keyed.PartitionKey()
	}
	rec := &kgo.Record{
		Topic:   q.topic,
		Key:     []byte(key),
		Value:   value,
		Headers: []kgo.RecordHeader{{Key: "kind", Value: []byte(kind)}},
	}
	if err := q.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		q.metrics.IncEnqueueRejected(kind, "produce_failed")
		return JobHandle{}, fmt.Errorf("produce %s job: %w", kind, err)
	}
	return JobHandle{ID: job.ID, Kind: kind}, nil
}

// Run consumes jobs until ctx is cancelled.
func (q *KafkaQueue) Run(ctx context.Context) error {
	if q.registry == nil {
		return fmt.Errorf("kafka queue has no handlers")
	}
	for {
		fetches := q.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return ErrClosed
		}
		if ctx.Err() != nil {
			return nil
		}
		for _, fe := range fetches.Errors() {
			q.logger.ErrorContext(ctx, "job fetch failed",
				"topic", fe.Topic,
				"partition", fe.Partition,
				"error", fe.Err,
			)
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			if ctx.Err() == nil {
				q.handle(ctx, rec)
			}
		})
		// Leave offsets uncommitted so an interrupted batch is redelivered.
		if ctx.Err() != nil {
			return nil
		}
		if err := q.client.CommitUncommittedOffsets(ctx); err != nil {
			q.logger.ErrorContext(ctx, "job offset commit failed", "error", err)
		}
		q.client.AllowRebalance()
	}
}

func (q *KafkaQueue) handle(ctx context.Context, rec *kgo.Record) {
	var job Job
	if err := json.Unmarshal(rec.Value, &job); err != nil {
		q.logger.ErrorContext(ctx, "undecodable job record",
			"partition", rec.Partition,
			"offset", rec.Offset,
			"error", err,
		)
		q.deadLetter(ctx, rec, err)
		return
	}

	for {
		job.Attempt++
		start := time.Now()
		err := q.registry.Run(ctx, job)
		elapsed := time.Since(start)
		if err == nil {
			q.metrics.ObserveRun(job.Kind, "ok", elapsed)
			return
		}
		if IsPermanent(err) || job.Attempt >= q.maxAttempts {
			q.metrics.ObserveRun(job.Kind, "failed", elapsed)
			q.logger.ErrorContext(ctx, "job failed",
				"job_id", job.ID,
				"kind", job.Kind,
				"attempt", job.Attempt,
				"error", err,
			)
			q.registry.Fail(ctx, job, err)
			q.deadLetter(ctx, rec, err)
			return
		}
		q.metrics.ObserveRun(job.Kind, "retry", elapsed)
		timer := time.NewTimer(Backoff(q.baseBackoff, q.maxBackoff, job.Attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (q *KafkaQueue) deadLetter(ctx context.Context, rec *kgo.Record, cause error) {
	dlq := &kgo.Record{
		Topic: q.topic + deadLetterSuffix,
		Key:   rec.Key,
		Value: rec.Value,
		Headers: append(append([]kgo.RecordHeader(nil), rec.Headers...),
			kgo.RecordHeader{Key: "error", Value: []byte(cause.Error())}),
	}
	if err := q.client.ProduceSync(ctx, dlq).FirstErr(); err != nil {
		q.logger.ErrorContext(ctx, "dead letter produce failed", "topic", dlq.Topic, "error", err)
	}
}
