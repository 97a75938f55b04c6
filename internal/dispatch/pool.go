package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers     = 4
	defaultQueueSize   = 256
	defaultMaxAttempts = 3
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxBackoff  = 30 * time.Second
)

// Pool is an in-process bounded worker pool. Jobs live in memory only: a
// process crash loses queued work, so callers that need durability use KafkaQueue.
type Pool struct {
	registry    *Registry
	queue       chan Job
	workers     int
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger
	metrics     *Metrics
	now         func() time.Time

	mu     sync.RWMutex
	closed bool
}

type PoolOption func(*Pool)

func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.queue = make(chan Job, n)
		}
	}
}

// WithRetry sets the attempt budget and the first retry delay.
func WithRetry(maxAttempts int, baseBackoff time.Duration) PoolOption {
	return func(p *Pool) {
		if maxAttempts > 0 {
			p.maxAttempts = maxAttempts
		}
		if baseBackoff > 0 {
			p.baseBackoff = baseBackoff
		}
	}
}

func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithPoolMetrics(m *Metrics) PoolOption {
	return func(p *Pool) {
		p.metrics = m
	}
}

func NewPool(registry *Registry, opts ...PoolOption) *Pool {
	p := &Pool{
		registry:    registry,
		queue:       make(chan Job, defaultQueueSize),
		workers:     defaultWorkers,
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue never blocks: a full queue returns ErrQueueFull.
func (p *Pool) Enqueue(ctx context.Context, kind Kind, payload any) (JobHandle, error) {
	job, err := NewJob(kind, payload, p.now())
	if err != nil {
		return JobHandle{}, err
	}
	if err := p.submit(job); err != nil {
		p.metrics.IncEnqueueRejected(kind, err.Error())
		p.logger.WarnContext(ctx, "job rejected", "kind", kind, "error", err)
		return JobHandle{}, err
	}
	return JobHandle{ID: job.ID, Kind: kind}, nil
}

func (p *Pool) submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes jobs until ctx is cancelled. Jobs still queued at that point are dropped.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job := <-p.queue:
					p.process(ctx, job)
				}
			}
		})
	}
	err := g.Wait()

	p.mu.Lock()
	p.closed = true
	dropped := len(p.queue)
	p.mu.Unlock()
	if dropped > 0 {
		p.logger.Warn("worker pool stopped with queued jobs", "dropped", dropped)
	}
	return err
}

func (p *Pool) process(ctx context.Context, job Job) {
	job.Attempt++
	start := time.Now()
	err := p.registry.Run(ctx, job)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		p.metrics.ObserveRun(job.Kind, "ok", elapsed)
	case ctx.Err() != nil:
		// Shutting down: the job is dropped, not failed.
		p.metrics.ObserveRun(job.Kind, "dropped", elapsed)
		p.logger.WarnContext(ctx, "job interrupted by shutdown", "job_id", job.ID, "kind", job.Kind)
	case IsPermanent(err) || job.Attempt >= p.maxAttempts:
		p.metrics.ObserveRun(job.Kind, "failed", elapsed)
		p.logger.ErrorContext(ctx, "job failed",
			"job_id", job.ID,
			"kind", job.Kind,
			"attempt", job.Attempt,
			"error", err,
		)
		p.registry.Fail(ctx, job, err)
	default:
		p.metrics.ObserveRun(job.Kind, "retry", elapsed)
		delay := Backoff(p.baseBackoff, p.maxBackoff, job.Attempt)
		p.logger.WarnContext(ctx, "job failed, retrying",
			"job_id", job.ID,
			"kind", job.Kind,
			"attempt", job.Attempt,
			"retry_in", delay,
			"error", err,
		)
		time.AfterFunc(delay, func() {
			if err := p.submit(job); err != nil {
				p.logger.Error("job retry dropped", "job_id", job.ID, "kind", job.Kind, "error", err)
			}
		})
	}
}
