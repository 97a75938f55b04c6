// Package relay streams committed ledger events to an external sink.
//
// The relay polls the ledger after a persisted cursor, publishes each batch,
// and advances the cursor only after the sink acknowledges. Delivery is
// at-least-once; consumers dedupe on Event.ID.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	audit "careverify/pkg/platform/audit"
)

const (
	defaultBatchSize    = 100
	defaultPollInterval = time.Second
	// Events younger than the settle window are held back so a transaction
	// that reserved a lower seq but commits later is not skipped.
	defaultSettle = 10 * time.Second
)

// Sink receives ledger events in seq order.
type Sink interface {
	Publish(ctx context.Context, events []audit.Event) error
}

// Cursor persists the last published seq.
type Cursor interface {
	Load(ctx context.Context, name string) (int64, error)
	Save(ctx context.Context, name string, seq int64) error
}

// Relay copies ledger events to a Sink.
type Relay struct {
	name         string
	store        audit.Store
	sink         Sink
	cursor       Cursor
	breaker      *circuitBreaker
	logger       *slog.Logger
	batchSize    int
	pollInterval time.Duration
	settle       time.Duration
	now          func() time.Time
}

// Option configures the Relay.
type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

func WithSettle(d time.Duration) Option {
	return func(r *Relay) { r.settle = d }
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// New creates a relay named name; the name keys its cursor.
func New(name string, store audit.Store, sink Sink, cursor Cursor, opts ...Option) *Relay {
	r := &Relay{
		name:         name,
		store:        store,
		sink:         sink,
		cursor:       cursor,
		breaker:      newCircuitBreaker(5, time.Minute),
		logger:       slog.Default(),
		batchSize:    defaultBatchSize,
		pollInterval: defaultPollInterval,
		settle:       defaultSettle,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		if r.breaker.Allow() {
			if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.WarnContext(ctx, "audit relay batch failed", "relay", r.name, "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes at most one batch and returns how many events were relayed.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	after, err := r.cursor.Load(ctx, r.name)
	if err != nil {
		return 0, err
	}
	events, err := r.store.ReadAfter(ctx, after, r.batchSize)
	if err != nil {
		return 0, err
	}

	cutoff := r.now().Add(-r.settle)
	ready := events[:0:0]
	for _, ev := range events {
		if r.settle > 0 && ev.Timestamp.After(cutoff) {
			break
		}
		ready = append(ready, ev)
	}
	if len(ready) == 0 {
		return 0, nil
	}

	if err := r.sink.Publish(ctx, ready); err != nil {
		r.breaker.RecordFailure()
		return 0, err
	}
	r.breaker.RecordSuccess()

	if err := r.cursor.Save(ctx, r.name, ready[len(ready)-1].Seq); err != nil {
		return len(ready), err
	}
	return len(ready), nil
}

// MemoryCursor is a Cursor for single-process deployments and tests.
type MemoryCursor struct {
	mu   sync.Mutex
	seqs map[string]int64
}

func NewMemoryCursor() *MemoryCursor {
	return &MemoryCursor{seqs: make(map[string]int64)}
}

func (c *MemoryCursor) Load(_ context.Context, name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seqs[name], nil
}

func (c *MemoryCursor) Save(_ context.Context, name string, seq int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.seqs[name] {
		c.seqs[name] = seq
	}
	return nil
}
