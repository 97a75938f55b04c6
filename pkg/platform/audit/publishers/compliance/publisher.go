// Package compliance provides a fail-closed audit publisher for claim workflow events.
//
// Emit writes synchronously to the ledger store; when ctx carries a transaction
// the write joins it. If the write fails an error is returned and the calling
// operation MUST fail, so no state change commits without its ledger entry.
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	audit "careverify/pkg/platform/audit"
	"careverify/pkg/requestcontext"
)

// Publisher emits ledger events with fail-closed semantics.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// New creates a compliance publisher.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit fills in ID, timestamp, category, actor and request id from ctx when
// unset, then appends the event. The returned event carries its ledger seq.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) (audit.Event, error) {
	start := time.Now()

	if event.Type == "" {
		return audit.Event{}, fmt.Errorf("audit event requires Type")
	}
	if event.ResourceType == "" || event.ResourceID == "" {
		return audit.Event{}, fmt.Errorf("audit event %s requires a resource", event.Type)
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.Category == "" {
		event.Category = event.Type.Category()
	}
	if event.ActorID == "" {
		event.ActorID = requestcontext.ActorLabel(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	stored, err := p.store.Append(ctx, event)
	if err != nil {
		p.metrics.IncPersistFailures()
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "CRITICAL: audit append failed",
				"event_type", event.Type,
				"resource_type", event.ResourceType,
				"resource_id", event.ResourceID,
				"error", err,
			)
		}
		return audit.Event{}, fmt.Errorf("audit persistence failed: %w", err)
	}

	p.metrics.ObservePersistDuration(time.Since(start).Seconds())
	p.metrics.IncEventsEmitted(string(event.Type))
	return stored, nil
}
