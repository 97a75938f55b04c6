// Package dispatch runs background jobs with at-least-once delivery.
//
// Producers call Enqueue with a job kind and a JSON-serializable payload.
// Consumers register one Handler per kind. Handlers must be idempotent:
// a job can be delivered more than once after a crash or a retry.
//
// Two transports share the same Registry: Pool runs jobs in-process, and
// KafkaQueue carries them over a Kafka topic so any worker process can run them.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"careverify/pkg/requestcontext"
)

// Kind names a job type.
type Kind string

const (
	KindScoreClaim     Kind = "claims.score"
	KindRescoreClaim   Kind = "claims.rescore"
	KindCloseClaim     Kind = "claims.close"
	KindCleanupDrafts  Kind = "claims.cleanup_drafts"
	KindRecoverScoring Kind = "claims.recover_scoring"
	KindRefreshTrust   Kind = "orgs.refresh_trust"
)

// Job is one unit of work as it travels through a transport.
type Job struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// JobHandle identifies an enqueued job.
type JobHandle struct {
	ID   string
	Kind Kind
}

// Handler runs one job. Returning an error schedules a retry unless it is Permanent.
type Handler func(ctx context.Context, job Job) error

// FailureHandler runs once a transport gives up on a job: after a permanent
// error or the last attempt. It is the owner's chance to move the resource on.
type FailureHandler func(ctx context.Context, job Job, cause error)

// Dispatcher is the producer side of a transport.
type Dispatcher interface {
	Enqueue(ctx context.Context, kind Kind, payload any) (JobHandle, error)
}

var (
	ErrUnknownKind = errors.New("no handler registered for job kind")
	ErrQueueFull   = errors.New("job queue is full")
	ErrClosed      = errors.New("dispatcher is closed")
)

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p) || errors.Is(err, ErrUnknownKind)
}

// NewJob builds a job with a fresh id.
func NewJob(kind Kind, payload any, now time.Time) (Job, error) {
	job := Job{ID: uuid.NewString(), Kind: kind, EnqueuedAt: now}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Job{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		job.Payload = raw
	}
	return job, nil
}

// Decode unmarshals a job payload. A malformed payload is permanent.
func Decode[T any](job Job) (T, error) {
	var out T
	if len(job.Payload) == 0 {
		return out, Permanent(fmt.Errorf("%s job %s has no payload", job.Kind, job.ID))
	}
	if err := json.Unmarshal(job.Payload, &out); err != nil {
		return out, Permanent(fmt.Errorf("decode %s payload: %w", job.Kind, err))
	}
	return out, nil
}

// Registry maps kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
	failures map[Kind]FailureHandler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[Kind]Handler),
		failures: make(map[Kind]FailureHandler),
	}
}

// Handle registers h for kind, replacing any previous handler.
func (r *Registry) Handle(kind Kind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// OnFailure registers h to run when a job of kind is given up on.
func (r *Registry) OnFailure(kind Kind, h FailureHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[kind] = h
}

// Fail runs the failure handler for job, if any. It runs under the same
// system actor and request id as the job itself.
func (r *Registry) Fail(ctx context.Context, job Job, cause error) {
	r.mu.RLock()
	h, ok := r.failures[job.Kind]
	r.mu.RUnlock()
	if !ok {
		return
	}
	ctx = requestcontext.WithRequestID(requestcontext.WithSystemActor(ctx), job.ID)
	h(ctx, job, cause)
}

// Run dispatches job to its handler. Handlers act as the system actor and the
// job id is the request id recorded on any audit events they emit.
func (r *Registry) Run(ctx context.Context, job Job) error {
	r.mu.RLock()
	h, ok := r.handlers[job.Kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", job.Kind, ErrUnknownKind)
	}
	ctx = requestcontext.WithRequestID(requestcontext.WithSystemActor(ctx), job.ID)
	return h(ctx, job)
}

// Backoff returns the delay before attempt n (1-based), doubling from base and
// capped at limit.
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	if attempt <= 1 {
		return base
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}

// Keyed payloads choose their partition key so jobs for one resource stay ordered.
type Keyed interface {
	PartitionKey() string
}
