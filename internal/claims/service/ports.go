package service

import (
	"context"
	"time"

	"careverify/internal/dispatch"
	"careverify/internal/notify"
	"careverify/internal/routing"
	id "careverify/pkg/domain"
)

// Dispatcher enqueues background jobs.
type Dispatcher interface {
	Enqueue(ctx context.Context, kind dispatch.Kind, payload any) (dispatch.JobHandle, error)
}

// Router assigns insurers to scored claims.
type Router interface {
	Route(ctx context.Context, req routing.Request) (*routing.Assignment, error)
	Confirm(ctx context.Context, orgID id.OrgID) error
}

// Notifier delivers workflow notifications. Errors are logged, never returned to callers.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}

// DeadlineArmer schedules the SLA check for a submitted claim.
type DeadlineArmer interface {
	Arm(claimID id.ClaimID, deadline time.Time)
}
