// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; services and workers read them. Keeping this
// package free of net/http lets background jobs build the same context a
// request would carry.
//
// Usage in services (read values):
//
//	actor := requestcontext.ActorID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithActor(ctx, userID, requestcontext.RoleInsurer)
package requestcontext

import (
	"context"
	"time"

	id "careverify/pkg/domain"
)

// Role identifies what kind of party is acting on a claim.
type Role string

const (
	RoleHospital Role = "hospital_staff"
	RoleReviewer Role = "compliance_reviewer"
	RoleInsurer  Role = "insurer_staff"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

const systemActorLabel = "system"

type (
	actorIDKey     struct{}
	actorRoleKey   struct{}
	actorOrgKey    struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyActorID     = actorIDKey{}
	ContextKeyActorRole   = actorRoleKey{}
	ContextKeyActorOrg    = actorOrgKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyUserAgent   = userAgentKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// ActorID returns the acting user, or the nil UUID when the actor is the system.
func ActorID(ctx context.Context) id.UserID {
	if v, ok := ctx.Value(ContextKeyActorID).(id.UserID); ok {
		return v
	}
	return id.UserID{}
}

// ActorRole returns the acting role, RoleSystem when unset.
func ActorRole(ctx context.Context) Role {
	if v, ok := ctx.Value(ContextKeyActorRole).(Role); ok && v != "" {
		return v
	}
	return RoleSystem
}

// ActorOrgID returns the organization the actor belongs to, if known.
func ActorOrgID(ctx context.Context) id.OrgID {
	if v, ok := ctx.Value(ContextKeyActorOrg).(id.OrgID); ok {
		return v
	}
	return id.OrgID{}
}

// ActorLabel renders the actor for audit records: the user ID, or "system".
func ActorLabel(ctx context.Context) string {
	actor := ActorID(ctx)
	if actor.IsNil() {
		return systemActorLabel
	}
	return actor.String()
}

// WithActor injects the acting user and role.
func WithActor(ctx context.Context, actor id.UserID, role Role) context.Context {
	ctx = context.WithValue(ctx, ContextKeyActorID, actor)
	return context.WithValue(ctx, ContextKeyActorRole, role)
}

// WithActorOrg injects the actor's organization.
func WithActorOrg(ctx context.Context, org id.OrgID) context.Context {
	return context.WithValue(ctx, ContextKeyActorOrg, org)
}

// WithSystemActor marks work performed by background jobs.
func WithSystemActor(ctx context.Context) context.Context {
	return WithActor(ctx, id.UserID{}, RoleSystem)
}

// ClientIP returns the client IP set by middleware.
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return v
	}
	return ""
}

// UserAgent returns the client description set by middleware.
func UserAgent(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyUserAgent).(string); ok {
		return v
	}
	return ""
}

// WithClientMetadata injects client IP and user agent.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	return context.WithValue(ctx, ContextKeyUserAgent, userAgent)
}

// RequestID returns the correlation ID, empty when unset.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// WithRequestID injects a correlation ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now returns the request-scoped time, falling back to time.Now.
// All writes in one operation share this value so audit timestamps line up
// with the domain timestamps they describe.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
