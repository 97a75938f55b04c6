// Package notify delivers workflow notifications to users and organizations.
//
// Notify is fire-and-forget from the engine's point of view: callers log a
// returned error and carry on, a failed notification never fails a transition.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Event names what happened.
type Event string

const (
	EventClaimReadyForReview Event = "claim_ready_for_review"
	EventClaimDecided        Event = "claim_decided"
	EventSLABreached         Event = "sla_breached"
	EventRoutingHeld         Event = "routing_held"
	EventScoringUnavailable  Event = "scoring_unavailable"
)

// Recipient addresses a user, an organization, or the admin desk.
type Recipient struct {
	UserID string `json:"user_id,omitempty"`
	OrgID  string `json:"org_id,omitempty"`
	Admin  bool   `json:"admin,omitempty"`
}

// Notification is one message to one recipient.
type Notification struct {
	Event     Event          `json:"event"`
	Recipient Recipient      `json:"recipient"`
	ClaimID   string         `json:"claim_id,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Sink delivers notifications.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(ctx context.Context, n Notification) error {
	s.logger.InfoContext(ctx, "notification",
		"event", n.Event,
		"claim_id", n.ClaimID,
		"org_id", n.Recipient.OrgID,
		"user_id", n.Recipient.UserID,
		"admin", n.Recipient.Admin,
		"message", n.Message,
	)
	return nil
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(context.Context, Notification) error { return nil }
