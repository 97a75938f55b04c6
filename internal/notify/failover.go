package notify

import (
	"context"
	"log/slog"

	"careverify/pkg/platform/circuit"
)

// FailoverSink sends to primary and falls back to secondary while primary is
// failing. Once the breaker opens, primary is still tried on every call and
// the fallback is used until primary succeeds often enough to close it.
type FailoverSink struct {
	primary   Sink
	secondary Sink
	breaker   *circuit.Breaker
	logger    *slog.Logger
}

func NewFailoverSink(primary, secondary Sink, breaker *circuit.Breaker, logger *slog.Logger) *FailoverSink {
	if breaker == nil {
		breaker = circuit.New("notifications")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverSink{primary: primary, secondary: secondary, breaker: breaker, logger: logger}
}

func (s *FailoverSink) Notify(ctx context.Context, n Notification) error {
	err := s.primary.Notify(ctx, n)
	if err != nil {
		useFallback, change := s.breaker.RecordFailure()
		if change.Opened {
			s.logger.WarnContext(ctx, "notification breaker opened", "breaker", s.breaker.Name(), "error", err)
		}
		if useFallback {
			return s.secondary.Notify(ctx, n)
		}
		return err
	}

	usePrimary, change := s.breaker.RecordSuccess()
	if change.Closed {
		s.logger.InfoContext(ctx, "notification breaker closed", "breaker", s.breaker.Name())
	}
	if !usePrimary {
		// Still recovering: the fallback delivers too.
		return s.secondary.Notify(ctx, n)
	}
	return nil
}
