package dispatch

import (
	"context"
	"log/slog"
	"time"
)

// Every enqueues kind once per interval until ctx is done. A failed enqueue is
// logged and retried on the next tick.
func Every(ctx context.Context, interval time.Duration, d Dispatcher, kind Kind, payload any, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			handle, err := d.Enqueue(ctx, kind, payload)
			if err != nil {
				logger.WarnContext(ctx, "scheduled job not enqueued", "kind", kind, "error", err)
				continue
			}
			logger.DebugContext(ctx, "scheduled job enqueued", "kind", kind, "job_id", handle.ID)
		}
	}
}
