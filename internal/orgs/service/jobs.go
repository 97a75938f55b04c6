package service

import (
	"context"

	"careverify/internal/dispatch"
)

// RegisterJobs binds orgs.refresh_trust to RecomputeAll.
func RegisterJobs(registry *dispatch.Registry, svc *Service) {
	registry.Handle(dispatch.KindRefreshTrust, func(ctx context.Context, _ dispatch.Job) error {
		written, err := svc.RecomputeAll(ctx)
		if err != nil {
			return err
		}
		svc.logger.InfoContext(ctx, "trust refresh finished", "points_written", written)
		return nil
	})
}
