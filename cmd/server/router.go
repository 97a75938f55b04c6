package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	claimhandler "careverify/internal/claims/handler"
	orghandler "careverify/internal/orgs/handler"
	"careverify/internal/platform/kafka"
	"careverify/internal/platform/metrics"
	"careverify/pkg/platform/httputil"
	"careverify/pkg/platform/middleware"
)

func (a *app) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Actor)
	r.Use(middleware.Logger(a.logger))
	r.Use(a.httpMetrics.Middleware)
	if a.limiter != nil {
		r.Use(a.limiter.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", a.handleReady)
	r.Handle("/metrics", metrics.Handler())

	claimhandler.New(a.claims, a.logger).Register(r)
	orghandler.New(a.orgs, a.logger).Register(r)
	return r
}

// handleReady checks every configured dependency.
func (a *app) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true
	record := func(name string, err error) {
		if err != nil {
			checks[name] = err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
	}
	if a.db != nil {
		record("postgres", a.db.PingContext(ctx))
	}
	if a.redis != nil {
		record("redis", a.redis.Health(ctx))
	}
	if a.producer != nil {
		record("kafka", kafka.Ping(ctx, a.producer))
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, map[string]any{"ready": ready, "checks": checks})
}
