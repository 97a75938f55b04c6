package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dErrors "careverify/pkg/domain-errors"
	"careverify/pkg/platform/httputil"
	"careverify/pkg/requestcontext"
)

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Metrics counts limiter decisions.
type Metrics struct {
	Decisions *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "careverify_rate_limit_decisions_total",
			Help: "Rate limit decisions by outcome (allowed, limited, store_error)",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) observe(outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(outcome).Inc()
}

// Limiter applies one limit to every write request.
type Limiter struct {
	store   Store
	limit   int
	window  time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

func New(store Store, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Middleware limits non-safe methods. Reads pass through untouched. When the
// store fails the request is allowed so a Redis outage does not take down
// claim submission.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafe(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := keyFor(r)
		res, err := l.store.Allow(ctx, key, l.limit, l.window)
		if err != nil {
			l.metrics.observe("store_error")
			l.logger.WarnContext(ctx, "rate limit store failed, allowing request",
				"key", key,
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set(HeaderLimit, strconv.Itoa(res.Limit))
		w.Header().Set(HeaderRemaining, strconv.Itoa(res.Remaining))
		w.Header().Set(HeaderReset, strconv.FormatInt(res.ResetAt.Unix(), 10))
		if !res.Allowed {
			l.metrics.observe("limited")
			retry := int(time.Until(res.ResetAt).Seconds()) + 1
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, retry later"))
			return
		}
		l.metrics.observe("allowed")
		next.ServeHTTP(w, r)
	})
}

// keyFor prefers the actor so users behind one proxy do not share a window.
func keyFor(r *http.Request) string {
	ctx := r.Context()
	if actor := requestcontext.ActorID(ctx); !actor.IsNil() {
		return "actor:" + actor.String()
	}
	if ip := requestcontext.ClientIP(ctx); ip != "" {
		return "ip:" + ip
	}
	return "ip:" + r.RemoteAddr
}

func isSafe(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
