package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "careverify/pkg/domain"
	"careverify/pkg/platform/middleware"
	"careverify/pkg/requestcontext"
	"careverify/pkg/testutil"
)

func TestMemoryStore_SlidingWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := s.Allow(ctx, "actor:a", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
		now = now.Add(10 * time.Second)
	}

	res, err := s.Allow(ctx, "actor:a", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC), res.ResetAt)

	t.Run("other keys have their own window", func(t *testing.T) {
		res, err := s.Allow(ctx, "actor:b", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("oldest request leaves the window", func(t *testing.T) {
		now = time.Date(2026, 3, 1, 10, 1, 0, 1, time.UTC)
		res, err := s.Allow(ctx, "actor:a", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
	})
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (Result, error) {
	return Result{}, errors.New("connection refused")
}

func newLimitedRouter(store Store, limit int) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := New(store, limit, time.Minute, WithLogger(logger))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	return middleware.ClientMetadata(middleware.Actor(l.Middleware(ok)))
}

func TestMiddleware(t *testing.T) {
	t.Run("limits writes per actor", func(t *testing.T) {
		h := newLimitedRouter(NewMemoryStore(), 2)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/claims", nil)
		testutil.AsActor(req, requestcontext.RoleHospital, id.OrgID{})

		for i := 0; i < 2; i++ {
			w := testutil.DoRequest(h, req)
			require.Equal(t, http.StatusNoContent, w.Code)
			assert.Equal(t, "2", w.Header().Get(HeaderLimit))
		}
		w := testutil.DoRequest(h, req)
		testutil.AssertStatusAndError(t, w, http.StatusTooManyRequests, "rate_limited")
		assert.Equal(t, "0", w.Header().Get(HeaderRemaining))
		assert.NotEmpty(t, w.Header().Get("Retry-After"))

		other := testutil.NewJSONRequest(t, http.MethodPost, "/claims", nil)
		testutil.AsActor(other, requestcontext.RoleHospital, id.OrgID{})
		assert.Equal(t, http.StatusNoContent, testutil.DoRequest(h, other).Code)
	})

	t.Run("reads are not counted", func(t *testing.T) {
		h := newLimitedRouter(NewMemoryStore(), 1)
		for i := 0; i < 3; i++ {
			w := testutil.DoRequest(h, httptest.NewRequest(http.MethodGet, "/claims/x", nil))
			assert.Equal(t, http.StatusNoContent, w.Code)
			assert.Empty(t, w.Header().Get(HeaderLimit))
		}
	})

	t.Run("anonymous callers are keyed by ip", func(t *testing.T) {
		h := newLimitedRouter(NewMemoryStore(), 1)
		first := httptest.NewRequest(http.MethodPost, "/orgs", nil)
		first.RemoteAddr = "10.0.0.1:5000"
		second := httptest.NewRequest(http.MethodPost, "/orgs", nil)
		second.RemoteAddr = "10.0.0.2:5000"

		assert.Equal(t, http.StatusNoContent, testutil.DoRequest(h, first).Code)
		assert.Equal(t, http.StatusTooManyRequests, testutil.DoRequest(h, first).Code)
		assert.Equal(t, http.StatusNoContent, testutil.DoRequest(h, second).Code)
	})

	t.Run("store failure allows the request", func(t *testing.T) {
		h := newLimitedRouter(failingStore{}, 1)
		req := httptest.NewRequest(http.MethodPost, "/claims", nil)
		w := testutil.DoRequest(h, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Header().Get(HeaderLimit))
	})
}
