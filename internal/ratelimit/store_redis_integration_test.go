//go:build integration

package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careverify/pkg/testutil/containers"
)

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	t.Run("window is shared between stores", func(t *testing.T) {
		a := NewRedisStore(rc.Client)
		b := NewRedisStore(rc.Client)

		res, err := a.Allow(ctx, "actor:shared", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 1, res.Remaining)

		res, err = b.Allow(ctx, "actor:shared", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)

		res, err = a.Allow(ctx, "actor:shared", 2, time.Minute)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.WithinDuration(t, time.Now().Add(time.Minute), res.ResetAt, 5*time.Second)
	})

	t.Run("concurrent callers never exceed the limit", func(t *testing.T) {
		s := NewRedisStore(rc.Client)
		var allowed atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := s.Allow(ctx, "ip:10.1.1.1", 10, time.Minute)
				if err == nil && res.Allowed {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(10), allowed.Load())
	})

	t.Run("requests expire from the window", func(t *testing.T) {
		s := NewRedisStore(rc.Client)
		res, err := s.Allow(ctx, "actor:short", 1, 200*time.Millisecond)
		require.NoError(t, err)
		require.True(t, res.Allowed)

		res, err = s.Allow(ctx, "actor:short", 1, 200*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, res.Allowed)

		time.Sleep(300 * time.Millisecond)
		res, err = s.Allow(ctx, "actor:short", 1, 200*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})
}
