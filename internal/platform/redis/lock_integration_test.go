//go:build integration

package redis_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	credis "careverify/internal/platform/redis"
	"careverify/pkg/platform/sentinel"
	"careverify/pkg/testutil/containers"
)

type LockerSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	locker *credis.Locker
}

func TestLockerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(LockerSuite))
}

func (s *LockerSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *LockerSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.locker = credis.NewLocker(s.redis.Client, 2*time.Second)
}

func (s *LockerSuite) TestMutualExclusionAcrossLockers() {
	other := credis.NewLocker(s.redis.Client, 2*time.Second)
	var inside, maxSeen atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		l := s.locker
		if i%2 == 0 {
			l = other
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			unlock, err := l.Lock(ctx, "claim-42")
			if err != nil {
				return
			}
			n := inside.Add(1)
			for {
				old := maxSeen.Load()
				if n <= old || maxSeen.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	s.Equal(int32(1), maxSeen.Load())
}

func (s *LockerSuite) TestLockTimesOutWhileHeld() {
	unlock, err := s.locker.Lock(context.Background(), "claim-7")
	s.Require().NoError(err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = s.locker.Lock(ctx, "claim-7")
	s.True(errors.Is(err, sentinel.ErrLockTimeout))
}
