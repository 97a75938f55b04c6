package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"careverify/pkg/platform/sentinel"
)

const (
	lockKeyPrefix      = "careverify:lock:"
	defaultLockTTL     = 10 * time.Second
	lockRetryInterval  = 25 * time.Millisecond
	maxLockRetryJitter = 25 * time.Millisecond
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another worker is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a per-key mutual exclusion lock shared by every process using the same Redis.
type Locker struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewLocker returns a Locker. ttl bounds how long a crashed holder blocks others.
func NewLocker(client redis.Cmdable, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Locker{client: client, ttl: ttl}
}

// Lock blocks until key is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	redisKey := lockKeyPrefix + key

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("acquire lock %s: %w", key, sentinel.ErrLockTimeout)
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// Release with a fresh context; the caller's may already be cancelled.
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
			}, nil
		}

		timer := time.NewTimer(lockRetryInterval + jitter())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire lock %s: %w", key, errors.Join(sentinel.ErrLockTimeout, ctx.Err()))
		case <-timer.C:
		}
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func jitter() time.Duration {
	b := make([]byte, 1)
	_, _ = rand.Read(b)
	return time.Duration(int(b[0])%int(maxLockRetryJitter/time.Millisecond)) * time.Millisecond
}
