package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "careverify:ratelimit:"

// slidingWindowScript keeps one sorted set per key scored by arrival time in
// milliseconds. It returns {allowed, remaining, reset_at_ms}.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
local allowed = 0
if count < limit then
	redis.call("ZADD", KEYS[1], now, ARGV[4])
	redis.call("PEXPIRE", KEYS[1], window)
	count = count + 1
	allowed = 1
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local reset = now + window
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end
local remaining = limit - count
if allowed == 0 then
	remaining = 0
end
return {allowed, remaining, reset}
`)

// RedisStore shares windows between every API process using the same Redis.
type RedisStore struct {
	client redis.Scripter
	now    func() time.Time
}

func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	member, err := nonce()
	if err != nil {
		return Result{}, err
	}
	now := s.now().UnixMilli()
	vals, err := slidingWindowScript.Run(ctx, s.client, []string{redisKeyPrefix + key},
		now, window.Milliseconds(), limit, fmt.Sprintf("%d-%s", now, member)).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("rate limit %s: unexpected script reply %v", key, vals)
	}
	return Result{
		Allowed:   vals[0] == 1,
		Limit:     limit,
		Remaining: int(vals[1]),
		ResetAt:   time.UnixMilli(vals[2]),
	}, nil
}

func nonce() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate rate limit nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}
