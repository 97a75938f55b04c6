// Package lock serializes work per resource key.
//
// Sharded is the in-process implementation. When several worker processes
// share one database, use the Redis locker from internal/platform/redis, which
// satisfies the same Locker interface.
package lock

import (
	"context"
	"sync"

	dErrors "careverify/pkg/domain-errors"
)

// Locker acquires an exclusive lock on key. The returned func releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// numShards trades memory for contention: keys hashing to the same shard
// serialize with each other.
const numShards = 128

// Sharded distributes keys across a fixed set of mutexes.
type Sharded struct {
	shards [numShards]sync.Mutex
}

func NewSharded() *Sharded {
	return &Sharded{}
}

func (s *Sharded) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "lock aborted: context cancelled")
	}
	shard := &s.shards[hashKey(key)%numShards]
	shard.Lock()

	// Check again after acquiring the lock
	if err := ctx.Err(); err != nil {
		shard.Unlock()
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "lock aborted: context cancelled")
	}
	return shard.Unlock, nil
}

// hashKey is FNV-1a.
func hashKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
