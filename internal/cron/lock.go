package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 10 * time.Minute

// Lock hands out per-job leases so a job runs on at most one replica at a
// time.
type Lock interface {
	Acquire(ctx context.Context, job string) (Lease, bool, error)
}

type Lease interface {
	Release(ctx context.Context) error
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ReleaseIfOwner(ctx context.Context, key, owner string) (bool, error)
}

// RedisLock implements Lock using SETNX with a TTL. The TTL bounds how long a
// crashed holder can block the job.
type RedisLock struct {
	client redisStore
	keyFn  func(job string) string
	ttl    time.Duration
}

// NewRedisLock constructs a Redis-backed lock. keyFn maps a job name to its
// lock key.
func NewRedisLock(client redisStore, keyFn func(job string) string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if keyFn == nil {
		return nil, errors.New("lock key function is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, keyFn: keyFn, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context, job string) (Lease, bool, error) {
	key := l.keyFn(job)
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, owner, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("setnx %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{client: l.client, key: key, owner: owner}, true, nil
}

type redisLease struct {
	client redisStore
	key    string
	owner  string
}

// Release is a no-op once the TTL lapsed or another owner took the key.
func (l *redisLease) Release(ctx context.Context) error {
	if _, err := l.client.ReleaseIfOwner(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
