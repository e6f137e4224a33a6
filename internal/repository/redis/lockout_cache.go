package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"verify-service/internal/apperr"
	"verify-service/internal/client"
	"verify-service/internal/credential"
	"verify-service/internal/util"
)

const lockoutPrefix = "lockout:"

// recordFailureScript bumps the failure counter and stamps the failure
// time in one round trip, so two concurrent failed attempts can never
// under-count toward lockout.
const recordFailureScript = `
    local key = KEYS[1]
    local now = tonumber(ARGV[1])
    local retention = tonumber(ARGV[2])

    local count = redis.call('HINCRBY', key, 'count', 1)
    redis.call('HSET', key, 'last_failure', now)
    redis.call('EXPIRE', key, retention)
    return count
`

// LockoutCache tracks per-verifier login failures in Redis. Counters are
// kept per submitted id, whether or not a verifier exists, so the login
// path is identical for unknown ids and wrong passwords.
type LockoutCache struct {
	client    *client.RedisClient
	retention time.Duration
}

func NewLockoutCache(rc *client.RedisClient, lockoutDuration time.Duration) *LockoutCache {
	return &LockoutCache{
		client: rc,
		// Keep counters around for twice the lockout window so a lock
		// can always be computed from a live record.
		retention: 2 * lockoutDuration,
	}
}

func (c *LockoutCache) Failures(ctx context.Context, id string) (credential.FailureState, error) {
	fields, err := c.client.HGetAll(ctx, lockoutPrefix+id)
	if err != nil {
		return credential.FailureState{}, fmt.Errorf("%w: read lockout state: %v", apperr.ErrStoreUnavailable, err)
	}

	var state credential.FailureState
	if raw, ok := fields["count"]; ok {
		if n, err := strconv.ParseUint(raw, 10, 32); err == nil {
			state.Count = uint(n)
		}
	}
	if raw, ok := fields["last_failure"]; ok {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			state.LastFailure = time.Unix(unix, 0).UTC()
		}
	}

	return state, nil
}

func (c *LockoutCache) RecordFailure(ctx context.Context, id string, now time.Time) (credential.FailureState, error) {
	result, err := c.client.Eval(ctx, recordFailureScript,
		[]string{lockoutPrefix + id},
		now.Unix(), int(c.retention.Seconds()))
	if err != nil {
		util.Error("Failed to record login failure",
			zap.String("verifier_id", id),
			zap.Error(err))
		return credential.FailureState{}, fmt.Errorf("%w: record failure: %v", apperr.ErrStoreUnavailable, err)
	}

	count, ok := result.(int64)
	if !ok {
		return credential.FailureState{}, fmt.Errorf("%w: unexpected script result", apperr.ErrStoreUnavailable)
	}

	return credential.FailureState{
		Count:       uint(count),
		LastFailure: now,
	}, nil
}

func (c *LockoutCache) Reset(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, lockoutPrefix+id); err != nil {
		return fmt.Errorf("%w: reset lockout state: %v", apperr.ErrStoreUnavailable, err)
	}
	return nil
}
