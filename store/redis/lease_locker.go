// Package redisstore provides a Redis-backed refresh lease for deployments
// that run several refresh workers against one database.
package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "go-integrations:lease:"
	defaultLeaseTTL  = 2 * time.Minute
)

// extendScript renews the expiry only while the caller still owns the lease.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only while the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Option func(*LeaseLocker)

func WithKeyPrefix(prefix string) Option {
	return func(l *LeaseLocker) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			l.prefix = trimmed
		}
	}
}

// LeaseLocker implements core.LeaseLocker with SET NX PX and a token-checked
// release.
type LeaseLocker struct {
	client redis.UniversalClient
	prefix string
}

func NewLeaseLocker(client redis.UniversalClient, opts ...Option) (*LeaseLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	locker := &LeaseLocker{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(locker)
		}
	}
	return locker, nil
}

func (l *LeaseLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (core.LockHandle, error) {
	if l == nil || l.client == nil {
		return nil, fmt.Errorf("redisstore: lease locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, core.NewValidationError("lease_key", "lease key is required")
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	token, err := core.NewLeaseToken()
	if err != nil {
		return nil, err
	}
	redisKey := l.prefix + key
	acquired, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: acquire %s: %w", key, err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: %s", core.ErrLeaseHeld, key)
	}
	return &redisLease{client: l.client, key: redisKey, token: token}, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (h *redisLease) Extend(ctx context.Context, ttl time.Duration) error {
	if h == nil || h.client == nil {
		return core.ErrLeaseLost
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	renewed, err := extendScript.Run(ctx, h.client, []string{h.key}, h.token, ttl.Milliseconds()).Int64()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redisstore: extend %s: %w", h.key, err)
	}
	if renewed != 1 {
		return fmt.Errorf("%w: %s", core.ErrLeaseLost, h.key)
	}
	return nil
}

func (h *redisLease) Unlock(ctx context.Context) error {
	if h == nil || h.client == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, h.client, []string{h.key}, h.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redisstore: release %s: %w", h.key, err)
	}
	return nil
}

var _ core.LeaseLocker = (*LeaseLocker)(nil)
