package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultRefreshInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultRefreshMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// RetryPolicy bounds provider call retries. Only transient ProviderErrors are
// retried.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffScheduler
}

func DefaultRetryPolicy() RetryPolicy {
	return DefaultConfig().RetryPolicy()
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return ExponentialBackoffScheduler{}.NextDelay(attempt)
	}
	return p.Backoff.NextDelay(attempt)
}

// Do runs fn until it succeeds, returns a non-retryable error, attempts run
// out or ctx is done. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.attempts()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if !IsTransientProviderError(err) || attempt == maxAttempts {
			return attempt, err
		}
		if waitErr := waitWithContext(ctx, p.delay(attempt)); waitErr != nil {
			return attempt, waitErr
		}
	}
	return maxAttempts, lastErr
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func refreshLeaseKey(integrationID string) string {
	return "refresh:" + strings.TrimSpace(integrationID)
}

// NewLeaseToken returns a random owner token for lease implementations that
// release with compare-and-delete.
func NewLeaseToken() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate lease token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

type memoryLease struct {
	token string
	until time.Time
}

// MemoryLeaseLocker serializes work within one process.
type MemoryLeaseLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLease
	nowFn func() time.Time
}

func NewMemoryLeaseLocker() *MemoryLeaseLocker {
	return &MemoryLeaseLocker{
		locks: make(map[string]memoryLease),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryLeaseLocker) Acquire(_ context.Context, key string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: lease locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: lease key is required")
	}
	if ttl <= 0 {
		ttl = defaultRefreshLeaseTTL
	}
	token, err := NewLeaseToken()
	if err != nil {
		return nil, err
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.locks[key]; ok && now.Before(current.until) {
		return nil, fmt.Errorf("%w: %s", ErrLeaseHeld, key)
	}
	l.locks[key] = memoryLease{token: token, until: now.Add(ttl)}
	return &memoryLockHandle{locker: l, key: key, token: token}, nil
}

type memoryLockHandle struct {
	locker *MemoryLeaseLocker
	key    string
	token  string
	once   sync.Once
}

func (h *memoryLockHandle) Extend(_ context.Context, ttl time.Duration) error {
	if h == nil || h.locker == nil {
		return ErrLeaseLost
	}
	if ttl <= 0 {
		ttl = defaultRefreshLeaseTTL
	}
	now := h.locker.nowFn()
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()
	current, ok := h.locker.locks[h.key]
	if !ok || current.token != h.token {
		return fmt.Errorf("%w: %s", ErrLeaseLost, h.key)
	}
	h.locker.locks[h.key] = memoryLease{token: h.token, until: now.Add(ttl)}
	return nil
}

// Unlock releases the lease only while this handle still owns it.
func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		if current, ok := h.locker.locks[h.key]; ok && current.token == h.token {
			delete(h.locker.locks, h.key)
		}
		h.locker.mu.Unlock()
	})
	return nil
}
