package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/uptrace/bun"
)

const defaultLeaseTTL = 2 * time.Minute

// LeaseLocker implements core.LeaseLocker on the integration_leases table.
// An expired lease is taken over with a conditional UPDATE; release only
// deletes the row when the owner token still matches.
type LeaseLocker struct {
	db  *bun.DB
	now func() time.Time
}

func NewLeaseLocker(db *bun.DB) (*LeaseLocker, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &LeaseLocker{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (l *LeaseLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (core.LockHandle, error) {
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("sqlstore: lease locker is not configured")
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
	now := l.now()
	record := &leaseRecord{
		Key:        key,
		Owner:      token,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	result, err := l.db.NewUpdate().
		Model(record).
		Column("owner_token", "acquired_at", "expires_at").
		Where("lease_key = ?", key).
		Where("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if affected, rowsErr := result.RowsAffected(); rowsErr == nil && affected == 1 {
		return &sqlLease{locker: l, key: key, token: token}, nil
	}

	if _, err := l.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", core.ErrLeaseHeld, key)
		}
		return nil, err
	}
	return &sqlLease{locker: l, key: key, token: token}, nil
}

type sqlLease struct {
	locker *LeaseLocker
	key    string
	token  string
}

// Extend pushes expires_at forward while owner_token still matches.
func (h *sqlLease) Extend(ctx context.Context, ttl time.Duration) error {
	if h == nil || h.locker == nil || h.locker.db == nil {
		return core.ErrLeaseLost
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	result, err := h.locker.db.NewUpdate().
		Model((*leaseRecord)(nil)).
		Set("expires_at = ?", h.locker.now().Add(ttl)).
		Where("lease_key = ?", h.key).
		Where("owner_token = ?", h.token).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, rowsErr := result.RowsAffected(); rowsErr != nil || affected != 1 {
		return fmt.Errorf("%w: %s", core.ErrLeaseLost, h.key)
	}
	return nil
}

func (h *sqlLease) Unlock(ctx context.Context) error {
	if h == nil || h.locker == nil || h.locker.db == nil {
		return nil
	}
	_, err := h.locker.db.NewDelete().
		Model((*leaseRecord)(nil)).
		Where("lease_key = ?", h.key).
		Where("owner_token = ?", h.token).
		Exec(ctx)
	return err
}
