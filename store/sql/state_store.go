package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/uptrace/bun"
)

const defaultStateTTL = 10 * time.Minute

// StateStore persists authorization states. Consume is a single conditional
// UPDATE so two callbacks racing on one token cannot both win.
type StateStore struct {
	db  *bun.DB
	ttl time.Duration
	now func() time.Time
}

func NewStateStore(db *bun.DB, ttl time.Duration) (*StateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &StateStore{
		db:  db,
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *StateStore) Issue(ctx context.Context, in core.IssueStateInput) (core.AuthorizationState, error) {
	if s == nil || s.db == nil {
		return core.AuthorizationState{}, fmt.Errorf("sqlstore: state store is not configured")
	}
	state, err := core.NewAuthorizationState(in, s.now(), s.ttl)
	if err != nil {
		return core.AuthorizationState{}, err
	}
	if _, err := s.db.NewInsert().Model(newStateRecord(state)).Exec(ctx); err != nil {
		return core.AuthorizationState{}, err
	}
	return state, nil
}

func (s *StateStore) Consume(ctx context.Context, state string, providerID string) (core.AuthorizationRequest, error) {
	if s == nil || s.db == nil {
		return core.AuthorizationRequest{}, fmt.Errorf("sqlstore: state store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return core.AuthorizationRequest{}, &core.StateError{Kind: core.StateNotFound}
	}
	now := s.now()

	var records []stateRecord
	query := `
UPDATE integration_oauth_states
SET used = ?, used_at = ?
WHERE state = ?
  AND used = ?
  AND expires_at > ?
RETURNING
	state,
	user_id,
	provider_id,
	requested_scopes,
	redirect_uri,
	code_verifier,
	code_challenge,
	challenge_method,
	used,
	used_at,
	created_at,
	expires_at
`
	if err := s.db.NewRaw(query, true, now, state, false, now).Scan(ctx, &records); err != nil && err != sql.ErrNoRows {
		return core.AuthorizationRequest{}, err
	}
	if len(records) == 1 {
		return core.ClaimedAuthorizationRequest(records[0].toDomain(), providerID)
	}
	return core.AuthorizationRequest{}, s.classifyUnclaimed(ctx, state, now)
}

// classifyUnclaimed explains why a claim matched no row.
func (s *StateStore) classifyUnclaimed(ctx context.Context, state string, now time.Time) error {
	record := &stateRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.state = ?", state).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return &core.StateError{Kind: core.StateNotFound, State: state}
		}
		return err
	}
	if record.Used {
		return &core.StateError{Kind: core.StateAlreadyUsed, State: state}
	}
	if record.toDomain().Expired(now) {
		return &core.StateError{Kind: core.StateExpired, State: state}
	}
	return &core.StateError{Kind: core.StateAlreadyUsed, State: state}
}

// Purge deletes consumed or expired states created before the cutoff.
func (s *StateStore) Purge(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: state store is not configured")
	}
	before = before.UTC()
	result, err := s.db.NewDelete().
		Model((*stateRecord)(nil)).
		Where("created_at < ?", before).
		WhereGroup(" AND ", func(q *bun.DeleteQuery) *bun.DeleteQuery {
			return q.Where("used = ?", true).WhereOr("expires_at <= ?", before)
		}).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
