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

// CredentialStore keeps one encrypted credential row per integration. Older
// tokens are overwritten, never versioned.
type CredentialStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewCredentialStore(db *bun.DB) (*CredentialStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &CredentialStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *CredentialStore) Upsert(ctx context.Context, credential core.StoredCredential) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	if strings.TrimSpace(credential.IntegrationID) == "" {
		return core.NewValidationError("integration_id", "integration id is required")
	}
	if len(credential.Ciphertext) == 0 {
		return core.NewValidationError("ciphertext", "ciphertext is required")
	}
	record := newCredentialRecord(credential, s.now())

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := findCredential(ctx, tx, record.IntegrationID)
		if err != nil && err != core.ErrCredentialNotFound {
			return err
		}
		if existing == nil {
			_, insertErr := tx.NewInsert().Model(record).Exec(ctx)
			return insertErr
		}
		record.CreatedAt = existing.CreatedAt
		if record.UsageCount == 0 {
			record.UsageCount = existing.UsageCount
		}
		if record.LastUsedAt == nil {
			record.LastUsedAt = cloneTimePointer(existing.LastUsedAt)
		}
		_, updateErr := tx.NewUpdate().
			Model(record).
			WherePK().
			Exec(ctx)
		return updateErr
	})
}

func (s *CredentialStore) Get(ctx context.Context, integrationID string) (core.StoredCredential, error) {
	if s == nil || s.db == nil {
		return core.StoredCredential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	record, err := findCredential(ctx, s.db, strings.TrimSpace(integrationID))
	if err != nil {
		return core.StoredCredential{}, err
	}
	return record.toDomain(), nil
}

func (s *CredentialStore) Delete(ctx context.Context, integrationID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*credentialRecord)(nil)).
		Where("integration_id = ?", strings.TrimSpace(integrationID)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, rowsErr := result.RowsAffected(); rowsErr == nil && affected == 0 {
		return core.ErrCredentialNotFound
	}
	return nil
}

// MarkUsed bumps the usage counter in place so concurrent readers never lose
// an increment.
func (s *CredentialStore) MarkUsed(ctx context.Context, integrationID string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*credentialRecord)(nil)).
		Set("usage_count = usage_count + 1").
		Set("last_used_at = ?", at.UTC()).
		Where("integration_id = ?", strings.TrimSpace(integrationID)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, rowsErr := result.RowsAffected(); rowsErr == nil && affected == 0 {
		return core.ErrCredentialNotFound
	}
	return nil
}

// ListExpiring returns credentials expiring at or before the cutoff, soonest
// first.
func (s *CredentialStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]core.StoredCredential, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: credential store is not configured")
	}
	var records []credentialRecord
	query := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.expires_at <= ?", before.UTC()).
		OrderExpr("?TableAlias.expires_at ASC").
		OrderExpr("?TableAlias.integration_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	out := make([]core.StoredCredential, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}

func findCredential(ctx context.Context, db bun.IDB, integrationID string) (*credentialRecord, error) {
	if integrationID == "" {
		return nil, core.ErrCredentialNotFound
	}
	record := &credentialRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.integration_id = ?", integrationID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrCredentialNotFound
		}
		return nil, err
	}
	return record, nil
}
