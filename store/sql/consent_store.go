package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConsentStore is append-only apart from the one-time revocation stamp.
type ConsentStore struct {
	db   *bun.DB
	repo repository.Repository[*consentRecord]
	now  func() time.Time
}

func NewConsentStore(db *bun.DB) (*ConsentStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*consentRecord](db, consentHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid consent repository wiring: %w", err)
		}
	}
	return &ConsentStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *ConsentStore) Append(ctx context.Context, record core.ConsentRecord) (core.ConsentRecord, error) {
	if s == nil || s.repo == nil {
		return core.ConsentRecord{}, fmt.Errorf("sqlstore: consent store is not configured")
	}
	if strings.TrimSpace(record.IntegrationID) == "" {
		return core.ConsentRecord{}, core.NewValidationError("integration_id", "integration id is required")
	}
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if record.GrantedAt.IsZero() {
		record.GrantedAt = s.now()
	}

	var created *consentRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var sequence int64
		if err := tx.NewSelect().
			Model((*consentRecord)(nil)).
			ColumnExpr("COALESCE(MAX(?TableAlias.sequence), 0)").
			Where("?TableAlias.integration_id = ?", strings.TrimSpace(record.IntegrationID)).
			Scan(ctx, &sequence); err != nil {
			return err
		}
		inserted, createErr := s.repo.CreateTx(ctx, tx, newConsentRecord(record, sequence+1))
		if createErr != nil {
			if isUniqueViolation(createErr) {
				return fmt.Errorf("sqlstore: consent record %q already exists", record.ID)
			}
			return createErr
		}
		created = inserted
		return nil
	})
	if err != nil {
		return core.ConsentRecord{}, err
	}
	return created.toDomain(), nil
}

func (s *ConsentStore) Get(ctx context.Context, id string) (core.ConsentRecord, error) {
	if s == nil || s.db == nil {
		return core.ConsentRecord{}, fmt.Errorf("sqlstore: consent store is not configured")
	}
	record, err := findConsent(ctx, s.db, strings.TrimSpace(id))
	if err != nil {
		return core.ConsentRecord{}, err
	}
	return record.toDomain(), nil
}

func (s *ConsentStore) MarkRevoked(ctx context.Context, id string, reason string, at time.Time) (core.ConsentRecord, error) {
	if s == nil || s.db == nil {
		return core.ConsentRecord{}, fmt.Errorf("sqlstore: consent store is not configured")
	}
	id = strings.TrimSpace(id)
	revokedAt := at.UTC()
	_, err := s.db.NewUpdate().
		Model((*consentRecord)(nil)).
		Set("revoked = ?", true).
		Set("revoked_reason = ?", reason).
		Set("revoked_at = ?", revokedAt).
		Where("id = ?", id).
		Where("revoked = ?", false).
		Exec(ctx)
	if err != nil {
		return core.ConsentRecord{}, err
	}
	record, err := findConsent(ctx, s.db, id)
	if err != nil {
		return core.ConsentRecord{}, err
	}
	return record.toDomain(), nil
}

func (s *ConsentStore) ListByIntegration(ctx context.Context, integrationID string) ([]core.ConsentRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: consent store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("integration_id", "=", strings.TrimSpace(integrationID)),
		repository.OrderBy("sequence ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.ConsentRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func findConsent(ctx context.Context, db bun.IDB, id string) (*consentRecord, error) {
	if id == "" {
		return nil, core.ErrConsentNotFound
	}
	record := &consentRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrConsentNotFound
		}
		return nil, err
	}
	return record, nil
}
