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

// IntegrationStore persists integrations. The partial unique index on
// (user_id, provider_id) WHERE status = 'active' backs the single active
// integration rule; Update maps its violation to core.ConflictError.
type IntegrationStore struct {
	db   *bun.DB
	repo repository.Repository[*integrationRecord]
	now  func() time.Time
}

func NewIntegrationStore(db *bun.DB) (*IntegrationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*integrationRecord](db, integrationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid integration repository wiring: %w", err)
		}
	}
	return &IntegrationStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *IntegrationStore) Create(ctx context.Context, in core.CreateIntegrationInput) (core.Integration, error) {
	if s == nil || s.repo == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: integration store is not configured")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return core.Integration{}, core.NewValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(in.ProviderID) == "" {
		return core.Integration{}, core.NewValidationError("provider_id", "provider id is required")
	}
	record := newIntegrationRecord(in, uuid.NewString(), s.now())
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Integration{}, err
	}
	return created.toDomain(), nil
}

func (s *IntegrationStore) Get(ctx context.Context, id string) (core.Integration, error) {
	if s == nil || s.db == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: integration store is not configured")
	}
	record, err := findIntegration(ctx, s.db, strings.TrimSpace(id))
	if err != nil {
		return core.Integration{}, err
	}
	return record.toDomain(), nil
}

func (s *IntegrationStore) ListByUser(ctx context.Context, userID string) ([]core.Integration, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: integration store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.OrderBy("created_at ASC"),
		repository.OrderBy("id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Integration, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *IntegrationStore) FindActive(ctx context.Context, userID string, providerID string) (core.Integration, error) {
	if s == nil || s.db == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: integration store is not configured")
	}
	record := &integrationRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", strings.TrimSpace(userID)).
		Where("?TableAlias.provider_id = ?", normalizeProviderID(providerID)).
		Where("?TableAlias.status = ?", string(core.IntegrationStatusActive)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Integration{}, core.ErrIntegrationNotFound
		}
		return core.Integration{}, err
	}
	return record.toDomain(), nil
}

// Update writes the mutable fields of integration only while the stored
// status still equals expected.
func (s *IntegrationStore) Update(ctx context.Context, integration core.Integration, expected core.IntegrationStatus) (core.Integration, error) {
	if s == nil || s.db == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: integration store is not configured")
	}
	id := strings.TrimSpace(integration.ID)
	if id == "" {
		return core.Integration{}, core.NewValidationError("id", "integration id is required")
	}

	var updated *integrationRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := findIntegration(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Status != string(expected) {
			return fmt.Errorf("%w: expected %s, found %s", core.ErrIntegrationStale, expected, current.Status)
		}
		if integration.Status == core.IntegrationStatusActive {
			existing := &integrationRecord{}
			lookupErr := tx.NewSelect().
				Model(existing).
				Where("?TableAlias.user_id = ?", current.UserID).
				Where("?TableAlias.provider_id = ?", current.ProviderID).
				Where("?TableAlias.status = ?", string(core.IntegrationStatusActive)).
				Where("?TableAlias.id <> ?", current.ID).
				Limit(1).
				Scan(ctx)
			if lookupErr == nil {
				return &core.ConflictError{UserID: current.UserID, ProviderID: current.ProviderID, ExistingID: existing.ID}
			}
			if lookupErr != sql.ErrNoRows {
				return lookupErr
			}
		}

		current.applyIntegration(integration, s.now())
		result, updateErr := tx.NewUpdate().
			Model(current).
			Column("status", "granted_scopes", "provider_user_id", "sync_metadata",
				"error_count", "last_error", "updated_at", "revoked_at").
			Where("id = ?", current.ID).
			Where("status = ?", string(expected)).
			Exec(ctx)
		if updateErr != nil {
			if isUniqueViolation(updateErr) {
				return &core.ConflictError{UserID: current.UserID, ProviderID: current.ProviderID}
			}
			return updateErr
		}
		if affected, rowsErr := result.RowsAffected(); rowsErr == nil && affected == 0 {
			return fmt.Errorf("%w: expected %s", core.ErrIntegrationStale, expected)
		}
		updated = current
		return nil
	})
	if err != nil {
		return core.Integration{}, err
	}
	return updated.toDomain(), nil
}

func findIntegration(ctx context.Context, db bun.IDB, id string) (*integrationRecord, error) {
	if id == "" {
		return nil, core.ErrIntegrationNotFound
	}
	record := &integrationRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrIntegrationNotFound
		}
		return nil, err
	}
	return record, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
