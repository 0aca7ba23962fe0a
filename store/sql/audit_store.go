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

// AuditStore appends audit events. Ids are UUIDv7 so events sharing a
// timestamp still list in append order.
type AuditStore struct {
	db   *bun.DB
	repo repository.Repository[*auditEventRecord]
	now  func() time.Time
}

func NewAuditStore(db *bun.DB) (*AuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*auditEventRecord](db, auditEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid audit repository wiring: %w", err)
		}
	}
	return &AuditStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *AuditStore) Append(ctx context.Context, event core.AuditEvent) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: audit store is not configured")
	}
	if strings.TrimSpace(event.ID) == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("sqlstore: generate audit id: %w", err)
		}
		event.ID = id.String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	_, err := s.repo.Create(ctx, newAuditEventRecord(event))
	return err
}

// List returns matching events newest first, skipping Offset rows and
// returning at most Limit.
func (s *AuditStore) List(ctx context.Context, filter core.AuditFilter) ([]core.AuditEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: audit store is not configured")
	}
	var records []auditEventRecord
	query := s.db.NewSelect().Model(&records)
	if value := strings.TrimSpace(filter.UserID); value != "" {
		query = query.Where("?TableAlias.user_id = ?", value)
	}
	if value := strings.TrimSpace(filter.IntegrationID); value != "" {
		query = query.Where("?TableAlias.integration_id = ?", value)
	}
	if value := normalizeProviderID(filter.ProviderID); value != "" {
		query = query.Where("?TableAlias.provider_id = ?", value)
	}
	if filter.Action != "" {
		query = query.Where("?TableAlias.action = ?", string(filter.Action))
	}
	if filter.Success != nil {
		query = query.Where("?TableAlias.success = ?", *filter.Success)
	}
	if !filter.Since.IsZero() {
		query = query.Where("?TableAlias.occurred_at >= ?", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query = query.Where("?TableAlias.occurred_at <= ?", filter.Until.UTC())
	}
	query = query.
		OrderExpr("?TableAlias.occurred_at DESC").
		OrderExpr("?TableAlias.id DESC")
	// SQLite rejects OFFSET without LIMIT, so an unbounded page is sliced here.
	offset := 0
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
		if filter.Offset > 0 {
			query = query.Offset(filter.Offset)
		}
	} else if filter.Offset > 0 {
		offset = filter.Offset
	}
	if err := query.Scan(ctx); err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if offset >= len(records) {
		records = nil
	} else {
		records = records[offset:]
	}
	out := make([]core.AuditEvent, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}
