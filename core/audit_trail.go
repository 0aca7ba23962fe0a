package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	defaultAuditListLimit = 100
	maxAuditListLimit     = 1000
)

// AuditTrail appends redacted audit events. It never stores token material.
type AuditTrail struct {
	store AuditStore
	now   func() time.Time
}

func NewAuditTrail(store AuditStore) *AuditTrail {
	return &AuditTrail{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuditTrail) Record(ctx context.Context, event AuditEvent) error {
	if a == nil || a.store == nil {
		return fmt.Errorf("core: audit store is not configured")
	}
	if !event.Action.Valid() {
		return NewValidationError("action", "unsupported audit action %q", event.Action)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.now()
	}
	event.Scopes = append([]string{}, event.Scopes...)
	event.Metadata = RedactSensitiveMap(event.Metadata)
	event.Error = redactErrorDetail(event.Error)
	return a.store.Append(ctx, event)
}

func (a *AuditTrail) List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	if a == nil || a.store == nil {
		return nil, fmt.Errorf("core: audit store is not configured")
	}
	if filter.Action != "" && !filter.Action.Valid() {
		return nil, NewValidationError("action", "unsupported audit action %q", filter.Action)
	}
	if !filter.Since.IsZero() && !filter.Until.IsZero() && filter.Until.Before(filter.Since) {
		return nil, NewValidationError("until", "until must not be before since")
	}
	filter.Limit = normalizeAuditLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return a.store.List(ctx, filter)
}

func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultAuditListLimit
	case limit > maxAuditListLimit:
		return maxAuditListLimit
	default:
		return limit
	}
}

// redactErrorDetail masks bearer values that upstream error bodies sometimes
// echo back.
func redactErrorDetail(detail string) string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return ""
	}
	fields := strings.Fields(detail)
	for i := 0; i < len(fields)-1; i++ {
		if strings.EqualFold(fields[i], "bearer") {
			fields[i+1] = RedactedValue
		}
	}
	return strings.Join(fields, " ")
}

// MatchesAuditFilter is shared by the in-memory store and tests.
func MatchesAuditFilter(event AuditEvent, filter AuditFilter) bool {
	if filter.UserID != "" && event.UserID != filter.UserID {
		return false
	}
	if filter.IntegrationID != "" && event.IntegrationID != filter.IntegrationID {
		return false
	}
	if filter.ProviderID != "" && !strings.EqualFold(event.ProviderID, filter.ProviderID) {
		return false
	}
	if filter.Action != "" && event.Action != filter.Action {
		return false
	}
	if filter.Success != nil && event.Success != *filter.Success {
		return false
	}
	if !filter.Since.IsZero() && event.OccurredAt.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && event.OccurredAt.After(filter.Until) {
		return false
	}
	return true
}
