package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConsentLedger is the append-only history of scope grants. A revocation is a
// new fact on the record, never a delete.
type ConsentLedger struct {
	store ConsentStore
	now   func() time.Time
}

func NewConsentLedger(store ConsentStore) *ConsentLedger {
	return &ConsentLedger{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type ConsentGrant struct {
	Record ConsentRecord
	Delta  ScopeDelta
}

// Record appends a grant for the integration and reports how it changed the
// effective scopes.
func (l *ConsentLedger) Record(
	ctx context.Context,
	integration Integration,
	scopes []string,
	evidence ConsentEvidence,
) (ConsentGrant, error) {
	if l == nil || l.store == nil {
		return ConsentGrant{}, fmt.Errorf("core: consent store is not configured")
	}
	if strings.TrimSpace(integration.ID) == "" {
		return ConsentGrant{}, NewValidationError("integration_id", "integration id is required")
	}
	previous, err := l.EffectiveScopes(ctx, integration.ID)
	if err != nil {
		return ConsentGrant{}, err
	}
	current := normalizeScopes(scopes)
	record, err := l.store.Append(ctx, ConsentRecord{
		IntegrationID: integration.ID,
		UserID:        integration.UserID,
		ProviderID:    integration.ProviderID,
		Scopes:        current,
		GrantedAt:     l.now(),
		Evidence:      evidence,
	})
	if err != nil {
		return ConsentGrant{}, err
	}
	return ConsentGrant{Record: record, Delta: ComputeScopeDelta(previous, current)}, nil
}

func (l *ConsentLedger) Revoke(ctx context.Context, consentID string, reason string) (ConsentRecord, error) {
	if l == nil || l.store == nil {
		return ConsentRecord{}, fmt.Errorf("core: consent store is not configured")
	}
	consentID = strings.TrimSpace(consentID)
	if consentID == "" {
		return ConsentRecord{}, NewValidationError("consent_id", "consent id is required")
	}
	return l.store.MarkRevoked(ctx, consentID, strings.TrimSpace(reason), l.now())
}

// RevokeAll revokes every open record of an integration and returns the
// records that changed.
func (l *ConsentLedger) RevokeAll(ctx context.Context, integrationID string, reason string) ([]ConsentRecord, error) {
	history, err := l.History(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	revoked := []ConsentRecord{}
	for _, record := range history {
		if record.Revoked {
			continue
		}
		updated, revokeErr := l.Revoke(ctx, record.ID, reason)
		if revokeErr != nil {
			if errors.Is(revokeErr, ErrConsentNotFound) {
				continue
			}
			return revoked, revokeErr
		}
		revoked = append(revoked, updated)
	}
	return revoked, nil
}

// EffectiveScopes returns the scopes of the most recent record that is
// neither revoked nor expired. A newer grant replaces older ones.
func (l *ConsentLedger) EffectiveScopes(ctx context.Context, integrationID string) ([]string, error) {
	history, err := l.History(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	now := l.now()
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Effective(now) {
			return append([]string{}, history[i].Scopes...), nil
		}
	}
	return []string{}, nil
}

func (l *ConsentLedger) History(ctx context.Context, integrationID string) ([]ConsentRecord, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("core: consent store is not configured")
	}
	integrationID = strings.TrimSpace(integrationID)
	if integrationID == "" {
		return nil, NewValidationError("integration_id", "integration id is required")
	}
	return l.store.ListByIntegration(ctx, integrationID)
}
