package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryIntegrationStore is the in-process IntegrationStore. The active
// uniqueness rule is checked under the same lock as the write.
type MemoryIntegrationStore struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]Integration
}

func NewMemoryIntegrationStore() *MemoryIntegrationStore {
	return &MemoryIntegrationStore{
		now:     func() time.Time { return time.Now().UTC() },
		records: map[string]Integration{},
	}
}

func (s *MemoryIntegrationStore) Create(_ context.Context, in CreateIntegrationInput) (Integration, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return Integration{}, NewValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(in.ProviderID) == "" {
		return Integration{}, NewValidationError("provider_id", "provider id is required")
	}
	now := s.now()
	record := Integration{
		ID:            uuid.NewString(),
		UserID:        strings.TrimSpace(in.UserID),
		ProviderID:    normalizeProviderID(in.ProviderID),
		Status:        IntegrationStatusPending,
		GrantedScopes: normalizeScopes(in.Scopes),
		SyncMetadata:  copyAnyMap(in.SyncMetadata),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.mu.Lock()
	s.records[record.ID] = record.Clone()
	s.mu.Unlock()
	return record, nil
}

func (s *MemoryIntegrationStore) Get(_ context.Context, id string) (Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return Integration{}, ErrIntegrationNotFound
	}
	return record.Clone(), nil
}

func (s *MemoryIntegrationStore) ListByUser(_ context.Context, userID string) ([]Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Integration{}
	for _, record := range s.records {
		if record.UserID == strings.TrimSpace(userID) {
			out = append(out, record.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryIntegrationStore) FindActive(_ context.Context, userID string, providerID string) (Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.activeLocked(userID, providerID, ""); ok {
		return record.Clone(), nil
	}
	return Integration{}, ErrIntegrationNotFound
}

func (s *MemoryIntegrationStore) Update(_ context.Context, integration Integration, expected IntegrationStatus) (Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[integration.ID]
	if !ok {
		return Integration{}, ErrIntegrationNotFound
	}
	if current.Status != expected {
		return Integration{}, fmt.Errorf("%w: expected %s, found %s", ErrIntegrationStale, expected, current.Status)
	}
	if integration.Status == IntegrationStatusActive {
		if existing, found := s.activeLocked(current.UserID, current.ProviderID, current.ID); found {
			return Integration{}, &ConflictError{UserID: current.UserID, ProviderID: current.ProviderID, ExistingID: existing.ID}
		}
	}
	updated := integration.Clone()
	updated.UserID = current.UserID
	updated.ProviderID = current.ProviderID
	updated.CreatedAt = current.CreatedAt
	if updated.UpdatedAt.IsZero() {
		updated.UpdatedAt = s.now()
	}
	s.records[updated.ID] = updated
	return updated.Clone(), nil
}

func (s *MemoryIntegrationStore) activeLocked(userID string, providerID string, excludeID string) (Integration, bool) {
	userID = strings.TrimSpace(userID)
	providerID = normalizeProviderID(providerID)
	for id, record := range s.records {
		if id == excludeID {
			continue
		}
		if record.UserID == userID && record.ProviderID == providerID && record.Status == IntegrationStatusActive {
			return record, true
		}
	}
	return Integration{}, false
}

type MemoryCredentialStore struct {
	mu      sync.Mutex
	records map[string]StoredCredential
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{records: map[string]StoredCredential{}}
}

func (s *MemoryCredentialStore) Upsert(_ context.Context, credential StoredCredential) error {
	id := strings.TrimSpace(credential.IntegrationID)
	if id == "" {
		return NewValidationError("integration_id", "integration id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[id]; ok {
		credential.CreatedAt = existing.CreatedAt
		if credential.UsageCount == 0 {
			credential.UsageCount = existing.UsageCount
		}
		if credential.LastUsedAt == nil {
			credential.LastUsedAt = cloneTimePointer(existing.LastUsedAt)
		}
	}
	credential.Ciphertext = append([]byte(nil), credential.Ciphertext...)
	s.records[id] = credential
	return nil
}

func (s *MemoryCredentialStore) Get(_ context.Context, integrationID string) (StoredCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(integrationID)]
	if !ok {
		return StoredCredential{}, ErrCredentialNotFound
	}
	record.Ciphertext = append([]byte(nil), record.Ciphertext...)
	record.LastUsedAt = cloneTimePointer(record.LastUsedAt)
	return record, nil
}

func (s *MemoryCredentialStore) Delete(_ context.Context, integrationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strings.TrimSpace(integrationID)
	if _, ok := s.records[id]; !ok {
		return ErrCredentialNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryCredentialStore) MarkUsed(_ context.Context, integrationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strings.TrimSpace(integrationID)
	record, ok := s.records[id]
	if !ok {
		return ErrCredentialNotFound
	}
	usedAt := at.UTC()
	record.UsageCount++
	record.LastUsedAt = &usedAt
	s.records[id] = record
	return nil
}

func (s *MemoryCredentialStore) ListExpiring(_ context.Context, before time.Time, limit int) ([]StoredCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []StoredCredential{}
	for _, record := range s.records {
		if !record.ExpiresAt.After(before) {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type MemoryConsentStore struct {
	mu      sync.Mutex
	order   []string
	records map[string]ConsentRecord
}

func NewMemoryConsentStore() *MemoryConsentStore {
	return &MemoryConsentStore{records: map[string]ConsentRecord{}}
}

func (s *MemoryConsentStore) Append(_ context.Context, record ConsentRecord) (ConsentRecord, error) {
	if strings.TrimSpace(record.IntegrationID) == "" {
		return ConsentRecord{}, NewValidationError("integration_id", "integration id is required")
	}
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if record.GrantedAt.IsZero() {
		record.GrantedAt = time.Now().UTC()
	}
	record.Scopes = append([]string{}, record.Scopes...)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return ConsentRecord{}, fmt.Errorf("core: consent record %q already exists", record.ID)
	}
	s.records[record.ID] = record
	s.order = append(s.order, record.ID)
	return record, nil
}

func (s *MemoryConsentStore) Get(_ context.Context, id string) (ConsentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return ConsentRecord{}, ErrConsentNotFound
	}
	return cloneConsentRecord(record), nil
}

func (s *MemoryConsentStore) MarkRevoked(_ context.Context, id string, reason string, at time.Time) (ConsentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = strings.TrimSpace(id)
	record, ok := s.records[id]
	if !ok {
		return ConsentRecord{}, ErrConsentNotFound
	}
	if record.Revoked {
		return cloneConsentRecord(record), nil
	}
	revokedAt := at.UTC()
	record.Revoked = true
	record.RevokedAt = &revokedAt
	record.RevokedReason = reason
	s.records[id] = record
	return cloneConsentRecord(record), nil
}

func (s *MemoryConsentStore) ListByIntegration(_ context.Context, integrationID string) ([]ConsentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ConsentRecord{}
	for _, id := range s.order {
		record := s.records[id]
		if record.IntegrationID == integrationID {
			out = append(out, cloneConsentRecord(record))
		}
	}
	return out, nil
}

func cloneConsentRecord(record ConsentRecord) ConsentRecord {
	cloned := record
	cloned.Scopes = append([]string{}, record.Scopes...)
	cloned.ExpiresAt = cloneTimePointer(record.ExpiresAt)
	cloned.RevokedAt = cloneTimePointer(record.RevokedAt)
	return cloned
}

type MemoryAuditStore struct {
	mu     sync.Mutex
	events []AuditEvent
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Append(_ context.Context, event AuditEvent) error {
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	event.Metadata = copyAnyMap(event.Metadata)
	event.Scopes = append([]string{}, event.Scopes...)
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

// List returns matching events newest first.
func (s *MemoryAuditStore) List(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []AuditEvent{}
	for i := len(s.events) - 1; i >= 0; i-- {
		if MatchesAuditFilter(s.events[i], filter) {
			out = append(out, s.events[i])
		}
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []AuditEvent{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// MemoryStores bundles the in-process stores behind StoreProvider.
type MemoryStores struct {
	state        *MemoryStateStore
	integrations *MemoryIntegrationStore
	credentials  *MemoryCredentialStore
	consents     *MemoryConsentStore
	audit        *MemoryAuditStore
	leases       *MemoryLeaseLocker
}

func NewMemoryStores(stateTTL time.Duration) *MemoryStores {
	return &MemoryStores{
		state:        NewMemoryStateStore(stateTTL),
		integrations: NewMemoryIntegrationStore(),
		credentials:  NewMemoryCredentialStore(),
		consents:     NewMemoryConsentStore(),
		audit:        NewMemoryAuditStore(),
		leases:       NewMemoryLeaseLocker(),
	}
}

func (m *MemoryStores) StateStore() StateStore             { return m.state }
func (m *MemoryStores) IntegrationStore() IntegrationStore { return m.integrations }
func (m *MemoryStores) CredentialStore() CredentialStore   { return m.credentials }
func (m *MemoryStores) ConsentStore() ConsentStore         { return m.consents }
func (m *MemoryStores) AuditStore() AuditStore             { return m.audit }
func (m *MemoryStores) LeaseLocker() LeaseLocker           { return m.leases }
