package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const PKCEChallengeMethodS256 = "S256"

// MemoryStateStore keeps authorization states in process. Consumed states are
// kept as tombstones so a replay is reported as already used instead of not
// found.
type MemoryStateStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]AuthorizationState
}

func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &MemoryStateStore{
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		entries: map[string]AuthorizationState{},
	}
}

func (s *MemoryStateStore) Issue(_ context.Context, in IssueStateInput) (AuthorizationState, error) {
	if s == nil {
		return AuthorizationState{}, fmt.Errorf("core: state store is not configured")
	}
	record, err := NewAuthorizationState(in, s.now(), s.ttl)
	if err != nil {
		return AuthorizationState{}, err
	}

	s.mu.Lock()
	s.entries[record.State] = cloneAuthorizationState(record)
	s.mu.Unlock()
	return record, nil
}

func (s *MemoryStateStore) Consume(_ context.Context, state string, providerID string) (AuthorizationRequest, error) {
	if s == nil {
		return AuthorizationRequest{}, fmt.Errorf("core: state store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return AuthorizationRequest{}, &StateError{Kind: StateNotFound}
	}
	now := s.now()

	s.mu.Lock()
	record, ok := s.entries[state]
	if !ok {
		s.mu.Unlock()
		return AuthorizationRequest{}, &StateError{Kind: StateNotFound, State: state}
	}
	if record.Used {
		s.mu.Unlock()
		return AuthorizationRequest{}, &StateError{Kind: StateAlreadyUsed, State: state}
	}
	if record.Expired(now) {
		s.mu.Unlock()
		return AuthorizationRequest{}, &StateError{Kind: StateExpired, State: state}
	}
	usedAt := now
	record.Used = true
	record.UsedAt = &usedAt
	s.entries[state] = record
	s.mu.Unlock()

	return ClaimedAuthorizationRequest(record, providerID)
}

// Purge drops tombstones and expired entries created before the cutoff.
func (s *MemoryStateStore) Purge(_ context.Context, before time.Time) (int, error) {
	if s == nil {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, record := range s.entries {
		if !record.CreatedAt.Before(before) {
			continue
		}
		if record.Used || record.Expired(before) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// NewAuthorizationState builds a fresh single-use state with a PKCE pair.
func NewAuthorizationState(in IssueStateInput, now time.Time, ttl time.Duration) (AuthorizationState, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return AuthorizationState{}, NewValidationError("user_id", "user id is required")
	}
	providerID := strings.TrimSpace(in.ProviderID)
	if providerID == "" {
		return AuthorizationState{}, NewValidationError("provider_id", "provider id is required")
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	state, err := generateOAuthState()
	if err != nil {
		return AuthorizationState{}, err
	}
	verifier := oauth2.GenerateVerifier()
	return AuthorizationState{
		State:           state,
		UserID:          userID,
		ProviderID:      providerID,
		RequestedScopes: append([]string(nil), in.Scopes...),
		RedirectURI:     strings.TrimSpace(in.RedirectURI),
		CodeVerifier:    verifier,
		CodeChallenge:   oauth2.S256ChallengeFromVerifier(verifier),
		ChallengeMethod: PKCEChallengeMethodS256,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}, nil
}

// ClaimedAuthorizationRequest converts a claimed state into the request the
// callback uses. The state is already burned when the provider differs.
func ClaimedAuthorizationRequest(record AuthorizationState, providerID string) (AuthorizationRequest, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID != "" && !strings.EqualFold(providerID, record.ProviderID) {
		return AuthorizationRequest{}, &StateError{Kind: StateProviderMismatch, State: record.State}
	}
	return AuthorizationRequest{
		State:           record.State,
		UserID:          record.UserID,
		ProviderID:      record.ProviderID,
		RequestedScopes: append([]string(nil), record.RequestedScopes...),
		RedirectURI:     record.RedirectURI,
		CodeVerifier:    record.CodeVerifier,
		IssuedAt:        record.CreatedAt,
	}, nil
}

func generateOAuthState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func cloneAuthorizationState(record AuthorizationState) AuthorizationState {
	cloned := record
	cloned.RequestedScopes = append([]string(nil), record.RequestedScopes...)
	cloned.UsedAt = cloneTimePointer(record.UsedAt)
	return cloned
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
