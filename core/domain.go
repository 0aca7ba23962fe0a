package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidIntegrationStatusTransition = errors.New("core: invalid integration status transition")
	ErrIntegrationNotFound                = errors.New("core: integration not found")
	ErrCredentialNotFound                 = errors.New("core: credential not found")
	ErrConsentNotFound                    = errors.New("core: consent record not found")
	ErrActiveIntegrationExists            = errors.New("core: active integration already exists")
	ErrLeaseHeld                          = errors.New("core: lease already held")
	ErrLeaseLost                          = errors.New("core: lease lost to another holder")
	ErrRefreshBackingOff                  = errors.New("core: refresh backing off after recent failure")
)

type ProviderKind string

const (
	ProviderKindCalendar ProviderKind = "calendar"
	ProviderKindMail     ProviderKind = "mail"
	ProviderKindNotes    ProviderKind = "notes"
	ProviderKindVideo    ProviderKind = "video"
)

type IntegrationStatus string

const (
	IntegrationStatusPending IntegrationStatus = "pending"
	IntegrationStatusActive  IntegrationStatus = "active"
	IntegrationStatusError   IntegrationStatus = "error"
	IntegrationStatusRevoked IntegrationStatus = "revoked"
)

func (s IntegrationStatus) Valid() bool {
	switch s {
	case IntegrationStatusPending, IntegrationStatusActive, IntegrationStatusError, IntegrationStatusRevoked:
		return true
	default:
		return false
	}
}

func (s IntegrationStatus) Terminal() bool {
	return s == IntegrationStatusRevoked
}

// CanTransitionTo reports whether the state machine allows current -> next.
// revoked has no outgoing edges.
func (s IntegrationStatus) CanTransitionTo(next IntegrationStatus) bool {
	allowed := map[IntegrationStatus]map[IntegrationStatus]struct{}{
		IntegrationStatusPending: {
			IntegrationStatusActive:  {},
			IntegrationStatusError:   {},
			IntegrationStatusRevoked: {},
		},
		IntegrationStatusActive: {
			IntegrationStatusError:   {},
			IntegrationStatusRevoked: {},
		},
		IntegrationStatusError: {
			IntegrationStatusActive:  {},
			IntegrationStatusRevoked: {},
		},
	}
	_, ok := allowed[s][next]
	return ok
}

type Integration struct {
	ID             string
	UserID         string
	ProviderID     string
	Status         IntegrationStatus
	GrantedScopes  []string
	ProviderUserID string
	SyncMetadata   map[string]any
	ErrorCount     int
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	RevokedAt      *time.Time
}

func (i *Integration) TransitionTo(status IntegrationStatus, reason string, now time.Time) error {
	if i == nil {
		return nil
	}
	if i.Status == status {
		i.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			i.LastError = strings.TrimSpace(reason)
		}
		return nil
	}
	if !i.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidIntegrationStatusTransition, i.Status, status)
	}
	i.Status = status
	i.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		i.LastError = strings.TrimSpace(reason)
	}
	switch status {
	case IntegrationStatusActive:
		i.LastError = ""
		i.ErrorCount = 0
	case IntegrationStatusRevoked:
		revokedAt := now
		i.RevokedAt = &revokedAt
	}
	return nil
}

func (i Integration) Clone() Integration {
	cloned := i
	cloned.GrantedScopes = append([]string(nil), i.GrantedScopes...)
	cloned.SyncMetadata = copyAnyMap(i.SyncMetadata)
	cloned.RevokedAt = cloneTimePointer(i.RevokedAt)
	return cloned
}

type AuthorizationState struct {
	State           string
	UserID          string
	ProviderID      string
	RequestedScopes []string
	RedirectURI     string
	CodeVerifier    string
	CodeChallenge   string
	ChallengeMethod string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	Used            bool
	UsedAt          *time.Time
}

func (s AuthorizationState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// AuthorizationRequest is the claimed form of an AuthorizationState handed to
// the callback flow.
type AuthorizationRequest struct {
	State           string
	UserID          string
	ProviderID      string
	RequestedScopes []string
	RedirectURI     string
	CodeVerifier    string
	IssuedAt        time.Time
}

type CredentialSet struct {
	IntegrationID string
	AccessToken   string
	RefreshToken  string
	TokenType     string
	ExpiresAt     time.Time
	Scopes        []string
	UsageCount    int64
	LastUsedAt    *time.Time
}

func (c CredentialSet) Validate() error {
	if strings.TrimSpace(c.AccessToken) == "" {
		return fmt.Errorf("core: access token is required")
	}
	if c.ExpiresAt.IsZero() {
		return fmt.Errorf("core: credential expiry is required")
	}
	return nil
}

func (c CredentialSet) Refreshable() bool {
	return strings.TrimSpace(c.RefreshToken) != ""
}

type ConsentEvidence struct {
	IPAddress      string
	UserAgent      string
	ConsentVersion string
}

type ConsentRecord struct {
	ID            string
	IntegrationID string
	UserID        string
	ProviderID    string
	Scopes        []string
	GrantedAt     time.Time
	ExpiresAt     *time.Time
	Evidence      ConsentEvidence
	Revoked       bool
	RevokedReason string
	RevokedAt     *time.Time
}

// Effective reports whether the record still authorizes its scopes at now.
func (r ConsentRecord) Effective(now time.Time) bool {
	if r.Revoked {
		return false
	}
	if r.ExpiresAt != nil && !now.Before(*r.ExpiresAt) {
		return false
	}
	return true
}

type ScopeDescriptor struct {
	ProviderID    string
	ScopeID       string
	ProviderScope string
	DisplayName   string
	Description   string
	Category      string
	Required      bool
	Dangerous     bool
}

type AuditAction string

const (
	AuditActionConnect    AuditAction = "connect"
	AuditActionDisconnect AuditAction = "disconnect"
	AuditActionRefresh    AuditAction = "refresh"
	AuditActionRevoke     AuditAction = "revoke"
	AuditActionAPICall    AuditAction = "api_call"
	AuditActionError      AuditAction = "error"
)

func (a AuditAction) Valid() bool {
	switch a {
	case AuditActionConnect, AuditActionDisconnect, AuditActionRefresh,
		AuditActionRevoke, AuditActionAPICall, AuditActionError:
		return true
	default:
		return false
	}
}

type AuditEvent struct {
	ID            string
	IntegrationID string
	UserID        string
	Action        AuditAction
	ProviderID    string
	Scopes        []string
	Success       bool
	Error         string
	Duration      time.Duration
	Metadata      map[string]any
	OccurredAt    time.Time
}

type AuditFilter struct {
	UserID        string
	IntegrationID string
	ProviderID    string
	Action        AuditAction
	Success       *bool
	Since         time.Time
	Until         time.Time
	Limit         int
	Offset        int
}

// TokenSet is the normalized provider token endpoint response.
type TokenSet struct {
	AccessToken    string
	RefreshToken   string
	TokenType      string
	ExpiresAt      time.Time
	Scopes         []string
	ProviderUserID string
	Raw            map[string]any
}

type AccessToken struct {
	IntegrationID string
	ProviderID    string
	Token         string
	TokenType     string
	ExpiresAt     time.Time
	Scopes        []string
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	cloned := value.UTC()
	return &cloned
}
