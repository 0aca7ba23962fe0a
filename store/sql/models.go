package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type stateRecord struct {
	bun.BaseModel `bun:"table:integration_oauth_states,alias:ios"`

	State           string     `bun:"state,pk"`
	UserID          string     `bun:"user_id,notnull"`
	ProviderID      string     `bun:"provider_id,notnull"`
	RequestedScopes []string   `bun:"requested_scopes,type:jsonb,notnull"`
	RedirectURI     string     `bun:"redirect_uri,notnull"`
	CodeVerifier    string     `bun:"code_verifier,notnull"`
	CodeChallenge   string     `bun:"code_challenge,notnull"`
	ChallengeMethod string     `bun:"challenge_method,notnull"`
	Used            bool       `bun:"used,notnull"`
	UsedAt          *time.Time `bun:"used_at,nullzero"`
	CreatedAt       time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt       time.Time  `bun:"expires_at,notnull"`
}

type integrationRecord struct {
	bun.BaseModel `bun:"table:integrations,alias:ig"`

	ID             string         `bun:"id,pk"`
	UserID         string         `bun:"user_id,notnull"`
	ProviderID     string         `bun:"provider_id,notnull"`
	Status         string         `bun:"status,notnull"`
	GrantedScopes  []string       `bun:"granted_scopes,type:jsonb,notnull"`
	ProviderUserID string         `bun:"provider_user_id,notnull"`
	SyncMetadata   map[string]any `bun:"sync_metadata,type:jsonb,notnull"`
	ErrorCount     int            `bun:"error_count,notnull"`
	LastError      string         `bun:"last_error,notnull"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	RevokedAt      *time.Time     `bun:"revoked_at,nullzero"`
}

type credentialRecord struct {
	bun.BaseModel `bun:"table:integration_credentials,alias:icr"`

	IntegrationID  string     `bun:"integration_id,pk"`
	Ciphertext     []byte     `bun:"ciphertext,notnull"`
	PayloadFormat  string     `bun:"payload_format,notnull"`
	PayloadVersion int        `bun:"payload_version,notnull"`
	KeyID          string     `bun:"key_id,notnull"`
	KeyVersion     int        `bun:"key_version,notnull"`
	TokenType      string     `bun:"token_type,notnull"`
	ExpiresAt      time.Time  `bun:"expires_at,notnull"`
	UsageCount     int64      `bun:"usage_count,notnull"`
	LastUsedAt     *time.Time `bun:"last_used_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type consentRecord struct {
	bun.BaseModel `bun:"table:integration_consents,alias:ic"`

	ID             string     `bun:"id,pk"`
	IntegrationID  string     `bun:"integration_id,notnull"`
	UserID         string     `bun:"user_id,notnull"`
	ProviderID     string     `bun:"provider_id,notnull"`
	Scopes         []string   `bun:"scopes,type:jsonb,notnull"`
	GrantedAt      time.Time  `bun:"granted_at,notnull"`
	ExpiresAt      *time.Time `bun:"expires_at,nullzero"`
	IPAddress      string     `bun:"ip_address,notnull"`
	UserAgent      string     `bun:"user_agent,notnull"`
	ConsentVersion string     `bun:"consent_version,notnull"`
	Revoked        bool       `bun:"revoked,notnull"`
	RevokedReason  string     `bun:"revoked_reason,notnull"`
	RevokedAt      *time.Time `bun:"revoked_at,nullzero"`
	Sequence       int64      `bun:"sequence,notnull"`
}

type auditEventRecord struct {
	bun.BaseModel `bun:"table:integration_audit_events,alias:iae"`

	ID            string         `bun:"id,pk"`
	IntegrationID string         `bun:"integration_id,notnull"`
	UserID        string         `bun:"user_id,notnull"`
	Action        string         `bun:"action,notnull"`
	ProviderID    string         `bun:"provider_id,notnull"`
	Scopes        []string       `bun:"scopes,type:jsonb,notnull"`
	Success       bool           `bun:"success,notnull"`
	Error         string         `bun:"error,notnull"`
	DurationMS    int64          `bun:"duration_ms,notnull"`
	Metadata      map[string]any `bun:"metadata,type:jsonb,notnull"`
	OccurredAt    time.Time      `bun:"occurred_at,notnull"`
}

type leaseRecord struct {
	bun.BaseModel `bun:"table:integration_leases,alias:il"`

	Key        string    `bun:"lease_key,pk"`
	Owner      string    `bun:"owner_token,notnull"`
	AcquiredAt time.Time `bun:"acquired_at,notnull"`
	ExpiresAt  time.Time `bun:"expires_at,notnull"`
}
