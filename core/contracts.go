package core

import (
	"context"
	"errors"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// ErrIntegrationStale is returned when a compare-and-set update finds the row
// in a different status than expected.
var ErrIntegrationStale = errors.New("core: integration was modified concurrently")

type AuthorizationURLRequest struct {
	State               string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
}

type ExchangeRequest struct {
	Code         string
	RedirectURI  string
	CodeVerifier string
}

// Provider is the per-provider protocol adapter. Scopes passed to and
// returned from a Provider are provider-native strings; translation to and
// from catalog scope ids happens in the Service.
type Provider interface {
	ID() string
	Kind() ProviderKind

	BuildAuthorizationURL(ctx context.Context, req AuthorizationURLRequest) (string, error)
	ExchangeCode(ctx context.Context, req ExchangeRequest) (TokenSet, error)
	RefreshToken(ctx context.Context, refreshToken string, scopes []string) (TokenSet, error)
	RevokeToken(ctx context.Context, token string) error
	FetchProviderUserID(ctx context.Context, accessToken string) (string, error)
}

type Registry interface {
	Register(provider Provider) error
	Get(providerID string) (Provider, bool)
	List() []Provider
}

type IssueStateInput struct {
	UserID      string
	ProviderID  string
	Scopes      []string
	RedirectURI string
}

type StateStore interface {
	Issue(ctx context.Context, in IssueStateInput) (AuthorizationState, error)
	// Consume atomically claims a state. Concurrent callers racing on the same
	// token observe exactly one success.
	Consume(ctx context.Context, state string, providerID string) (AuthorizationRequest, error)
}

type StatePurger interface {
	Purge(ctx context.Context, before time.Time) (int, error)
}

type CreateIntegrationInput struct {
	UserID       string
	ProviderID   string
	Scopes       []string
	SyncMetadata map[string]any
}

type IntegrationStore interface {
	Create(ctx context.Context, in CreateIntegrationInput) (Integration, error)
	Get(ctx context.Context, id string) (Integration, error)
	ListByUser(ctx context.Context, userID string) ([]Integration, error)
	FindActive(ctx context.Context, userID string, providerID string) (Integration, error)
	// Update persists the mutable fields of integration when the stored status
	// still equals expected. Activating a second row for the same
	// (user, provider) fails with ErrActiveIntegrationExists.
	Update(ctx context.Context, integration Integration, expected IntegrationStatus) (Integration, error)
}

type StoredCredential struct {
	IntegrationID  string
	Ciphertext     []byte
	PayloadFormat  string
	PayloadVersion int
	KeyID          string
	KeyVersion     int
	TokenType      string
	ExpiresAt      time.Time
	UsageCount     int64
	LastUsedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CredentialStore keeps only the latest credential per integration.
type CredentialStore interface {
	Upsert(ctx context.Context, credential StoredCredential) error
	Get(ctx context.Context, integrationID string) (StoredCredential, error)
	Delete(ctx context.Context, integrationID string) error
	MarkUsed(ctx context.Context, integrationID string, at time.Time) error
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]StoredCredential, error)
}

type ConsentStore interface {
	Append(ctx context.Context, record ConsentRecord) (ConsentRecord, error)
	Get(ctx context.Context, id string) (ConsentRecord, error)
	// MarkRevoked records the revocation fact once. Revoking a revoked record
	// returns it unchanged.
	MarkRevoked(ctx context.Context, id string, reason string, at time.Time) (ConsentRecord, error)
	ListByIntegration(ctx context.Context, integrationID string) ([]ConsentRecord, error)
}

type AuditStore interface {
	Append(ctx context.Context, event AuditEvent) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

// CredentialCipher seals credential payloads bound to one integration.
type CredentialCipher interface {
	Encrypt(ctx context.Context, integrationID string, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, integrationID string, ciphertext []byte) ([]byte, error)
}

// CredentialRewrapper re-seals ciphertext under the active master key without
// opening the credential payload.
type CredentialRewrapper interface {
	NeedsRewrap(ciphertext []byte) (bool, error)
	Rewrap(ctx context.Context, integrationID string, ciphertext []byte) ([]byte, error)
}

// KeyMetadataProvider exposes the active master key reference.
type KeyMetadataProvider interface {
	Metadata() (keyID string, version int)
}

// LockHandle is an owned lease. Extend renews the lease for ttl from now and
// fails with ErrLeaseLost once another holder has taken it over.
type LockHandle interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Unlock(ctx context.Context) error
}

// LeaseLocker serializes work per key across instances. Acquire fails with an
// error wrapping ErrLeaseHeld while another holder owns an unexpired lease.
type LeaseLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

type BackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type StoreProvider interface {
	StateStore() StateStore
	IntegrationStore() IntegrationStore
	CredentialStore() CredentialStore
	ConsentStore() ConsentStore
	AuditStore() AuditStore
	LeaseLocker() LeaseLocker
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// IntegrationService is the surface exposed to the API/CLI layer and to
// downstream domain tools.
type IntegrationService interface {
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error)
	Callback(ctx context.Context, req CallbackRequest) (CallbackResponse, error)
	ListIntegrations(ctx context.Context, userID string) ([]Integration, error)
	Disconnect(ctx context.Context, userID string, integrationID string) error
	GetAuditLog(ctx context.Context, userID string, filter AuditFilter) ([]AuditEvent, error)
	GetValidAccessToken(ctx context.Context, integrationID string) (AccessToken, error)
	ScopeCatalog(providerID string) []ScopeDescriptor
}
