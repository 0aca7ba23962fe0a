package integrations

import "github.com/goliatone/go-integrations/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type (
	Provider         = core.Provider
	ProviderRegistry = core.ProviderRegistry
	ScopeCatalog     = core.ScopeCatalog
	ScopeDescriptor  = core.ScopeDescriptor
)

type (
	InitiateRequest   = core.InitiateRequest
	InitiateResponse  = core.InitiateResponse
	CallbackRequest   = core.CallbackRequest
	CallbackResponse  = core.CallbackResponse
	ConsentEvidence   = core.ConsentEvidence
	Integration       = core.Integration
	IntegrationStatus = core.IntegrationStatus
	AccessToken       = core.AccessToken
	AuditEvent        = core.AuditEvent
	AuditFilter       = core.AuditFilter
	RefreshOutcome    = core.RefreshOutcome
	RefreshScheduler  = core.RefreshScheduler
)

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorFactory      = core.WithErrorFactory
	WithErrorMapper       = core.WithErrorMapper
	WithPersistenceClient = core.WithPersistenceClient
	WithRepositoryFactory = core.WithRepositoryFactory
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithRegistry          = core.WithRegistry
	WithScopeCatalog      = core.WithScopeCatalog
	WithStateStore        = core.WithStateStore
	WithIntegrationStore  = core.WithIntegrationStore
	WithCredentialStore   = core.WithCredentialStore
	WithConsentStore      = core.WithConsentStore
	WithAuditStore        = core.WithAuditStore
	WithCredentialCipher  = core.WithCredentialCipher
	WithCredentialCodec   = core.WithCredentialCodec
	WithLeaseLocker       = core.WithLeaseLocker
	WithRetryPolicy       = core.WithRetryPolicy
	WithClock             = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
