package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ Registry           = (*ProviderRegistry)(nil)
	_ IntegrationService = (*Service)(nil)
	_ StateStore         = (*MemoryStateStore)(nil)
	_ StatePurger        = (*MemoryStateStore)(nil)
	_ IntegrationStore   = (*MemoryIntegrationStore)(nil)
	_ CredentialStore    = (*MemoryCredentialStore)(nil)
	_ ConsentStore       = (*MemoryConsentStore)(nil)
	_ AuditStore         = (*MemoryAuditStore)(nil)
	_ LeaseLocker        = (*MemoryLeaseLocker)(nil)
	_ StoreProvider      = (*MemoryStores)(nil)
	_ BackoffScheduler   = ExponentialBackoffScheduler{}
	_ CredentialCodec    = JSONCredentialCodec{}
	_ Signer             = BearerTokenSigner{}

	_ ServiceErrorConverter = (*ValidationError)(nil)
	_ ServiceErrorConverter = (*StateError)(nil)
	_ ServiceErrorConverter = (*ProviderError)(nil)
	_ ServiceErrorConverter = (*CredentialError)(nil)
	_ ServiceErrorConverter = (*ConflictError)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
