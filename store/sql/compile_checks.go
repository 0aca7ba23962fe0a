package sqlstore

import "github.com/goliatone/go-integrations/core"

var (
	_ core.StateStore             = (*StateStore)(nil)
	_ core.StatePurger            = (*StateStore)(nil)
	_ core.IntegrationStore       = (*IntegrationStore)(nil)
	_ core.IntegrationStore       = (*CachedIntegrationStore)(nil)
	_ core.CredentialStore        = (*CredentialStore)(nil)
	_ core.ConsentStore           = (*ConsentStore)(nil)
	_ core.AuditStore             = (*AuditStore)(nil)
	_ core.LeaseLocker            = (*LeaseLocker)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
