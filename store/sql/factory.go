package sqlstore

import (
	"fmt"
	"time"

	"github.com/goliatone/go-integrations/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds the SQL-backed stores from a bun database or a
// go-persistence-bun client. It satisfies both core.RepositoryStoreFactory
// and core.StoreProvider.
type RepositoryFactory struct {
	db       *bun.DB
	stateTTL time.Duration
	cache    repositorycache.CacheService

	stateStore       *StateStore
	integrationStore core.IntegrationStore
	credentialStore  *CredentialStore
	consentStore     *ConsentStore
	auditStore       *AuditStore
	leaseLocker      *LeaseLocker
}

type FactoryOption func(*RepositoryFactory)

// WithStateTTL sets the lifetime of issued authorization states.
func WithStateTTL(ttl time.Duration) FactoryOption {
	return func(f *RepositoryFactory) {
		f.stateTTL = ttl
	}
}

// WithIntegrationCache fronts integration reads with cacheService.
func WithIntegrationCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cache = cacheService
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{stateTTL: defaultStateTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.stateStore != nil && f.integrationStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) StateStore() core.StateStore {
	if f == nil || f.stateStore == nil {
		return nil
	}
	return f.stateStore
}

func (f *RepositoryFactory) IntegrationStore() core.IntegrationStore {
	if f == nil {
		return nil
	}
	return f.integrationStore
}

func (f *RepositoryFactory) CredentialStore() core.CredentialStore {
	if f == nil || f.credentialStore == nil {
		return nil
	}
	return f.credentialStore
}

func (f *RepositoryFactory) ConsentStore() core.ConsentStore {
	if f == nil || f.consentStore == nil {
		return nil
	}
	return f.consentStore
}

func (f *RepositoryFactory) AuditStore() core.AuditStore {
	if f == nil || f.auditStore == nil {
		return nil
	}
	return f.auditStore
}

func (f *RepositoryFactory) LeaseLocker() core.LeaseLocker {
	if f == nil || f.leaseLocker == nil {
		return nil
	}
	return f.leaseLocker
}

func (f *RepositoryFactory) initStores() error {
	stateStore, err := NewStateStore(f.db, f.stateTTL)
	if err != nil {
		return err
	}
	integrationStore, err := NewIntegrationStore(f.db)
	if err != nil {
		return err
	}
	credentialStore, err := NewCredentialStore(f.db)
	if err != nil {
		return err
	}
	consentStore, err := NewConsentStore(f.db)
	if err != nil {
		return err
	}
	auditStore, err := NewAuditStore(f.db)
	if err != nil {
		return err
	}
	leaseLocker, err := NewLeaseLocker(f.db)
	if err != nil {
		return err
	}

	f.stateStore = stateStore
	f.integrationStore = integrationStore
	if f.cache != nil {
		cached, cacheErr := NewCachedIntegrationStore(integrationStore, f.cache)
		if cacheErr != nil {
			return cacheErr
		}
		f.integrationStore = cached
	}
	f.credentialStore = credentialStore
	f.consentStore = consentStore
	f.auditStore = auditStore
	f.leaseLocker = leaseLocker
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
