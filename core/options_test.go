package core

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

type fixedOptionsResolver struct {
	cfg Config
}

func (r *fixedOptionsResolver) Resolve(Config, Config, Config) (Config, error) {
	return r.cfg, nil
}

type failingStoreFactory struct{}

func (failingStoreFactory) BuildStores(any) (StoreProvider, error) {
	return nil, errors.New("database unavailable")
}

type recordingStoreFactory struct {
	client any
	stores *MemoryStores
}

func (f *recordingStoreFactory) BuildStores(client any) (StoreProvider, error) {
	f.client = client
	return f.stores, nil
}

func TestNewService_DefaultDependencies(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	deps := svc.Dependencies()
	if deps.Logger == nil || deps.LoggerProvider == nil {
		t.Fatalf("expected default logger and provider")
	}
	if deps.ErrorFactory == nil || deps.ErrorMapper == nil {
		t.Fatalf("expected default error factory and mapper")
	}
	if deps.ConfigProvider == nil || deps.OptionsResolver == nil {
		t.Fatalf("expected default config provider and options resolver")
	}
	if deps.StateStore == nil || deps.IntegrationStore == nil || deps.LeaseLocker == nil {
		t.Fatalf("expected in-memory stores by default")
	}
	if deps.TokenVault == nil || deps.ConsentLedger == nil || deps.AuditTrail == nil {
		t.Fatalf("expected vault, ledger and audit trail")
	}
	if got := svc.Config().ServiceName; got != "integrations" {
		t.Fatalf("expected default service_name=integrations, got %q", got)
	}
	if svc.Config().Refresh.ErrorThreshold != defaultRefreshErrorThreshold {
		t.Fatalf("expected default error threshold")
	}
}

func TestNewService_WithXOverrides(t *testing.T) {
	customLogger := stubLogger{}
	customProvider := stubLoggerProvider{logger: customLogger}
	customFactory := func(message string, category ...goerrors.Category) *goerrors.Error {
		return goerrors.New("custom:"+message, category...)
	}
	customMapper := func(error) *goerrors.Error {
		return goerrors.New("mapped", goerrors.CategoryOperation)
	}
	persistenceClient := &struct{ Name string }{Name: "persistence"}
	stores := NewMemoryStores(time.Minute)
	factory := &recordingStoreFactory{stores: stores}
	configProvider := &fixedConfigProvider{cfg: Config{ServiceName: "from-provider"}}
	resolved := DefaultConfig()
	resolved.ServiceName = "resolved"
	optionsResolver := &fixedOptionsResolver{cfg: resolved}

	svc, err := NewService(Config{ServiceName: "runtime"},
		WithLogger(customLogger),
		WithLoggerProvider(customProvider),
		WithErrorFactory(customFactory),
		WithErrorMapper(customMapper),
		WithPersistenceClient(persistenceClient),
		WithRepositoryFactory(factory),
		WithConfigProvider(configProvider),
		WithOptionsResolver(optionsResolver),
		WithCredentialCipher(testCipher{}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	deps := svc.Dependencies()
	if deps.Logger != customLogger {
		t.Fatalf("expected custom logger override")
	}
	if resolvedLogger := deps.LoggerProvider.GetLogger("integrations.override"); resolvedLogger != customLogger {
		t.Fatalf("expected logger provider to resolve custom logger")
	}
	if deps.PersistenceClient != persistenceClient || factory.client != persistenceClient {
		t.Fatalf("expected persistence client to reach the store factory")
	}
	if deps.IntegrationStore != stores.IntegrationStore() {
		t.Fatalf("expected stores from repository factory")
	}
	if deps.ConfigProvider != configProvider || deps.OptionsResolver != optionsResolver {
		t.Fatalf("expected config overrides")
	}
	if got := svc.Config().ServiceName; got != "resolved" {
		t.Fatalf("expected options resolver output config, got %q", got)
	}
}

func TestNewService_StoreFactoryFailureIsMapped(t *testing.T) {
	_, err := NewService(DefaultConfig(), WithRepositoryFactory(failingStoreFactory{}))
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected mapped build error, got %v", err)
	}
}

func TestNewService_ConfigLayeringPrecedence(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"service_name": "from-config",
		"refresh": map[string]any{
			"error_threshold": 7,
			"batch_size":      25,
		},
	}})

	svc, err := NewService(Config{ServiceName: "from-runtime", Refresh: RefreshConfig{BatchSize: 10}}, WithConfigProvider(provider))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	cfg := svc.Config()
	if cfg.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime value to override config/default, got %q", cfg.ServiceName)
	}
	if cfg.Refresh.ErrorThreshold != 7 {
		t.Fatalf("expected config layer threshold, got %d", cfg.Refresh.ErrorThreshold)
	}
	if cfg.Refresh.BatchSize != 10 {
		t.Fatalf("expected runtime batch size, got %d", cfg.Refresh.BatchSize)
	}
	if cfg.State.TTL != defaultStateTTL {
		t.Fatalf("expected default state ttl, got %s", cfg.State.TTL)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	cfg.Refresh.ErrorThreshold = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected zero threshold to fail")
	}

	short := DefaultConfig()
	short.Refresh.LeaseTTL = 30 * time.Second
	if err := short.Validate(); err == nil {
		t.Fatalf("expected lease ttl below the worst-case refresh to fail")
	}
	if worst := DefaultConfig().RefreshWorstCase(); worst != 46500*time.Millisecond {
		t.Fatalf("unexpected worst-case refresh duration %s", worst)
	}
	if DefaultConfig().Refresh.LeaseTTL <= DefaultConfig().RefreshWorstCase() {
		t.Fatalf("default lease ttl must outlive a worst-case refresh")
	}
	policy := DefaultConfig().RetryPolicy()
	if policy.MaxAttempts != defaultRefreshMaxAttempts || policy.Backoff == nil {
		t.Fatalf("unexpected retry policy %+v", policy)
	}
}
