package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// defaultAccessTokenTTL backs token responses that carry no expiry.
const defaultAccessTokenTTL = time.Hour

type InitiateRequest struct {
	UserID      string
	ProviderID  string
	Scopes      []string
	RedirectURI string
}

type InitiateResponse struct {
	AuthorizationURL string
	State            string
	ExpiresAt        time.Time
}

type CallbackRequest struct {
	Code       string
	State      string
	ProviderID string
	// Error carries the provider's error query parameter (for example
	// access_denied) when the user declined consent.
	Error    string
	Evidence ConsentEvidence
}

type CallbackResponse struct {
	IntegrationID string
	Status        IntegrationStatus
}

// Service is the integration registry: it orchestrates state, provider,
// vault, consent and audit for every externally visible operation.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	registry          Registry
	catalog           *ScopeCatalog
	stateStore        StateStore
	integrations      IntegrationStore
	vault             *TokenVault
	consent           *ConsentLedger
	audit             *AuditTrail
	leaseLocker       LeaseLocker
	retryPolicy       RetryPolicy
	now               func() time.Time
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	Registry          Registry
	StateStore        StateStore
	IntegrationStore  IntegrationStore
	TokenVault        *TokenVault
	ConsentLedger     *ConsentLedger
	AuditTrail        *AuditTrail
	LeaseLocker       LeaseLocker
	RetryPolicy       RetryPolicy
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("integrations", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("integrations"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewProviderRegistry()
	}
	if builder.credentialCodec == nil {
		builder.credentialCodec = JSONCredentialCodec{}
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.repositoryFactory != nil {
		var stores StoreProvider
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			built, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			stores = built
		} else if provided, ok := builder.repositoryFactory.(StoreProvider); ok {
			stores = provided
		}
		if stores != nil {
			applyStoreProvider(&builder, stores)
		}
	}
	applyStoreProvider(&builder, NewMemoryStores(finalConfig.State.TTL))

	retryPolicy := finalConfig.RetryPolicy()
	if builder.retryPolicy != nil {
		retryPolicy = *builder.retryPolicy
	}

	vault := NewTokenVault(builder.credentialStore, builder.credentialCipher, builder.credentialCodec)
	vault.now = builder.clock
	consent := NewConsentLedger(builder.consentStore)
	consent.now = builder.clock
	audit := NewAuditTrail(builder.auditStore)
	audit.now = builder.clock

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		registry:          builder.registry,
		catalog:           builder.scopeCatalog,
		stateStore:        builder.stateStore,
		integrations:      builder.integrationStore,
		vault:             vault,
		consent:           consent,
		audit:             audit,
		leaseLocker:       builder.leaseLocker,
		retryPolicy:       retryPolicy,
		now:               builder.clock,
	}, nil
}

// applyStoreProvider fills only the stores that are still unset.
func applyStoreProvider(b *serviceBuilder, stores StoreProvider) {
	if b.stateStore == nil {
		b.stateStore = stores.StateStore()
	}
	if b.integrationStore == nil {
		b.integrationStore = stores.IntegrationStore()
	}
	if b.credentialStore == nil {
		b.credentialStore = stores.CredentialStore()
	}
	if b.consentStore == nil {
		b.consentStore = stores.ConsentStore()
	}
	if b.auditStore == nil {
		b.auditStore = stores.AuditStore()
	}
	if b.leaseLocker == nil {
		b.leaseLocker = stores.LeaseLocker()
	}
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		Registry:          s.registry,
		StateStore:        s.stateStore,
		IntegrationStore:  s.integrations,
		TokenVault:        s.vault,
		ConsentLedger:     s.consent,
		AuditTrail:        s.audit,
		LeaseLocker:       s.leaseLocker,
		RetryPolicy:       s.retryPolicy,
	}
}

func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (response InitiateResponse, err error) {
	startedAt := s.now()
	fields := map[string]any{
		"user_id":     req.UserID,
		"provider_id": req.ProviderID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "initiate", err, fields)
	}()

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		err = NewValidationError("user_id", "user id is required")
		return InitiateResponse{}, err
	}
	provider, err := s.resolveProvider(req.ProviderID)
	if err != nil {
		s.recordFailure(ctx, AuditEvent{UserID: userID, ProviderID: req.ProviderID, Scopes: req.Scopes}, startedAt, err)
		return InitiateResponse{}, err
	}
	scopes, err := s.ScopeCatalogIndex().Validate(provider.ID(), req.Scopes)
	if err != nil {
		s.recordFailure(ctx, AuditEvent{UserID: userID, ProviderID: provider.ID(), Scopes: req.Scopes}, startedAt, err)
		return InitiateResponse{}, err
	}

	state, err := s.stateStore.Issue(ctx, IssueStateInput{
		UserID:      userID,
		ProviderID:  provider.ID(),
		Scopes:      scopes,
		RedirectURI: req.RedirectURI,
	})
	if err != nil {
		err = s.mapError(err)
		s.recordFailure(ctx, AuditEvent{UserID: userID, ProviderID: provider.ID(), Scopes: scopes, Metadata: map[string]any{"stage": "state"}}, startedAt, err)
		return InitiateResponse{}, err
	}

	authURL, err := provider.BuildAuthorizationURL(ctx, AuthorizationURLRequest{
		State:               state.State,
		RedirectURI:         state.RedirectURI,
		Scopes:              s.ScopeCatalogIndex().ProviderScopes(provider.ID(), scopes),
		CodeChallenge:       state.CodeChallenge,
		CodeChallengeMethod: state.ChallengeMethod,
	})
	if err != nil {
		err = s.mapError(err)
		s.recordFailure(ctx, AuditEvent{UserID: userID, ProviderID: provider.ID(), Scopes: scopes}, startedAt, err)
		return InitiateResponse{}, err
	}

	return InitiateResponse{
		AuthorizationURL: authURL,
		State:            state.State,
		ExpiresAt:        state.ExpiresAt,
	}, nil
}

func (s *Service) Callback(ctx context.Context, req CallbackRequest) (response CallbackResponse, err error) {
	startedAt := s.now()
	fields := map[string]any{
		"provider_id": req.ProviderID,
	}
	defer func() {
		if response.IntegrationID != "" {
			fields["integration_id"] = response.IntegrationID
		}
		s.observeOperation(ctx, startedAt, "callback", err, fields)
	}()

	if strings.TrimSpace(req.State) == "" {
		err = NewValidationError("state", "state is required")
		return CallbackResponse{}, err
	}
	if strings.TrimSpace(req.Code) == "" && strings.TrimSpace(req.Error) == "" {
		err = NewValidationError("code", "authorization code is required")
		return CallbackResponse{}, err
	}

	authReq, err := s.stateStore.Consume(ctx, req.State, req.ProviderID)
	if err != nil {
		err = s.mapError(err)
		s.recordFailure(ctx, AuditEvent{ProviderID: req.ProviderID, Metadata: map[string]any{"stage": "state"}}, startedAt, err)
		return CallbackResponse{}, err
	}
	fields["user_id"] = authReq.UserID
	fields["provider_id"] = authReq.ProviderID
	base := AuditEvent{UserID: authReq.UserID, ProviderID: authReq.ProviderID, Scopes: authReq.RequestedScopes}

	if providerErr := strings.TrimSpace(req.Error); providerErr != "" {
		err = &ProviderError{ProviderID: authReq.ProviderID, Operation: "authorize", Code: providerErr}
		s.recordFailure(ctx, base, startedAt, err)
		return CallbackResponse{}, err
	}

	provider, err := s.resolveStoredProvider(authReq.ProviderID, map[string]any{"user_id": authReq.UserID})
	if err != nil {
		s.recordFailure(ctx, base, startedAt, err)
		return CallbackResponse{}, err
	}

	if existing, findErr := s.integrations.FindActive(ctx, authReq.UserID, authReq.ProviderID); findErr == nil {
		err = &ConflictError{UserID: authReq.UserID, ProviderID: authReq.ProviderID, ExistingID: existing.ID}
		s.recordFailure(ctx, base, startedAt, err)
		return CallbackResponse{}, err
	} else if !errors.Is(findErr, ErrIntegrationNotFound) {
		err = s.mapError(findErr)
		s.recordFailure(ctx, base, startedAt, err)
		return CallbackResponse{}, err
	}

	integration, err := s.integrations.Create(ctx, CreateIntegrationInput{
		UserID:     authReq.UserID,
		ProviderID: authReq.ProviderID,
		Scopes:     authReq.RequestedScopes,
	})
	if err != nil {
		err = s.mapError(err)
		s.recordFailure(ctx, base, startedAt, err)
		return CallbackResponse{}, err
	}
	response.IntegrationID = integration.ID
	response.Status = integration.Status

	var tokens TokenSet
	_, err = s.retryPolicy.Do(ctx, func(callCtx context.Context, _ int) error {
		var callErr error
		tokens, callErr = provider.ExchangeCode(callCtx, ExchangeRequest{
			Code:         strings.TrimSpace(req.Code),
			RedirectURI:  authReq.RedirectURI,
			CodeVerifier: authReq.CodeVerifier,
		})
		return callErr
	})
	if err != nil {
		response.Status = s.failPendingIntegration(ctx, integration, startedAt, err)
		return response, err
	}

	providerUserID := strings.TrimSpace(tokens.ProviderUserID)
	if providerUserID == "" {
		_, err = s.retryPolicy.Do(ctx, func(callCtx context.Context, _ int) error {
			var callErr error
			providerUserID, callErr = provider.FetchProviderUserID(callCtx, tokens.AccessToken)
			return callErr
		})
		if err != nil {
			response.Status = s.failPendingIntegration(ctx, integration, startedAt, err)
			return response, err
		}
	}

	granted := authReq.RequestedScopes
	if len(tokens.Scopes) > 0 {
		if mapped := s.ScopeCatalogIndex().ScopeIDs(authReq.ProviderID, tokens.Scopes); len(mapped) > 0 {
			granted = mapped
		}
	}
	granted = normalizeScopes(granted)

	if err = s.vault.Store(ctx, integration.ID, s.credentialFromTokens(tokens, CredentialSet{}, granted)); err != nil {
		err = s.mapError(err)
		response.Status = s.failPendingIntegration(ctx, integration, startedAt, err)
		return response, err
	}

	grant, err := s.consent.Record(ctx, integration, granted, req.Evidence)
	if err != nil {
		err = s.mapError(err)
		_ = s.vault.Purge(ctx, integration.ID)
		response.Status = s.failPendingIntegration(ctx, integration, startedAt, err)
		return response, err
	}

	metadata := grant.Delta.Metadata()
	metadata["consent_id"] = grant.Record.ID
	activated, err := s.transition(ctx, integration, transitionRequest{
		To:        IntegrationStatusActive,
		Action:    AuditActionConnect,
		Success:   true,
		StartedAt: startedAt,
		Metadata:  metadata,
		Mutate: func(next *Integration) {
			next.GrantedScopes = granted
			next.ProviderUserID = providerUserID
		},
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			s.discardLosingIntegration(ctx, integration, startedAt, err)
			response.Status = IntegrationStatusRevoked
			return response, err
		}
		err = s.mapError(err)
		return response, err
	}

	response.Status = activated.Status
	return response, nil
}

// failPendingIntegration moves a pending row to error for transient failures
// and to revoked for everything else.
func (s *Service) failPendingIntegration(ctx context.Context, integration Integration, startedAt time.Time, cause error) IntegrationStatus {
	next := IntegrationStatusRevoked
	if IsTransientProviderError(cause) {
		next = IntegrationStatusError
	}
	updated, err := s.transition(ctx, integration, transitionRequest{
		To:        next,
		Reason:    cause.Error(),
		Action:    AuditActionError,
		Cause:     cause,
		StartedAt: startedAt,
		Mutate: func(i *Integration) {
			i.ErrorCount++
		},
	})
	if err != nil {
		s.logError(ctx, "pending integration cleanup failed", map[string]any{
			"integration_id": integration.ID,
			"error":          err.Error(),
		})
		return integration.Status
	}
	return updated.Status
}

// discardLosingIntegration revokes a pending row that lost the activation
// race against a concurrent callback.
func (s *Service) discardLosingIntegration(ctx context.Context, integration Integration, startedAt time.Time, cause error) {
	_ = s.vault.Purge(ctx, integration.ID)
	if _, err := s.consent.RevokeAll(ctx, integration.ID, "superseded"); err != nil {
		s.logError(ctx, "consent revoke failed", map[string]any{"integration_id": integration.ID, "error": err.Error()})
	}
	s.failPendingIntegration(ctx, integration, startedAt, cause)
}

func (s *Service) ListIntegrations(ctx context.Context, userID string) (integrations []Integration, err error) {
	startedAt := s.now()
	fields := map[string]any{"user_id": userID}
	defer func() {
		fields["count"] = len(integrations)
		s.observeOperation(ctx, startedAt, "list_integrations", err, fields)
	}()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		err = NewValidationError("user_id", "user id is required")
		return nil, err
	}
	integrations, err = s.integrations.ListByUser(ctx, userID)
	if err != nil {
		err = s.mapError(err)
		return nil, err
	}
	return integrations, nil
}

func (s *Service) Disconnect(ctx context.Context, userID string, integrationID string) (err error) {
	startedAt := s.now()
	fields := map[string]any{
		"user_id":        userID,
		"integration_id": integrationID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "disconnect", err, fields)
	}()

	userID = strings.TrimSpace(userID)
	integrationID = strings.TrimSpace(integrationID)
	if userID == "" {
		err = NewValidationError("user_id", "user id is required")
		return err
	}
	if integrationID == "" {
		err = NewValidationError("integration_id", "integration id is required")
		return err
	}

	integration, err := s.integrations.Get(ctx, integrationID)
	if err != nil {
		err = s.mapError(err)
		return err
	}
	fields["provider_id"] = integration.ProviderID
	if integration.UserID != userID {
		err = NewValidationError("integration_id", "integration does not belong to user")
		s.recordFailure(ctx, AuditEvent{
			IntegrationID: integration.ID,
			UserID:        userID,
			ProviderID:    integration.ProviderID,
			Metadata:      map[string]any{"stage": "ownership"},
		}, startedAt, err)
		return err
	}
	if integration.Status == IntegrationStatusRevoked {
		return nil
	}

	metadata := map[string]any{"provider_revoke": "skipped"}
	if credential, retrieveErr := s.vault.Retrieve(ctx, integration.ID); retrieveErr == nil {
		metadata["provider_revoke"] = s.revokeAtProvider(ctx, integration, credential)
	}
	if err = s.vault.Purge(ctx, integration.ID); err != nil {
		err = s.mapError(err)
		return err
	}
	revoked, revokeErr := s.consent.RevokeAll(ctx, integration.ID, "user_disconnect")
	if revokeErr != nil {
		err = s.mapError(revokeErr)
		return err
	}
	metadata["consents_revoked"] = len(revoked)

	_, err = s.transition(ctx, integration, transitionRequest{
		To:        IntegrationStatusRevoked,
		Reason:    "disconnected by user",
		Action:    AuditActionDisconnect,
		Success:   true,
		StartedAt: startedAt,
		Metadata:  metadata,
	})
	if errors.Is(err, ErrIntegrationStale) {
		if current, getErr := s.integrations.Get(ctx, integration.ID); getErr == nil && current.Status == IntegrationStatusRevoked {
			err = nil
			return nil
		}
	}
	if err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

// revokeAtProvider is best effort. The local revocation proceeds regardless.
func (s *Service) revokeAtProvider(ctx context.Context, integration Integration, credential CredentialSet) string {
	provider, err := s.resolveStoredProvider(integration.ProviderID, map[string]any{"integration_id": integration.ID})
	if err != nil {
		return "unavailable"
	}
	token := credential.RefreshToken
	if strings.TrimSpace(token) == "" {
		token = credential.AccessToken
	}
	_, err = s.retryPolicy.Do(ctx, func(callCtx context.Context, _ int) error {
		return provider.RevokeToken(callCtx, token)
	})
	if err != nil {
		s.logError(ctx, "provider token revoke failed", map[string]any{
			"integration_id": integration.ID,
			"provider_id":    integration.ProviderID,
			"error":          err.Error(),
		})
		return "failed"
	}
	return "revoked"
}

func (s *Service) GetAuditLog(ctx context.Context, userID string, filter AuditFilter) (events []AuditEvent, err error) {
	startedAt := s.now()
	fields := map[string]any{"user_id": userID}
	defer func() {
		fields["count"] = len(events)
		s.observeOperation(ctx, startedAt, "get_audit_log", err, fields)
	}()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		err = NewValidationError("user_id", "user id is required")
		return nil, err
	}
	filter.UserID = userID
	events, err = s.audit.List(ctx, filter)
	if err != nil {
		err = s.mapError(err)
		return nil, err
	}
	return events, nil
}

// GetValidAccessToken hands out a usable access token, refreshing inline
// when it is inside the refresh window. Integrations that are not usable
// yield a CredentialError.
// shouldRefreshInline decides whether a token read may call the provider. An
// integration in error status keeps serving its token while it is usable and
// retries an expired one at most once per scan interval, so a burst of reads
// during a provider outage cannot run up the failure count.
func (s *Service) shouldRefreshInline(integration Integration, state CredentialTokenState) bool {
	if integration.Status != IntegrationStatusError {
		return state.NeedsRefresh()
	}
	if state.Usable() {
		return false
	}
	return !s.now().Before(integration.UpdatedAt.Add(s.config.Refresh.ScanInterval))
}

func (s *Service) GetValidAccessToken(ctx context.Context, integrationID string) (token AccessToken, err error) {
	startedAt := s.now()
	fields := map[string]any{"integration_id": integrationID}
	defer func() {
		s.observeOperation(ctx, startedAt, "get_valid_access_token", err, fields)
	}()

	integrationID = strings.TrimSpace(integrationID)
	if integrationID == "" {
		err = NewValidationError("integration_id", "integration id is required")
		return AccessToken{}, err
	}
	integration, err := s.integrations.Get(ctx, integrationID)
	if err != nil {
		if errors.Is(err, ErrIntegrationNotFound) {
			err = &CredentialError{IntegrationID: integrationID, Reason: "integration not found", Cause: err}
			return AccessToken{}, err
		}
		err = s.mapError(err)
		return AccessToken{}, err
	}
	fields["provider_id"] = integration.ProviderID
	base := AuditEvent{
		IntegrationID: integration.ID,
		UserID:        integration.UserID,
		ProviderID:    integration.ProviderID,
		Action:        AuditActionAPICall,
		Scopes:        integration.GrantedScopes,
	}

	if integration.Status != IntegrationStatusActive && integration.Status != IntegrationStatusError {
		err = &CredentialError{IntegrationID: integration.ID, Reason: fmt.Sprintf("integration is %s", integration.Status)}
		s.recordAPICall(ctx, base, startedAt, err)
		return AccessToken{}, err
	}

	credential, err := s.vault.Retrieve(ctx, integration.ID)
	if err != nil {
		err = s.mapError(err)
		s.recordAPICall(ctx, base, startedAt, err)
		return AccessToken{}, err
	}

	state := ResolveCredentialTokenState(s.now(), credential, s.config.Refresh.Window)
	if s.shouldRefreshInline(integration, state) {
		outcome, refreshErr := s.refreshIntegration(ctx, integration.ID, refreshOptions{waitForLease: true})
		switch {
		case refreshErr == nil && outcome.Credential.AccessToken != "":
			credential = outcome.Credential
		case refreshErr == nil && outcome.Status == IntegrationStatusRevoked:
			err = &CredentialError{IntegrationID: integration.ID, Reason: "integration revoked"}
		case state.Usable() && !outcome.Revoked:
			s.logInfo(ctx, "inline refresh failed, serving current token", map[string]any{
				"integration_id": integration.ID,
				"error":          fmt.Sprint(refreshErr),
			})
		case outcome.Revoked:
			err = &CredentialError{IntegrationID: integration.ID, Reason: "integration revoked after refresh failures", Cause: refreshErr}
		case refreshErr != nil:
			err = refreshErr
		default:
			err = &CredentialError{IntegrationID: integration.ID, Reason: "access token expired"}
		}
		if err != nil {
			err = s.mapError(err)
			s.recordAPICall(ctx, base, startedAt, err)
			return AccessToken{}, err
		}
	} else if !state.Usable() {
		err = &ProviderError{ProviderID: integration.ProviderID, Operation: "refresh", Transient: true, Cause: ErrRefreshBackingOff}
		s.recordAPICall(ctx, base, startedAt, err)
		return AccessToken{}, err
	}

	if markErr := s.vault.MarkUsed(ctx, integration.ID, s.now()); markErr != nil {
		s.logError(ctx, "credential usage update failed", map[string]any{
			"integration_id": integration.ID,
			"error":          markErr.Error(),
		})
	}
	s.recordAPICall(ctx, base, startedAt, nil)

	return AccessToken{
		IntegrationID: integration.ID,
		ProviderID:    integration.ProviderID,
		Token:         credential.AccessToken,
		TokenType:     normalizeTokenType(credential.TokenType),
		ExpiresAt:     credential.ExpiresAt,
		Scopes:        append([]string{}, credential.Scopes...),
	}, nil
}

// ScopeCatalog returns the read-only scope list the consent screen renders.
func (s *Service) ScopeCatalog(providerID string) []ScopeDescriptor {
	return s.ScopeCatalogIndex().Scopes(providerID)
}

// ScopeCatalogIndex returns the configured catalog, or one assembled from
// registered providers that publish their scopes.
func (s *Service) ScopeCatalogIndex() *ScopeCatalog {
	if s == nil {
		return NewScopeCatalog()
	}
	if s.catalog != nil {
		return s.catalog
	}
	entries := []ScopeDescriptor{}
	if s.registry != nil {
		for _, provider := range s.registry.List() {
			if source, ok := provider.(ScopeSource); ok {
				entries = append(entries, source.Scopes()...)
			}
		}
	}
	return NewScopeCatalog(entries...)
}

// ScopeSource is implemented by providers that publish their scope catalog.
type ScopeSource interface {
	Scopes() []ScopeDescriptor
}

func (s *Service) resolveProvider(providerID string) (Provider, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, NewValidationError("provider_id", "provider id is required")
	}
	if s == nil || s.registry == nil {
		return nil, NewValidationError("provider_id", "provider %q is not registered", providerID)
	}
	provider, ok := s.registry.Get(providerID)
	if !ok || provider == nil {
		return nil, NewValidationError("provider_id", "provider %q is not registered", providerID)
	}
	return provider, nil
}

// resolveStoredProvider looks up the provider of a persisted record. A miss
// here means the provider was unregistered after the record was written.
func (s *Service) resolveStoredProvider(providerID string, metadata map[string]any) (Provider, error) {
	provider, err := s.resolveProvider(providerID)
	if err == nil {
		return provider, nil
	}
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) || strings.TrimSpace(providerID) == "" {
		return nil, err
	}
	fields := map[string]any{"provider_id": strings.TrimSpace(providerID)}
	for key, value := range metadata {
		fields[key] = value
	}
	wrapped := s.errorFactory(
		fmt.Sprintf("provider %q is not registered", strings.TrimSpace(providerID)),
		goerrors.CategoryNotFound,
	).WithTextCode(ServiceErrorProviderNotFound)
	return nil, wrapped.WithMetadata(fields)
}

func (s *Service) credentialFromTokens(tokens TokenSet, previous CredentialSet, scopes []string) CredentialSet {
	expiresAt := tokens.ExpiresAt.UTC()
	if tokens.ExpiresAt.IsZero() {
		expiresAt = s.now().Add(defaultAccessTokenTTL)
	}
	refreshToken := strings.TrimSpace(tokens.RefreshToken)
	if refreshToken == "" {
		refreshToken = previous.RefreshToken
	}
	return CredentialSet{
		IntegrationID: previous.IntegrationID,
		AccessToken:   strings.TrimSpace(tokens.AccessToken),
		RefreshToken:  refreshToken,
		TokenType:     normalizeTokenType(tokens.TokenType),
		ExpiresAt:     expiresAt,
		Scopes:        normalizeScopes(scopes),
		UsageCount:    previous.UsageCount,
		LastUsedAt:    cloneTimePointer(previous.LastUsedAt),
	}
}

// mapError keeps the typed domain errors intact so callers can match them
// with errors.As, and maps everything else through the configured mapper.
func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	if mapped := s.errorMapper(err); mapped != nil {
		return mapped
	}
	return err
}

func isDomainError(err error) bool {
	var converter ServiceErrorConverter
	if errors.As(err, &converter) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return true
	}
	for _, sentinel := range []error{
		ErrIntegrationNotFound,
		ErrCredentialNotFound,
		ErrConsentNotFound,
		ErrActiveIntegrationExists,
		ErrLeaseHeld,
		ErrLeaseLost,
		ErrInvalidIntegrationStatusTransition,
		ErrIntegrationStale,
		ErrNeedsReauthorization,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
