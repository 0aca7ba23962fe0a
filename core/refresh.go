package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const leasePollInterval = 100 * time.Millisecond

type refreshOptions struct {
	waitForLease bool
}

// RefreshOutcome reports what a single refresh pass did. Credential is set
// whenever a usable credential was observed.
type RefreshOutcome struct {
	IntegrationID string
	Status        IntegrationStatus
	Refreshed     bool
	Skipped       bool
	SkipReason    string
	Failed        bool
	Revoked       bool
	Attempts      int
	ErrorCount    int
	Credential    CredentialSet
}

// RefreshIntegration renews the credential of one integration under its
// lease. A credential outside the refresh window is left untouched.
func (s *Service) RefreshIntegration(ctx context.Context, integrationID string) (outcome RefreshOutcome, err error) {
	startedAt := s.now()
	fields := map[string]any{"integration_id": integrationID}
	defer func() {
		fields["refreshed"] = outcome.Refreshed
		if outcome.SkipReason != "" {
			fields["skip_reason"] = outcome.SkipReason
		}
		s.observeOperation(ctx, startedAt, "refresh", err, fields)
	}()

	integrationID = strings.TrimSpace(integrationID)
	if integrationID == "" {
		err = NewValidationError("integration_id", "integration id is required")
		return RefreshOutcome{}, err
	}
	outcome, err = s.refreshIntegration(ctx, integrationID, refreshOptions{})
	outcome.Credential = CredentialSet{}
	return outcome, err
}

func (s *Service) refreshIntegration(ctx context.Context, integrationID string, opts refreshOptions) (RefreshOutcome, error) {
	startedAt := s.now()
	outcome := RefreshOutcome{IntegrationID: integrationID}

	lease, err := s.acquireRefreshLease(ctx, integrationID, opts.waitForLease)
	if err != nil {
		if errors.Is(err, ErrLeaseHeld) {
			outcome.Skipped = true
			outcome.SkipReason = "lease_held"
			return outcome, nil
		}
		return outcome, s.mapError(err)
	}
	defer func() {
		if unlockErr := lease.Unlock(context.WithoutCancel(ctx)); unlockErr != nil {
			s.logError(ctx, "refresh lease release failed", map[string]any{
				"integration_id": integrationID,
				"error":          unlockErr.Error(),
			})
		}
	}()

	integration, err := s.integrations.Get(ctx, integrationID)
	if err != nil {
		return outcome, s.mapError(err)
	}
	outcome.Status = integration.Status
	outcome.ErrorCount = integration.ErrorCount
	if integration.Status != IntegrationStatusActive && integration.Status != IntegrationStatusError {
		outcome.Skipped = true
		outcome.SkipReason = "status_" + string(integration.Status)
		return outcome, nil
	}

	credential, err := s.vault.Retrieve(ctx, integration.ID)
	if err != nil {
		var credErr *CredentialError
		if errors.As(err, &credErr) {
			return s.recordRefreshFailure(ctx, integration, startedAt, 0, err)
		}
		return outcome, s.mapError(err)
	}

	// Re-check under the lease: a concurrent holder may have refreshed already.
	state := ResolveCredentialTokenState(s.now(), credential, s.config.Refresh.Window)
	if !state.NeedsRefresh() {
		outcome.Skipped = true
		outcome.SkipReason = "fresh"
		outcome.Credential = credential
		return outcome, nil
	}
	if !credential.Refreshable() {
		cause := &CredentialError{IntegrationID: integration.ID, Reason: "no refresh token available"}
		return s.recordRefreshFailure(ctx, integration, startedAt, 0, cause)
	}

	provider, err := s.resolveStoredProvider(integration.ProviderID, map[string]any{"integration_id": integration.ID})
	if err != nil {
		return s.recordRefreshFailure(ctx, integration, startedAt, 0, err)
	}
	providerScopes := s.ScopeCatalogIndex().ProviderScopes(integration.ProviderID, integration.GrantedScopes)

	var tokens TokenSet
	attempts, err := s.retryPolicy.Do(ctx, func(callCtx context.Context, attempt int) error {
		if attempt > 1 {
			if extendErr := lease.Extend(callCtx, s.config.Refresh.LeaseTTL); extendErr != nil {
				return extendErr
			}
		}
		var callErr error
		tokens, callErr = provider.RefreshToken(callCtx, credential.RefreshToken, providerScopes)
		return callErr
	})
	outcome.Attempts = attempts
	if errors.Is(err, ErrLeaseLost) {
		return outcome, s.abandonRefresh(ctx, integration, err)
	}
	if err != nil {
		return s.recordRefreshFailure(ctx, integration, startedAt, attempts, err)
	}

	scopes := credential.Scopes
	if len(tokens.Scopes) > 0 {
		if mapped := s.ScopeCatalogIndex().ScopeIDs(integration.ProviderID, tokens.Scopes); len(mapped) > 0 {
			scopes = mapped
		}
	}
	renewed := s.credentialFromTokens(tokens, credential, scopes)
	// A holder that lost its lease must not overwrite the credential written
	// by the new holder.
	if err := lease.Extend(ctx, s.config.Refresh.LeaseTTL); err != nil {
		if !errors.Is(err, ErrLeaseLost) {
			err = fmt.Errorf("%w: %w", ErrLeaseLost, err)
		}
		return outcome, s.abandonRefresh(ctx, integration, err)
	}
	if err := s.vault.Store(ctx, integration.ID, renewed); err != nil {
		return outcome, s.mapError(err)
	}

	updated, err := s.transition(ctx, integration, transitionRequest{
		To:        IntegrationStatusActive,
		Action:    AuditActionRefresh,
		Success:   true,
		StartedAt: startedAt,
		Metadata: map[string]any{
			"attempts":   attempts,
			"expires_at": renewed.ExpiresAt.Format(time.RFC3339),
		},
		Mutate: func(next *Integration) {
			next.ErrorCount = 0
			next.LastError = ""
		},
	})
	if err != nil {
		return outcome, s.mapError(err)
	}

	outcome.Refreshed = true
	outcome.Status = updated.Status
	outcome.ErrorCount = 0
	outcome.Credential = renewed
	return outcome, nil
}

// abandonRefresh drops a refresh whose lease was taken over. The failure is
// not counted against the integration since the new holder owns the outcome.
func (s *Service) abandonRefresh(ctx context.Context, integration Integration, cause error) error {
	s.logError(ctx, "refresh lease lost, result discarded", map[string]any{
		"integration_id": integration.ID,
		"provider_id":    integration.ProviderID,
		"error":          cause.Error(),
	})
	return s.mapError(cause)
}

// recordRefreshFailure counts a failed refresh. Reaching the error threshold
// revokes the integration and purges its credential.
func (s *Service) recordRefreshFailure(
	ctx context.Context,
	integration Integration,
	startedAt time.Time,
	attempts int,
	cause error,
) (RefreshOutcome, error) {
	outcome := RefreshOutcome{
		IntegrationID: integration.ID,
		Failed:        true,
		Attempts:      attempts,
		ErrorCount:    integration.ErrorCount + 1,
	}
	threshold := s.config.Refresh.ErrorThreshold
	if threshold <= 0 {
		threshold = defaultRefreshErrorThreshold
	}
	metadata := map[string]any{
		"attempts":  attempts,
		"transient": IsTransientProviderError(cause),
		"threshold": threshold,
	}

	if outcome.ErrorCount < threshold {
		updated, err := s.transition(ctx, integration, transitionRequest{
			To:        IntegrationStatusError,
			Reason:    cause.Error(),
			Action:    AuditActionRefresh,
			Cause:     cause,
			StartedAt: startedAt,
			Metadata:  metadata,
			Mutate: func(next *Integration) {
				next.ErrorCount = outcome.ErrorCount
			},
		})
		if err != nil {
			return outcome, s.mapError(err)
		}
		outcome.Status = updated.Status
		return outcome, cause
	}

	s.recordAudit(ctx, AuditEvent{
		IntegrationID: integration.ID,
		UserID:        integration.UserID,
		ProviderID:    integration.ProviderID,
		Action:        AuditActionRefresh,
		Scopes:        integration.GrantedScopes,
		Success:       false,
		Error:         cause.Error(),
		Duration:      s.now().Sub(startedAt),
		Metadata:      metadata,
	})
	if err := s.vault.Purge(ctx, integration.ID); err != nil {
		return outcome, s.mapError(err)
	}
	if _, err := s.consent.RevokeAll(ctx, integration.ID, "refresh_error_threshold"); err != nil {
		s.logError(ctx, "consent revoke failed", map[string]any{
			"integration_id": integration.ID,
			"error":          err.Error(),
		})
	}
	updated, err := s.transition(ctx, integration, transitionRequest{
		To:        IntegrationStatusRevoked,
		Reason:    fmt.Sprintf("revoked after %d consecutive refresh failures: %s", outcome.ErrorCount, cause.Error()),
		Action:    AuditActionRevoke,
		Success:   true,
		Cause:     cause,
		StartedAt: startedAt,
		Metadata: map[string]any{
			"reason":    "refresh_error_threshold",
			"threshold": threshold,
		},
		Mutate: func(next *Integration) {
			next.ErrorCount = outcome.ErrorCount
		},
	})
	if err != nil {
		return outcome, s.mapError(err)
	}
	outcome.Status = updated.Status
	outcome.Revoked = true
	return outcome, cause
}

// acquireRefreshLease takes the per-integration lease. With wait set it
// polls until the lease frees up or the provider timeout elapses.
func (s *Service) acquireRefreshLease(ctx context.Context, integrationID string, wait bool) (LockHandle, error) {
	if s.leaseLocker == nil {
		return nil, fmt.Errorf("core: lease locker is not configured")
	}
	key := refreshLeaseKey(integrationID)
	ttl := s.config.Refresh.LeaseTTL
	lease, err := s.leaseLocker.Acquire(ctx, key, ttl)
	if err == nil || !wait || !errors.Is(err, ErrLeaseHeld) {
		return lease, err
	}

	deadline := time.Now().Add(s.config.Provider.RequestTimeout)
	for errors.Is(err, ErrLeaseHeld) && time.Now().Before(deadline) {
		if waitErr := waitWithContext(ctx, leasePollInterval); waitErr != nil {
			return nil, waitErr
		}
		lease, err = s.leaseLocker.Acquire(ctx, key, ttl)
	}
	return lease, err
}
