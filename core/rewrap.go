package core

import (
	"context"
	"errors"
	"strings"
)

// RewrapCredentials moves the given credentials onto the active master key
// after a key rotation. Each row is rewritten under its refresh lease so a
// concurrent refresh cannot be overwritten. Rows held by another worker are
// skipped and can be retried later.
func (s *Service) RewrapCredentials(ctx context.Context, integrationIDs ...string) (rewrapped int, err error) {
	startedAt := s.now()
	fields := map[string]any{"requested": len(integrationIDs)}
	defer func() {
		fields["rewrapped"] = rewrapped
		s.observeOperation(ctx, startedAt, "rewrap_credentials", err, fields)
	}()

	for _, integrationID := range integrationIDs {
		integrationID = strings.TrimSpace(integrationID)
		if integrationID == "" {
			continue
		}
		done, rewrapErr := s.rewrapCredential(ctx, integrationID)
		if rewrapErr != nil {
			err = s.mapError(rewrapErr)
			return rewrapped, err
		}
		if done {
			rewrapped++
		}
	}
	return rewrapped, nil
}

func (s *Service) rewrapCredential(ctx context.Context, integrationID string) (bool, error) {
	lease, err := s.acquireRefreshLease(ctx, integrationID, false)
	if err != nil {
		if errors.Is(err, ErrLeaseHeld) {
			return false, nil
		}
		return false, err
	}
	defer func() {
		if unlockErr := lease.Unlock(context.WithoutCancel(ctx)); unlockErr != nil {
			s.logError(ctx, "rewrap lease release failed", map[string]any{
				"integration_id": integrationID,
				"error":          unlockErr.Error(),
			})
		}
	}()

	done, err := s.vault.Rewrap(ctx, integrationID)
	if errors.Is(err, ErrCredentialNotFound) {
		return false, nil
	}
	if err == nil && done {
		s.logInfo(ctx, "credential rewrapped", map[string]any{"integration_id": integrationID})
	}
	return done, err
}
