package sqlstore

import (
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
)

func newStateRecord(state core.AuthorizationState) *stateRecord {
	return &stateRecord{
		State:           state.State,
		UserID:          state.UserID,
		ProviderID:      state.ProviderID,
		RequestedScopes: copyStrings(state.RequestedScopes),
		RedirectURI:     state.RedirectURI,
		CodeVerifier:    state.CodeVerifier,
		CodeChallenge:   state.CodeChallenge,
		ChallengeMethod: state.ChallengeMethod,
		Used:            state.Used,
		UsedAt:          cloneTimePointer(state.UsedAt),
		CreatedAt:       state.CreatedAt.UTC(),
		ExpiresAt:       state.ExpiresAt.UTC(),
	}
}

func (r *stateRecord) toDomain() core.AuthorizationState {
	if r == nil {
		return core.AuthorizationState{}
	}
	return core.AuthorizationState{
		State:           r.State,
		UserID:          r.UserID,
		ProviderID:      r.ProviderID,
		RequestedScopes: copyStrings(r.RequestedScopes),
		RedirectURI:     r.RedirectURI,
		CodeVerifier:    r.CodeVerifier,
		CodeChallenge:   r.CodeChallenge,
		ChallengeMethod: r.ChallengeMethod,
		CreatedAt:       r.CreatedAt.UTC(),
		ExpiresAt:       r.ExpiresAt.UTC(),
		Used:            r.Used,
		UsedAt:          cloneTimePointer(r.UsedAt),
	}
}

func newIntegrationRecord(in core.CreateIntegrationInput, id string, now time.Time) *integrationRecord {
	return &integrationRecord{
		ID:            id,
		UserID:        strings.TrimSpace(in.UserID),
		ProviderID:    normalizeProviderID(in.ProviderID),
		Status:        string(core.IntegrationStatusPending),
		GrantedScopes: sortedScopes(in.Scopes),
		SyncMetadata:  copyAnyMap(in.SyncMetadata),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// applyIntegration copies the mutable fields of integration onto r. Owner,
// provider and creation time stay as stored.
func (r *integrationRecord) applyIntegration(integration core.Integration, now time.Time) {
	r.Status = string(integration.Status)
	r.GrantedScopes = copyStrings(integration.GrantedScopes)
	r.ProviderUserID = strings.TrimSpace(integration.ProviderUserID)
	r.SyncMetadata = copyAnyMap(integration.SyncMetadata)
	r.ErrorCount = integration.ErrorCount
	r.LastError = integration.LastError
	r.RevokedAt = cloneTimePointer(integration.RevokedAt)
	r.UpdatedAt = integration.UpdatedAt.UTC()
	if integration.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
}

func (r *integrationRecord) toDomain() core.Integration {
	if r == nil {
		return core.Integration{}
	}
	return core.Integration{
		ID:             r.ID,
		UserID:         r.UserID,
		ProviderID:     r.ProviderID,
		Status:         core.IntegrationStatus(r.Status),
		GrantedScopes:  copyStrings(r.GrantedScopes),
		ProviderUserID: r.ProviderUserID,
		SyncMetadata:   copyAnyMap(r.SyncMetadata),
		ErrorCount:     r.ErrorCount,
		LastError:      r.LastError,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
		RevokedAt:      cloneTimePointer(r.RevokedAt),
	}
}

func newCredentialRecord(credential core.StoredCredential, now time.Time) *credentialRecord {
	record := &credentialRecord{
		IntegrationID:  strings.TrimSpace(credential.IntegrationID),
		Ciphertext:     append([]byte(nil), credential.Ciphertext...),
		PayloadFormat:  credential.PayloadFormat,
		PayloadVersion: credential.PayloadVersion,
		KeyID:          credential.KeyID,
		KeyVersion:     credential.KeyVersion,
		TokenType:      credential.TokenType,
		ExpiresAt:      credential.ExpiresAt.UTC(),
		UsageCount:     credential.UsageCount,
		LastUsedAt:     cloneTimePointer(credential.LastUsedAt),
		CreatedAt:      credential.CreatedAt.UTC(),
		UpdatedAt:      credential.UpdatedAt.UTC(),
	}
	if credential.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if credential.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	return record
}

func (r *credentialRecord) toDomain() core.StoredCredential {
	if r == nil {
		return core.StoredCredential{}
	}
	return core.StoredCredential{
		IntegrationID:  r.IntegrationID,
		Ciphertext:     append([]byte(nil), r.Ciphertext...),
		PayloadFormat:  r.PayloadFormat,
		PayloadVersion: r.PayloadVersion,
		KeyID:          r.KeyID,
		KeyVersion:     r.KeyVersion,
		TokenType:      r.TokenType,
		ExpiresAt:      r.ExpiresAt.UTC(),
		UsageCount:     r.UsageCount,
		LastUsedAt:     cloneTimePointer(r.LastUsedAt),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func newConsentRecord(record core.ConsentRecord, sequence int64) *consentRecord {
	return &consentRecord{
		ID:             record.ID,
		IntegrationID:  strings.TrimSpace(record.IntegrationID),
		UserID:         strings.TrimSpace(record.UserID),
		ProviderID:     normalizeProviderID(record.ProviderID),
		Scopes:         copyStrings(record.Scopes),
		GrantedAt:      record.GrantedAt.UTC(),
		ExpiresAt:      cloneTimePointer(record.ExpiresAt),
		IPAddress:      record.Evidence.IPAddress,
		UserAgent:      record.Evidence.UserAgent,
		ConsentVersion: record.Evidence.ConsentVersion,
		Revoked:        record.Revoked,
		RevokedReason:  record.RevokedReason,
		RevokedAt:      cloneTimePointer(record.RevokedAt),
		Sequence:       sequence,
	}
}

func (r *consentRecord) toDomain() core.ConsentRecord {
	if r == nil {
		return core.ConsentRecord{}
	}
	return core.ConsentRecord{
		ID:            r.ID,
		IntegrationID: r.IntegrationID,
		UserID:        r.UserID,
		ProviderID:    r.ProviderID,
		Scopes:        copyStrings(r.Scopes),
		GrantedAt:     r.GrantedAt.UTC(),
		ExpiresAt:     cloneTimePointer(r.ExpiresAt),
		Evidence: core.ConsentEvidence{
			IPAddress:      r.IPAddress,
			UserAgent:      r.UserAgent,
			ConsentVersion: r.ConsentVersion,
		},
		Revoked:       r.Revoked,
		RevokedReason: r.RevokedReason,
		RevokedAt:     cloneTimePointer(r.RevokedAt),
	}
}

func newAuditEventRecord(event core.AuditEvent) *auditEventRecord {
	return &auditEventRecord{
		ID:            event.ID,
		IntegrationID: strings.TrimSpace(event.IntegrationID),
		UserID:        strings.TrimSpace(event.UserID),
		Action:        string(event.Action),
		ProviderID:    normalizeProviderID(event.ProviderID),
		Scopes:        copyStrings(event.Scopes),
		Success:       event.Success,
		Error:         event.Error,
		DurationMS:    event.Duration.Milliseconds(),
		Metadata:      core.RedactSensitiveMap(event.Metadata),
		OccurredAt:    event.OccurredAt.UTC(),
	}
}

func (r *auditEventRecord) toDomain() core.AuditEvent {
	if r == nil {
		return core.AuditEvent{}
	}
	return core.AuditEvent{
		ID:            r.ID,
		IntegrationID: r.IntegrationID,
		UserID:        r.UserID,
		Action:        core.AuditAction(r.Action),
		ProviderID:    r.ProviderID,
		Scopes:        copyStrings(r.Scopes),
		Success:       r.Success,
		Error:         r.Error,
		Duration:      time.Duration(r.DurationMS) * time.Millisecond,
		Metadata:      copyAnyMap(r.Metadata),
		OccurredAt:    r.OccurredAt.UTC(),
	}
}

func normalizeProviderID(providerID string) string {
	return strings.ToLower(strings.TrimSpace(providerID))
}

func sortedScopes(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}

func copyStrings(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	return append([]string(nil), in...)
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
