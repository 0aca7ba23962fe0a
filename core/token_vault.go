package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TokenVault stores credentials encrypted at rest and decrypts them on
// demand. Only the latest credential per integration is kept.
type TokenVault struct {
	store  CredentialStore
	cipher CredentialCipher
	codec  CredentialCodec
	now    func() time.Time
}

func NewTokenVault(store CredentialStore, cipher CredentialCipher, codec CredentialCodec) *TokenVault {
	if codec == nil {
		codec = JSONCredentialCodec{}
	}
	return &TokenVault{
		store:  store,
		cipher: cipher,
		codec:  codec,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (v *TokenVault) Store(ctx context.Context, integrationID string, credential CredentialSet) error {
	if err := v.ready(); err != nil {
		return err
	}
	integrationID = strings.TrimSpace(integrationID)
	if integrationID == "" {
		return NewValidationError("integration_id", "integration id is required")
	}
	if err := credential.Validate(); err != nil {
		return NewValidationError("credential", "%s", strings.TrimPrefix(err.Error(), "core: "))
	}
	credential.IntegrationID = integrationID

	plaintext, err := v.codec.Encode(credential)
	if err != nil {
		return err
	}
	ciphertext, err := v.cipher.Encrypt(ctx, integrationID, plaintext)
	if err != nil {
		return fmt.Errorf("core: seal credential: %w", err)
	}

	now := v.now()
	record := StoredCredential{
		IntegrationID:  integrationID,
		Ciphertext:     ciphertext,
		PayloadFormat:  v.codec.Format(),
		PayloadVersion: v.codec.Version(),
		TokenType:      normalizeTokenType(credential.TokenType),
		ExpiresAt:      credential.ExpiresAt.UTC(),
		UsageCount:     credential.UsageCount,
		LastUsedAt:     cloneTimePointer(credential.LastUsedAt),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if meta, ok := v.cipher.(KeyMetadataProvider); ok {
		record.KeyID, record.KeyVersion = meta.Metadata()
	}
	return v.store.Upsert(ctx, record)
}

// Retrieve decrypts the stored credential. A missing row or a payload that
// cannot be opened is reported as CredentialError.
func (v *TokenVault) Retrieve(ctx context.Context, integrationID string) (CredentialSet, error) {
	if err := v.ready(); err != nil {
		return CredentialSet{}, err
	}
	integrationID = strings.TrimSpace(integrationID)
	record, err := v.store.Get(ctx, integrationID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return CredentialSet{}, &CredentialError{IntegrationID: integrationID, Reason: "credential not found", Cause: err}
		}
		return CredentialSet{}, err
	}
	if record.PayloadFormat != "" && record.PayloadFormat != v.codec.Format() {
		return CredentialSet{}, &CredentialError{
			IntegrationID: integrationID,
			Reason:        fmt.Sprintf("unsupported credential format %q", record.PayloadFormat),
		}
	}
	plaintext, err := v.cipher.Decrypt(ctx, integrationID, record.Ciphertext)
	if err != nil {
		return CredentialSet{}, &CredentialError{IntegrationID: integrationID, Reason: "credential decryption failed", Cause: err}
	}
	credential, err := v.codec.Decode(plaintext)
	if err != nil {
		return CredentialSet{}, &CredentialError{IntegrationID: integrationID, Reason: "credential payload is corrupt", Cause: err}
	}
	if credential.IntegrationID != "" && credential.IntegrationID != integrationID {
		return CredentialSet{}, &CredentialError{IntegrationID: integrationID, Reason: "credential bound to another integration"}
	}
	credential.IntegrationID = integrationID
	credential.UsageCount = record.UsageCount
	credential.LastUsedAt = cloneTimePointer(record.LastUsedAt)
	if credential.ExpiresAt.IsZero() {
		credential.ExpiresAt = record.ExpiresAt
	}
	return credential, nil
}

// Rewrap moves a credential sealed under a retired master key onto the active
// one. It reports false when the cipher cannot rewrap or the row is current.
func (v *TokenVault) Rewrap(ctx context.Context, integrationID string) (bool, error) {
	if err := v.ready(); err != nil {
		return false, err
	}
	rewrapper, ok := v.cipher.(CredentialRewrapper)
	if !ok {
		return false, nil
	}
	integrationID = strings.TrimSpace(integrationID)
	record, err := v.store.Get(ctx, integrationID)
	if err != nil {
		return false, err
	}
	needs, err := rewrapper.NeedsRewrap(record.Ciphertext)
	if err != nil {
		return false, &CredentialError{IntegrationID: integrationID, Reason: "credential envelope is unreadable", Cause: err}
	}
	if !needs {
		return false, nil
	}
	ciphertext, err := rewrapper.Rewrap(ctx, integrationID, record.Ciphertext)
	if err != nil {
		return false, fmt.Errorf("core: rewrap credential: %w", err)
	}
	record.Ciphertext = ciphertext
	if meta, ok := v.cipher.(KeyMetadataProvider); ok {
		record.KeyID, record.KeyVersion = meta.Metadata()
	}
	record.UpdatedAt = v.now()
	if err := v.store.Upsert(ctx, record); err != nil {
		return false, err
	}
	return true, nil
}

func (v *TokenVault) Purge(ctx context.Context, integrationID string) error {
	if v == nil || v.store == nil {
		return fmt.Errorf("core: credential store is not configured")
	}
	err := v.store.Delete(ctx, strings.TrimSpace(integrationID))
	if errors.Is(err, ErrCredentialNotFound) {
		return nil
	}
	return err
}

func (v *TokenVault) MarkUsed(ctx context.Context, integrationID string, at time.Time) error {
	if v == nil || v.store == nil {
		return fmt.Errorf("core: credential store is not configured")
	}
	return v.store.MarkUsed(ctx, strings.TrimSpace(integrationID), at.UTC())
}

// DueForRefresh lists integration ids whose credential expires at or before
// now+window.
func (v *TokenVault) DueForRefresh(ctx context.Context, now time.Time, window time.Duration, limit int) ([]string, error) {
	records, err := v.DueCredentials(ctx, now, window, limit)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(records))
	for _, record := range records {
		out = append(out, record.IntegrationID)
	}
	return out, nil
}

// DueCredentials returns the stored records (ciphertext included) due for
// refresh, soonest expiry first.
func (v *TokenVault) DueCredentials(ctx context.Context, now time.Time, window time.Duration, limit int) ([]StoredCredential, error) {
	if v == nil || v.store == nil {
		return nil, fmt.Errorf("core: credential store is not configured")
	}
	return v.store.ListExpiring(ctx, now.Add(window).UTC(), limit)
}

func (v *TokenVault) ready() error {
	if v == nil || v.store == nil {
		return fmt.Errorf("core: credential store is not configured")
	}
	if v.cipher == nil {
		return fmt.Errorf("core: credential cipher is not configured")
	}
	if v.codec == nil {
		return fmt.Errorf("core: credential codec is not configured")
	}
	return nil
}

func normalizeTokenType(tokenType string) string {
	tokenType = strings.ToLower(strings.TrimSpace(tokenType))
	if tokenType == "" {
		return "bearer"
	}
	return tokenType
}
