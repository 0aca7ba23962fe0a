package core

import (
	"strings"
	"time"
)

// CredentialTokenState captures access/refresh lifecycle state derived from a credential.
type CredentialTokenState struct {
	ExpiresAt       time.Time
	HasAccessToken  bool
	HasRefreshToken bool
	IsExpired       bool
	IsExpiringSoon  bool
}

// ResolveCredentialTokenState evaluates expiry and refreshability flags for a credential.
func ResolveCredentialTokenState(now time.Time, credential CredentialSet, window time.Duration) CredentialTokenState {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if window <= 0 {
		window = defaultRefreshWindow
	}
	state := CredentialTokenState{
		ExpiresAt:       credential.ExpiresAt.UTC(),
		HasAccessToken:  strings.TrimSpace(credential.AccessToken) != "",
		HasRefreshToken: credential.Refreshable(),
	}
	if credential.ExpiresAt.IsZero() || !credential.ExpiresAt.After(now) {
		state.IsExpired = true
		state.IsExpiringSoon = true
		return state
	}
	state.IsExpiringSoon = !credential.ExpiresAt.After(now.Add(window))
	return state
}

// NeedsRefresh reports whether a refresh should happen before the token is
// handed out.
func (s CredentialTokenState) NeedsRefresh() bool {
	return !s.HasAccessToken || s.IsExpiringSoon
}

// Usable reports whether the access token can still be handed out as is.
func (s CredentialTokenState) Usable() bool {
	return s.HasAccessToken && !s.IsExpired
}
