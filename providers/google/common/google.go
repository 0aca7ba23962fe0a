// Package common holds the endpoints and wiring shared by the Google
// provider variants.
package common

import (
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/identity"
	"github.com/goliatone/go-integrations/providers"
)

const (
	AuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	TokenURL    = "https://oauth2.googleapis.com/token"
	RevokeURL   = "https://oauth2.googleapis.com/revoke"
	UserInfoURL = identity.GoogleUserInfoURL

	ScopeOpenID     = "openid"
	IdentityScopeID = "identity.basic"
)

// Config is the client configuration every Google variant accepts.
type Config struct {
	ClientID            string
	ClientSecret        string
	AuthURL             string
	TokenURL            string
	RevokeURL           string
	UserInfoURL         string
	TokenTTL            time.Duration
	TokenRequestTimeout time.Duration
	HTTPClient          *http.Client
	Now                 func() time.Time
}

func DefaultConfig() Config {
	return Config{
		AuthURL:     AuthURL,
		TokenURL:    TokenURL,
		RevokeURL:   RevokeURL,
		UserInfoURL: UserInfoURL,
		TokenTTL:    time.Hour,
	}
}

// WithIdentityScope prepends the openid scope. It is required on every Google
// grant so the token response carries an id_token naming the account.
func WithIdentityScope(providerID string, scopes []core.ScopeDescriptor) []core.ScopeDescriptor {
	identityScope := core.ScopeDescriptor{
		ProviderID:    providerID,
		ScopeID:       IdentityScopeID,
		ProviderScope: ScopeOpenID,
		DisplayName:   "Basic account identity",
		Description:   "Associate the connection with your Google account id.",
		Category:      "identity",
		Required:      true,
	}
	return append([]core.ScopeDescriptor{identityScope}, scopes...)
}

// NewProvider builds a Google OAuth2 adapter. Google only issues refresh
// tokens for offline access, and only reliably when consent is forced.
func NewProvider(id string, kind core.ProviderKind, cfg Config, scopes []core.ScopeDescriptor) (*providers.OAuth2Provider, error) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.AuthURL) == "" {
		cfg.AuthURL = defaults.AuthURL
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = defaults.TokenURL
	}
	if strings.TrimSpace(cfg.RevokeURL) == "" {
		cfg.RevokeURL = defaults.RevokeURL
	}
	if strings.TrimSpace(cfg.UserInfoURL) == "" {
		cfg.UserInfoURL = defaults.UserInfoURL
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaults.TokenTTL
	}
	return providers.NewOAuth2Provider(providers.OAuth2Config{
		ID:                  id,
		Kind:                kind,
		AuthURL:             cfg.AuthURL,
		TokenURL:            cfg.TokenURL,
		RevokeURL:           cfg.RevokeURL,
		UserInfoURL:         cfg.UserInfoURL,
		ClientID:            cfg.ClientID,
		ClientSecret:        cfg.ClientSecret,
		ClientSecretInBody:  true,
		Scopes:              scopes,
		TokenTTL:            cfg.TokenTTL,
		TokenRequestTimeout: cfg.TokenRequestTimeout,
		HTTPClient:          cfg.HTTPClient,
		Now:                 cfg.Now,
		ExtraAuthParams: map[string]string{
			"access_type":            "offline",
			"prompt":                 "consent",
			"include_granted_scopes": "true",
		},
	})
}
