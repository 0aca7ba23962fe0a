package notion

import (
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/identity"
	"github.com/goliatone/go-integrations/providers"
)

const (
	ProviderID  = "notion"
	AuthURL     = "https://api.notion.com/v1/oauth/authorize"
	TokenURL    = "https://api.notion.com/v1/oauth/token"
	RevokeURL   = "https://api.notion.com/v1/oauth/revoke"
	UserInfoURL = identity.NotionUserInfoURL

	ScopeRead  = "notes.read"
	ScopeWrite = "notes.write"

	// Notion access tokens carry no expiry. The credential still needs one.
	DefaultTokenTTL = 365 * 24 * time.Hour
)

type Config struct {
	ClientID            string
	ClientSecret        string
	AuthURL             string
	TokenURL            string
	RevokeURL           string
	UserInfoURL         string
	APIVersion          string
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
		APIVersion:  identity.NotionAPIVersion,
		TokenTTL:    DefaultTokenTTL,
	}
}

// Scopes lists the catalog entries for Notion. Notion picks page access on its
// own consent screen, so these are never sent as an OAuth scope parameter.
func Scopes() []core.ScopeDescriptor {
	return []core.ScopeDescriptor{
		{
			ProviderID:  ProviderID,
			ScopeID:     ScopeRead,
			DisplayName: "Read pages",
			Description: "Read the pages and databases you share with the integration.",
			Category:    "notes",
			Required:    true,
		},
		{
			ProviderID:  ProviderID,
			ScopeID:     ScopeWrite,
			DisplayName: "Edit pages",
			Description: "Update content in the pages you share with the integration.",
			Category:    "notes",
			Dangerous:   true,
		},
	}
}

func New(cfg Config) (core.Provider, error) {
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
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = defaults.APIVersion
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaults.TokenTTL
	}

	resolver := identity.NewResolver(identity.Config{
		HTTPClient:     httpDoer(cfg.HTTPClient),
		RequestTimeout: cfg.TokenRequestTimeout,
		ProviderUserInfo: map[string]identity.ProviderUserInfoConfig{
			ProviderID: {
				URL:        cfg.UserInfoURL,
				Issuer:     identity.NotionIssuer,
				Headers:    map[string]string{"Notion-Version": cfg.APIVersion},
				Normalizer: identity.NormalizeNotionProfile,
			},
		},
	})

	return providers.NewOAuth2Provider(providers.OAuth2Config{
		ID:                  ProviderID,
		Kind:                core.ProviderKindNotes,
		AuthURL:             cfg.AuthURL,
		TokenURL:            cfg.TokenURL,
		RevokeURL:           cfg.RevokeURL,
		ClientID:            cfg.ClientID,
		ClientSecret:        cfg.ClientSecret,
		JSONTokenRequest:    true,
		OmitScopeParam:      true,
		ExtraAuthParams:     map[string]string{"owner": "user"},
		Scopes:              Scopes(),
		TokenTTL:            cfg.TokenTTL,
		TokenRequestTimeout: cfg.TokenRequestTimeout,
		HTTPClient:          cfg.HTTPClient,
		Now:                 cfg.Now,
		UserIDResolver:      resolver,
		UserIDFromToken:     ownerUserID,
	})
}

func ownerUserID(raw map[string]any) string {
	owner := identity.NotionOwnerUser(raw)
	if owner == nil {
		return ""
	}
	id, _ := owner["id"].(string)
	return strings.TrimSpace(id)
}

// httpDoer avoids handing the resolver a typed nil.
func httpDoer(client *http.Client) identity.HTTPDoer {
	if client == nil {
		return nil
	}
	return client
}
