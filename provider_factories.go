package integrations

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/providers/google/calendar"
	"github.com/goliatone/go-integrations/providers/google/gmail"
	"github.com/goliatone/go-integrations/providers/google/youtube"
	"github.com/goliatone/go-integrations/providers/notion"
)

func GoogleCalendarProvider(cfg calendar.Config) (core.Provider, error) {
	return calendar.New(cfg)
}

func GmailProvider(cfg gmail.Config) (core.Provider, error) {
	return gmail.New(cfg)
}

func YouTubeProvider(cfg youtube.Config) (core.Provider, error) {
	return youtube.New(cfg)
}

func NotionProvider(cfg notion.Config) (core.Provider, error) {
	return notion.New(cfg)
}

// ClientCredentials are the OAuth client settings of one provider as they
// appear in configuration.
type ClientCredentials struct {
	ClientID     string `koanf:"client_id" mapstructure:"client_id" json:"client_id"`
	ClientSecret string `koanf:"client_secret" mapstructure:"client_secret" json:"client_secret"`
}

func (c ClientCredentials) configured() bool {
	return strings.TrimSpace(c.ClientID) != ""
}

// ProvidersConfig enables the built-in providers. A provider without a client
// id is left out of the registry.
type ProvidersConfig struct {
	GoogleCalendar ClientCredentials `koanf:"google_calendar" mapstructure:"google_calendar" json:"google_calendar"`
	Gmail          ClientCredentials `koanf:"google_gmail" mapstructure:"google_gmail" json:"google_gmail"`
	YouTube        ClientCredentials `koanf:"google_youtube" mapstructure:"google_youtube" json:"google_youtube"`
	Notion         ClientCredentials `koanf:"notion" mapstructure:"notion" json:"notion"`
}

// BuiltInProviders builds every configured provider.
func BuiltInProviders(cfg ProvidersConfig) ([]core.Provider, error) {
	type factory struct {
		id    string
		creds ClientCredentials
		build func(ClientCredentials) (core.Provider, error)
	}
	factories := []factory{
		{id: calendar.ProviderID, creds: cfg.GoogleCalendar, build: func(c ClientCredentials) (core.Provider, error) {
			return GoogleCalendarProvider(calendar.Config{ClientID: c.ClientID, ClientSecret: c.ClientSecret})
		}},
		{id: gmail.ProviderID, creds: cfg.Gmail, build: func(c ClientCredentials) (core.Provider, error) {
			return GmailProvider(gmail.Config{ClientID: c.ClientID, ClientSecret: c.ClientSecret})
		}},
		{id: youtube.ProviderID, creds: cfg.YouTube, build: func(c ClientCredentials) (core.Provider, error) {
			return YouTubeProvider(youtube.Config{ClientID: c.ClientID, ClientSecret: c.ClientSecret})
		}},
		{id: notion.ProviderID, creds: cfg.Notion, build: func(c ClientCredentials) (core.Provider, error) {
			return NotionProvider(notion.Config{ClientID: c.ClientID, ClientSecret: c.ClientSecret})
		}},
	}

	out := make([]core.Provider, 0, len(factories))
	for _, f := range factories {
		if !f.creds.configured() {
			continue
		}
		provider, err := f.build(f.creds)
		if err != nil {
			return nil, fmt.Errorf("integrations: build provider %s: %w", f.id, err)
		}
		out = append(out, provider)
	}
	return out, nil
}

// NewBuiltInRegistry registers every configured built-in provider.
func NewBuiltInRegistry(cfg ProvidersConfig) (*core.ProviderRegistry, error) {
	providers, err := BuiltInProviders(cfg)
	if err != nil {
		return nil, err
	}
	registry := core.NewProviderRegistry()
	for _, provider := range providers {
		if err := registry.Register(provider); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// DefaultScopeCatalog holds the scopes of all four built-in providers,
// whether or not they are configured.
func DefaultScopeCatalog() *core.ScopeCatalog {
	entries := make([]core.ScopeDescriptor, 0, 16)
	entries = append(entries, calendar.Scopes()...)
	entries = append(entries, gmail.Scopes()...)
	entries = append(entries, youtube.Scopes()...)
	entries = append(entries, notion.Scopes()...)
	return core.NewScopeCatalog(entries...)
}
