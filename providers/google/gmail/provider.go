package gmail

import (
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/providers/google/common"
)

const (
	ProviderID = "google_gmail"

	ScopeRead   = "mail.read"
	ScopeSend   = "mail.send"
	ScopeModify = "mail.modify"
)

type Config = common.Config

func DefaultConfig() Config {
	return common.DefaultConfig()
}

func Scopes() []core.ScopeDescriptor {
	return common.WithIdentityScope(ProviderID, []core.ScopeDescriptor{
		{
			ProviderID:    ProviderID,
			ScopeID:       ScopeRead,
			ProviderScope: "https://www.googleapis.com/auth/gmail.readonly",
			DisplayName:   "Read mail",
			Description:   "View your email messages and settings.",
			Category:      "mail",
			Required:      true,
		},
		{
			ProviderID:    ProviderID,
			ScopeID:       ScopeSend,
			ProviderScope: "https://www.googleapis.com/auth/gmail.send",
			DisplayName:   "Send mail",
			Description:   "Send email on your behalf.",
			Category:      "mail",
			Dangerous:     true,
		},
		{
			ProviderID:    ProviderID,
			ScopeID:       ScopeModify,
			ProviderScope: "https://www.googleapis.com/auth/gmail.modify",
			DisplayName:   "Organize mail",
			Description:   "Read, compose, and label email. Does not permanently delete.",
			Category:      "mail",
			Dangerous:     true,
		},
	})
}

func New(cfg Config) (core.Provider, error) {
	return common.NewProvider(ProviderID, core.ProviderKindMail, cfg, Scopes())
}
