package calendar

import (
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/providers/google/common"
)

const (
	ProviderID = "google_calendar"

	ScopeRead   = "calendar.read"
	ScopeEvents = "calendar.events"
	ScopeManage = "calendar.manage"
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
			ProviderScope: "https://www.googleapis.com/auth/calendar.readonly",
			DisplayName:   "Read calendars",
			Description:   "See events on all your calendars.",
			Category:      "calendar",
			Required:      true,
		},
		{
			ProviderID:    ProviderID,
			ScopeID:       ScopeEvents,
			ProviderScope: "https://www.googleapis.com/auth/calendar.events",
			DisplayName:   "Manage events",
			Description:   "Create, change, and delete events on your calendars.",
			Category:      "calendar",
		},
		{
			ProviderID:    ProviderID,
			ScopeID:       ScopeManage,
			ProviderScope: "https://www.googleapis.com/auth/calendar",
			DisplayName:   "Full calendar access",
			Description:   "Create, share, and permanently delete calendars.",
			Category:      "calendar",
			Dangerous:     true,
		},
	})
}

func New(cfg Config) (core.Provider, error) {
	return common.NewProvider(ProviderID, core.ProviderKindCalendar, cfg, Scopes())
}
