package youtube

import (
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/providers/google/common"
)

const (
	ProviderID = "google_youtube"

	ScopeRead   = "video.read"
	ScopeManage = "video.manage"
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
			ProviderScope: "https://www.googleapis.com/auth/youtube.readonly",
			DisplayName:   "Read video metadata",
			Description:   "View your channel, playlists, and video details.",
			Category:      "video",
			Required:      true,
		},
		{
			ProviderID:    ProviderID,
			ScopeID:       ScopeManage,
			ProviderScope: "https://www.googleapis.com/auth/youtube",
			DisplayName:   "Manage videos",
			Description:   "Edit video metadata and manage playlists.",
			Category:      "video",
			Dangerous:     true,
		},
	})
}

func New(cfg Config) (core.Provider, error) {
	return common.NewProvider(ProviderID, core.ProviderKindVideo, cfg, Scopes())
}
