package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integrations/core"
)

var (
	_ gocmd.Querier[ListIntegrationsMessage, []core.Integration] = (*ListIntegrationsQuery)(nil)
	_ gocmd.Querier[GetAuditLogMessage, []core.AuditEvent]       = (*GetAuditLogQuery)(nil)
	_ gocmd.Querier[GetAccessTokenMessage, core.AccessToken]     = (*GetAccessTokenQuery)(nil)
	_ gocmd.Querier[ScopeCatalogMessage, []core.ScopeDescriptor] = (*ScopeCatalogQuery)(nil)
)
