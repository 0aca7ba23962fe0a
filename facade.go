package integrations

import (
	"fmt"

	integrationscommand "github.com/goliatone/go-integrations/command"
	integrationsquery "github.com/goliatone/go-integrations/query"
)

// CommandQueryService is the surface the facade wraps. *Service satisfies it.
type CommandQueryService interface {
	integrationscommand.MutatingService
	integrationsquery.IntegrationReader
	integrationsquery.AuditLogReader
	integrationsquery.AccessTokenReader
	integrationsquery.ScopeCatalogReader
}

type Commands struct {
	Initiate   *integrationscommand.InitiateCommand
	Callback   *integrationscommand.CallbackCommand
	Disconnect *integrationscommand.DisconnectCommand
	Refresh    *integrationscommand.RefreshCommand
}

type Queries struct {
	ListIntegrations *integrationsquery.ListIntegrationsQuery
	GetAuditLog      *integrationsquery.GetAuditLogQuery
	GetAccessToken   *integrationsquery.GetAccessTokenQuery
	ScopeCatalog     *integrationsquery.ScopeCatalogQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	auditReader integrationsquery.AuditLogReader
}

// WithAuditLogReader serves audit queries from reader instead of the
// service, for example a reporting replica.
func WithAuditLogReader(reader integrationsquery.AuditLogReader) FacadeOption {
	return func(options *facadeOptions) {
		options.auditReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("integrations: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	auditReader := cfg.auditReader
	if auditReader == nil {
		auditReader = service
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Initiate:   integrationscommand.NewInitiateCommand(service),
		Callback:   integrationscommand.NewCallbackCommand(service),
		Disconnect: integrationscommand.NewDisconnectCommand(service),
		Refresh:    integrationscommand.NewRefreshCommand(service),
	}
	facade.queries = Queries{
		ListIntegrations: integrationsquery.NewListIntegrationsQuery(service),
		GetAuditLog:      integrationsquery.NewGetAuditLogQuery(auditReader),
		GetAccessToken:   integrationsquery.NewGetAccessTokenQuery(service),
		ScopeCatalog:     integrationsquery.NewScopeCatalogQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*Service)(nil)
