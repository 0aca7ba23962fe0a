package query

import (
	"context"

	"github.com/goliatone/go-integrations/core"
)

type IntegrationReader interface {
	ListIntegrations(ctx context.Context, userID string) ([]core.Integration, error)
}

type AuditLogReader interface {
	GetAuditLog(ctx context.Context, userID string, filter core.AuditFilter) ([]core.AuditEvent, error)
}

type AccessTokenReader interface {
	GetValidAccessToken(ctx context.Context, integrationID string) (core.AccessToken, error)
}

type ScopeCatalogReader interface {
	ScopeCatalog(providerID string) []core.ScopeDescriptor
}

type ListIntegrationsQuery struct {
	reader IntegrationReader
}

func NewListIntegrationsQuery(reader IntegrationReader) *ListIntegrationsQuery {
	return &ListIntegrationsQuery{reader: reader}
}

func (q *ListIntegrationsQuery) Query(ctx context.Context, msg ListIntegrationsMessage) ([]core.Integration, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: integration reader is required")
	}
	return q.reader.ListIntegrations(ctx, msg.UserID)
}

type GetAuditLogQuery struct {
	reader AuditLogReader
}

func NewGetAuditLogQuery(reader AuditLogReader) *GetAuditLogQuery {
	return &GetAuditLogQuery{reader: reader}
}

func (q *GetAuditLogQuery) Query(ctx context.Context, msg GetAuditLogMessage) ([]core.AuditEvent, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: audit log reader is required")
	}
	return q.reader.GetAuditLog(ctx, msg.UserID, msg.Filter)
}

// GetAccessTokenQuery may refresh the credential before answering.
type GetAccessTokenQuery struct {
	reader AccessTokenReader
}

func NewGetAccessTokenQuery(reader AccessTokenReader) *GetAccessTokenQuery {
	return &GetAccessTokenQuery{reader: reader}
}

func (q *GetAccessTokenQuery) Query(ctx context.Context, msg GetAccessTokenMessage) (core.AccessToken, error) {
	if q == nil || q.reader == nil {
		return core.AccessToken{}, queryDependencyError("query: access token reader is required")
	}
	return q.reader.GetValidAccessToken(ctx, msg.IntegrationID)
}

type ScopeCatalogQuery struct {
	reader ScopeCatalogReader
}

func NewScopeCatalogQuery(reader ScopeCatalogReader) *ScopeCatalogQuery {
	return &ScopeCatalogQuery{reader: reader}
}

func (q *ScopeCatalogQuery) Query(_ context.Context, msg ScopeCatalogMessage) ([]core.ScopeDescriptor, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: scope catalog reader is required")
	}
	return q.reader.ScopeCatalog(msg.ProviderID), nil
}
