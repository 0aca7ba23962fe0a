package query

import (
	"strings"

	"github.com/goliatone/go-integrations/core"
)

const (
	TypeListIntegrations = "integrations.query.list"
	TypeGetAuditLog      = "integrations.query.audit_log"
	TypeGetAccessToken   = "integrations.query.access_token"
	TypeScopeCatalog     = "integrations.query.scope_catalog"

	maxAuditPageSize = 500
)

type ListIntegrationsMessage struct {
	UserID string
}

func (ListIntegrationsMessage) Type() string { return TypeListIntegrations }

func (m ListIntegrationsMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	return nil
}

// GetAuditLogMessage lists the audit trail of one user. Filter.UserID is
// ignored in favour of UserID.
type GetAuditLogMessage struct {
	UserID string
	Filter core.AuditFilter
}

func (GetAuditLogMessage) Type() string { return TypeGetAuditLog }

func (m GetAuditLogMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	if m.Filter.Limit < 0 || m.Filter.Limit > maxAuditPageSize {
		return queryValidationError("limit", "limit must be between 0 and 500")
	}
	if m.Filter.Offset < 0 {
		return queryValidationError("offset", "offset must not be negative")
	}
	if !m.Filter.Since.IsZero() && !m.Filter.Until.IsZero() && m.Filter.Until.Before(m.Filter.Since) {
		return queryValidationError("until", "until must not be before since")
	}
	return nil
}

type GetAccessTokenMessage struct {
	IntegrationID string
}

func (GetAccessTokenMessage) Type() string { return TypeGetAccessToken }

func (m GetAccessTokenMessage) Validate() error {
	if strings.TrimSpace(m.IntegrationID) == "" {
		return queryValidationError("integration_id", "integration id is required")
	}
	return nil
}

type ScopeCatalogMessage struct {
	ProviderID string
}

func (ScopeCatalogMessage) Type() string { return TypeScopeCatalog }

func (m ScopeCatalogMessage) Validate() error {
	if strings.TrimSpace(m.ProviderID) == "" {
		return queryValidationError("provider_id", "provider id is required")
	}
	return nil
}
