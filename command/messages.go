package command

import (
	"strings"

	"github.com/goliatone/go-integrations/core"
)

const (
	TypeInitiate   = "integrations.command.initiate"
	TypeCallback   = "integrations.command.callback"
	TypeDisconnect = "integrations.command.disconnect"
	TypeRefresh    = "integrations.command.refresh"
)

type InitiateMessage struct {
	Request core.InitiateRequest
}

func (InitiateMessage) Type() string { return TypeInitiate }

func (m InitiateMessage) Validate() error {
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.Request.ProviderID) == "" {
		return commandValidationError("provider_id", "provider id is required")
	}
	for _, scope := range m.Request.Scopes {
		if strings.TrimSpace(scope) == "" {
			return commandValidationError("scopes", "scope ids must not be blank")
		}
	}
	return nil
}

// CallbackMessage carries the query parameters of the provider redirect.
// Either Code or Error must be present.
type CallbackMessage struct {
	Request core.CallbackRequest
}

func (CallbackMessage) Type() string { return TypeCallback }

func (m CallbackMessage) Validate() error {
	if strings.TrimSpace(m.Request.State) == "" {
		return commandValidationError("state", "state is required")
	}
	if strings.TrimSpace(m.Request.ProviderID) == "" {
		return commandValidationError("provider_id", "provider id is required")
	}
	if strings.TrimSpace(m.Request.Code) == "" && strings.TrimSpace(m.Request.Error) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	return nil
}

type DisconnectMessage struct {
	UserID        string
	IntegrationID string
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.IntegrationID) == "" {
		return commandValidationError("integration_id", "integration id is required")
	}
	return nil
}

type RefreshMessage struct {
	IntegrationID string
}

func (RefreshMessage) Type() string { return TypeRefresh }

func (m RefreshMessage) Validate() error {
	if strings.TrimSpace(m.IntegrationID) == "" {
		return commandValidationError("integration_id", "integration id is required")
	}
	return nil
}
