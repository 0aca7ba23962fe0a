package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integrations/core"
)

// MutatingService is the write side of the integration registry.
type MutatingService interface {
	Initiate(ctx context.Context, req core.InitiateRequest) (core.InitiateResponse, error)
	Callback(ctx context.Context, req core.CallbackRequest) (core.CallbackResponse, error)
	Disconnect(ctx context.Context, userID string, integrationID string) error
	RefreshIntegration(ctx context.Context, integrationID string) (core.RefreshOutcome, error)
}

type InitiateCommand struct {
	service MutatingService
}

func NewInitiateCommand(service MutatingService) *InitiateCommand {
	return &InitiateCommand{service: service}
}

func (c *InitiateCommand) Execute(ctx context.Context, msg InitiateMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: initiate service is required")
	}
	out, err := c.service.Initiate(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CallbackCommand struct {
	service MutatingService
}

func NewCallbackCommand(service MutatingService) *CallbackCommand {
	return &CallbackCommand{service: service}
}

func (c *CallbackCommand) Execute(ctx context.Context, msg CallbackMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: callback service is required")
	}
	out, err := c.service.Callback(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisconnectCommand struct {
	service MutatingService
}

func NewDisconnectCommand(service MutatingService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect service is required")
	}
	return c.service.Disconnect(ctx, msg.UserID, msg.IntegrationID)
}

type RefreshCommand struct {
	service MutatingService
}

func NewRefreshCommand(service MutatingService) *RefreshCommand {
	return &RefreshCommand{service: service}
}

// Execute refreshes one integration. The outcome is stored even when the
// refresh failed so callers can inspect the resulting status.
func (c *RefreshCommand) Execute(ctx context.Context, msg RefreshMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	out, err := c.service.RefreshIntegration(ctx, msg.IntegrationID)
	storeResult(ctx, out)
	return err
}

func storeResult[T any](ctx context.Context, value T) {
	if collector := gocmd.ResultFromContext[T](ctx); collector != nil {
		collector.Store(value)
	}
}
