package command

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integrations/core"
)

type stubMutatingService struct {
	initiateFn   func(context.Context, core.InitiateRequest) (core.InitiateResponse, error)
	callbackFn   func(context.Context, core.CallbackRequest) (core.CallbackResponse, error)
	disconnectFn func(context.Context, string, string) error
	refreshFn    func(context.Context, string) (core.RefreshOutcome, error)
}

func (s stubMutatingService) Initiate(ctx context.Context, req core.InitiateRequest) (core.InitiateResponse, error) {
	if s.initiateFn == nil {
		return core.InitiateResponse{}, nil
	}
	return s.initiateFn(ctx, req)
}

func (s stubMutatingService) Callback(ctx context.Context, req core.CallbackRequest) (core.CallbackResponse, error) {
	if s.callbackFn == nil {
		return core.CallbackResponse{}, nil
	}
	return s.callbackFn(ctx, req)
}

func (s stubMutatingService) Disconnect(ctx context.Context, userID string, integrationID string) error {
	if s.disconnectFn == nil {
		return nil
	}
	return s.disconnectFn(ctx, userID, integrationID)
}

func (s stubMutatingService) RefreshIntegration(ctx context.Context, integrationID string) (core.RefreshOutcome, error) {
	if s.refreshFn == nil {
		return core.RefreshOutcome{}, nil
	}
	return s.refreshFn(ctx, integrationID)
}

func TestInitiateCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.InitiateResponse{AuthorizationURL: "https://accounts.example.com/auth", State: "st"}
	called := false

	svc := stubMutatingService{
		initiateFn: func(_ context.Context, req core.InitiateRequest) (core.InitiateResponse, error) {
			called = true
			if req.ProviderID != "google_calendar" || req.UserID != "user-1" {
				t.Fatalf("unexpected initiate request: %#v", req)
			}
			return expected, nil
		},
	}

	cmd := NewInitiateCommand(svc)
	collector := gocmd.NewResult[core.InitiateResponse]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, InitiateMessage{Request: core.InitiateRequest{
		UserID:     "user-1",
		ProviderID: "google_calendar",
		Scopes:     []string{"calendar.read"},
	}})
	if err != nil {
		t.Fatalf("execute initiate: %v", err)
	}
	if !called {
		t.Fatalf("expected initiate service invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.AuthorizationURL != expected.AuthorizationURL || result.State != expected.State {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestMutationCommands_DelegateToService(t *testing.T) {
	t.Run("callback", func(t *testing.T) {
		svc := stubMutatingService{
			callbackFn: func(_ context.Context, req core.CallbackRequest) (core.CallbackResponse, error) {
				if req.Code != "code-1" || req.State != "st" {
					t.Fatalf("unexpected callback request: %#v", req)
				}
				return core.CallbackResponse{IntegrationID: "int-1", Status: core.IntegrationStatusActive}, nil
			},
		}
		collector := gocmd.NewResult[core.CallbackResponse]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		err := NewCallbackCommand(svc).Execute(ctx, CallbackMessage{Request: core.CallbackRequest{
			Code:       "code-1",
			State:      "st",
			ProviderID: "google_calendar",
		}})
		if err != nil {
			t.Fatalf("execute callback: %v", err)
		}
		stored, ok := collector.Load()
		if !ok || stored.IntegrationID != "int-1" {
			t.Fatalf("unexpected callback result: %#v", stored)
		}
	})

	t.Run("disconnect", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			disconnectFn: func(_ context.Context, userID string, integrationID string) error {
				called = true
				if userID != "user-1" || integrationID != "int-1" {
					t.Fatalf("unexpected disconnect payload: %q %q", userID, integrationID)
				}
				return nil
			},
		}
		if err := NewDisconnectCommand(svc).Execute(context.Background(), DisconnectMessage{UserID: "user-1", IntegrationID: "int-1"}); err != nil {
			t.Fatalf("execute disconnect: %v", err)
		}
		if !called {
			t.Fatalf("expected disconnect invocation")
		}
	})

	t.Run("refresh stores outcome on failure", func(t *testing.T) {
		failure := errors.New("provider unavailable")
		svc := stubMutatingService{
			refreshFn: func(_ context.Context, integrationID string) (core.RefreshOutcome, error) {
				return core.RefreshOutcome{IntegrationID: integrationID, Failed: true, ErrorCount: 1}, failure
			},
		}
		collector := gocmd.NewResult[core.RefreshOutcome]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		err := NewRefreshCommand(svc).Execute(ctx, RefreshMessage{IntegrationID: "int-1"})
		if !errors.Is(err, failure) {
			t.Fatalf("expected refresh failure, got %v", err)
		}
		stored, ok := collector.Load()
		if !ok || !stored.Failed || stored.ErrorCount != 1 {
			t.Fatalf("expected failed outcome to be stored, got %#v", stored)
		}
	})
}

func TestMessages_Validate(t *testing.T) {
	cases := []struct {
		name    string
		msg     interface{ Validate() error }
		wantErr bool
	}{
		{name: "initiate ok", msg: InitiateMessage{Request: core.InitiateRequest{UserID: "u", ProviderID: "notion"}}},
		{name: "initiate blank scope", msg: InitiateMessage{Request: core.InitiateRequest{UserID: "u", ProviderID: "notion", Scopes: []string{" "}}}, wantErr: true},
		{name: "callback with error only", msg: CallbackMessage{Request: core.CallbackRequest{State: "s", ProviderID: "notion", Error: "access_denied"}}},
		{name: "callback missing code", msg: CallbackMessage{Request: core.CallbackRequest{State: "s", ProviderID: "notion"}}, wantErr: true},
		{name: "callback missing state", msg: CallbackMessage{Request: core.CallbackRequest{Code: "c", ProviderID: "notion"}}, wantErr: true},
		{name: "disconnect missing user", msg: DisconnectMessage{IntegrationID: "int-1"}, wantErr: true},
		{name: "refresh missing id", msg: RefreshMessage{}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}
