package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestMapErrorDomainTaxonomy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		textCode string
		code     int
	}{
		{"validation", NewValidationError("scopes", "bad"), ServiceErrorValidation, http.StatusBadRequest},
		{"state expired", &StateError{Kind: StateExpired}, ServiceErrorStateExpired, http.StatusUnauthorized},
		{"state used", &StateError{Kind: StateAlreadyUsed}, ServiceErrorStateAlreadyUsed, http.StatusUnauthorized},
		{"transient provider", &ProviderError{Transient: true}, ServiceErrorProviderTransient, http.StatusServiceUnavailable},
		{"permanent provider", &ProviderError{StatusCode: 400}, ServiceErrorProviderPermanent, http.StatusBadGateway},
		{"credential", &CredentialError{IntegrationID: "i1"}, ServiceErrorNeedsReauthorization, http.StatusUnauthorized},
		{"conflict", &ConflictError{UserID: "u", ProviderID: "p"}, ServiceErrorConflict, http.StatusConflict},
		{"not found", fmt.Errorf("wrap: %w", ErrIntegrationNotFound), ServiceErrorNotFound, http.StatusNotFound},
		{"lease", ErrLeaseHeld, ServiceErrorLeaseHeld, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := MapError(tt.err)
			if mapped == nil {
				t.Fatalf("expected mapped error")
			}
			if mapped.TextCode != tt.textCode {
				t.Fatalf("expected text code %s, got %s", tt.textCode, mapped.TextCode)
			}
			if mapped.Code != tt.code {
				t.Fatalf("expected code %d, got %d", tt.code, mapped.Code)
			}
		})
	}
}

func TestMapErrorFallsBackToInternal(t *testing.T) {
	mapped := MapError(errors.New("disk on fire"))
	if mapped == nil || mapped.TextCode == "" || mapped.Code == 0 {
		t.Fatalf("expected a complete error envelope, got %+v", mapped)
	}
	if MapError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestCredentialErrorMatchesReauthorization(t *testing.T) {
	cause := errors.New("decrypt failed")
	err := error(&CredentialError{IntegrationID: "i1", Reason: "bad", Cause: cause})
	if !errors.Is(err, ErrNeedsReauthorization) || !errors.Is(err, cause) {
		t.Fatalf("expected credential error to match sentinel and cause")
	}
}

func TestServiceMapErrorKeepsDomainErrors(t *testing.T) {
	svc := &Service{errorMapper: defaultErrorMapper}
	stateErr := &StateError{Kind: StateNotFound}
	if got := svc.mapError(stateErr); got != error(stateErr) {
		t.Fatalf("expected domain error to pass through, got %T", got)
	}
	if got := svc.mapError(context.Canceled); !errors.Is(got, context.Canceled) {
		t.Fatalf("expected cancellation to pass through")
	}
	var rich *goerrors.Error
	if got := svc.mapError(errors.New("boom")); !goerrors.As(got, &rich) {
		t.Fatalf("expected infrastructure error to be mapped, got %T", got)
	}
}

func TestIsTransientProviderError(t *testing.T) {
	wrapped := fmt.Errorf("call: %w", &ProviderError{Transient: true})
	if !IsTransientProviderError(wrapped) {
		t.Fatalf("expected wrapped transient error to be detected")
	}
	if IsTransientProviderError(&ProviderError{}) || IsTransientProviderError(errors.New("x")) {
		t.Fatalf("expected non-transient errors to be rejected")
	}
}
