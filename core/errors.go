package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ServiceErrorValidation           = "INTEGRATION_VALIDATION"
	ServiceErrorProviderNotFound     = "INTEGRATION_PROVIDER_NOT_FOUND"
	ServiceErrorNotFound             = "INTEGRATION_NOT_FOUND"
	ServiceErrorStateNotFound        = "INTEGRATION_STATE_NOT_FOUND"
	ServiceErrorStateExpired         = "INTEGRATION_STATE_EXPIRED"
	ServiceErrorStateAlreadyUsed     = "INTEGRATION_STATE_ALREADY_USED"
	ServiceErrorStateMismatch        = "INTEGRATION_STATE_PROVIDER_MISMATCH"
	ServiceErrorProviderTransient    = "INTEGRATION_PROVIDER_TRANSIENT"
	ServiceErrorProviderPermanent    = "INTEGRATION_PROVIDER_PERMANENT"
	ServiceErrorNeedsReauthorization = "INTEGRATION_NEEDS_REAUTHORIZATION"
	ServiceErrorConflict             = "INTEGRATION_CONFLICT"
	ServiceErrorLeaseHeld            = "INTEGRATION_LEASE_HELD"
	ServiceErrorInternal             = "INTEGRATION_INTERNAL_ERROR"
)

// ErrNeedsReauthorization is matched by every CredentialError.
var ErrNeedsReauthorization = errors.New("core: needs reauthorization")

// ServiceErrorConverter is implemented by the domain error taxonomy.
type ServiceErrorConverter interface {
	ToServiceError() *goerrors.Error
}

type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field string, format string, args ...any) *ValidationError {
	return &ValidationError{Field: strings.TrimSpace(field), Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "core: validation failed"
	}
	if e.Field == "" {
		return "core: " + e.Message
	}
	return fmt.Sprintf("core: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) ToServiceError() *goerrors.Error {
	field := ""
	message := "validation failed"
	if e != nil {
		field = e.Field
		message = e.Message
	}
	return goerrors.NewValidation(e.Error(), goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ServiceErrorValidation)
}

type StateErrorKind string

const (
	StateNotFound         StateErrorKind = "not_found"
	StateExpired          StateErrorKind = "expired"
	StateAlreadyUsed      StateErrorKind = "already_used"
	StateProviderMismatch StateErrorKind = "provider_mismatch"
)

// StateError rejects an authorization state. It is never retried.
type StateError struct {
	Kind  StateErrorKind
	State string
}

func (e *StateError) Error() string {
	if e == nil {
		return "core: authorization state rejected"
	}
	return fmt.Sprintf("core: authorization state %s", strings.ReplaceAll(string(e.Kind), "_", " "))
}

func (e *StateError) Is(target error) bool {
	other, ok := target.(*StateError)
	if !ok || e == nil {
		return false
	}
	return other.Kind == "" || other.Kind == e.Kind
}

func (e *StateError) ToServiceError() *goerrors.Error {
	textCode := ServiceErrorStateNotFound
	if e != nil {
		switch e.Kind {
		case StateExpired:
			textCode = ServiceErrorStateExpired
		case StateAlreadyUsed:
			textCode = ServiceErrorStateAlreadyUsed
		case StateProviderMismatch:
			textCode = ServiceErrorStateMismatch
		}
	}
	return goerrors.New(e.Error(), goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(textCode)
}

func IsStateError(err error, kind StateErrorKind) bool {
	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		return false
	}
	return kind == "" || stateErr.Kind == kind
}

// ProviderError wraps an upstream failure. Transient errors are retried with
// bounded backoff; permanent ones surface immediately.
type ProviderError struct {
	ProviderID string
	Operation  string
	StatusCode int
	Code       string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "core: provider error"
	}
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	parts := []string{fmt.Sprintf("core: provider %q %s failed (%s)", e.ProviderID, e.Operation, kind)}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status %d", e.StatusCode))
	}
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *ProviderError) ToServiceError() *goerrors.Error {
	textCode := ServiceErrorProviderPermanent
	code := http.StatusBadGateway
	if e != nil && e.Transient {
		textCode = ServiceErrorProviderTransient
		code = http.StatusServiceUnavailable
	}
	metadata := map[string]any{}
	if e != nil {
		metadata["provider_id"] = e.ProviderID
		metadata["operation"] = e.Operation
		if e.StatusCode > 0 {
			metadata["status_code"] = e.StatusCode
		}
		if e.Code != "" {
			metadata["provider_code"] = e.Code
		}
	}
	return goerrors.New(e.Error(), goerrors.CategoryExternal).
		WithCode(code).
		WithTextCode(textCode).
		WithMetadata(metadata)
}

func IsTransientProviderError(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr) && providerErr.Transient
}

// CredentialError covers missing and undecryptable credentials. It is treated
// like a revoked credential: the caller must reauthorize.
type CredentialError struct {
	IntegrationID string
	Reason        string
	Cause         error
}

func (e *CredentialError) Error() string {
	if e == nil {
		return ErrNeedsReauthorization.Error()
	}
	msg := fmt.Sprintf("core: integration %q needs reauthorization", e.IntegrationID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *CredentialError) Unwrap() []error {
	if e == nil || e.Cause == nil {
		return []error{ErrNeedsReauthorization}
	}
	return []error{ErrNeedsReauthorization, e.Cause}
}

func (e *CredentialError) ToServiceError() *goerrors.Error {
	integrationID := ""
	if e != nil {
		integrationID = e.IntegrationID
	}
	return goerrors.New(e.Error(), goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(ServiceErrorNeedsReauthorization).
		WithMetadata(map[string]any{"integration_id": integrationID})
}

type ConflictError struct {
	UserID     string
	ProviderID string
	ExistingID string
}

func (e *ConflictError) Error() string {
	if e == nil {
		return ErrActiveIntegrationExists.Error()
	}
	return fmt.Sprintf("core: active integration already exists for user %q provider %q", e.UserID, e.ProviderID)
}

func (e *ConflictError) Unwrap() error {
	return ErrActiveIntegrationExists
}

func (e *ConflictError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{}
	if e != nil {
		metadata["provider_id"] = e.ProviderID
		if e.ExistingID != "" {
			metadata["integration_id"] = e.ExistingID
		}
	}
	return goerrors.New(e.Error(), goerrors.CategoryConflict).
		WithCode(http.StatusConflict).
		WithTextCode(ServiceErrorConflict).
		WithMetadata(metadata)
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var converter ServiceErrorConverter
	if errors.As(err, &converter) {
		return ensureServiceErrorEnvelope(converter.ToServiceError())
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrIntegrationNotFound), errors.Is(err, ErrConsentNotFound):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorNotFound)
	case errors.Is(err, ErrLeaseHeld), errors.Is(err, ErrLeaseLost):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ServiceErrorLeaseHeld)
	case errors.Is(err, ErrInvalidIntegrationStatusTransition):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ServiceErrorConflict)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "provider") && strings.Contains(msg, "not registered"):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorProviderNotFound)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ServiceErrorValidation)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorValidation
	case goerrors.CategoryNotFound:
		return ServiceErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ServiceErrorNeedsReauthorization
	case goerrors.CategoryConflict:
		return ServiceErrorConflict
	case goerrors.CategoryExternal:
		return ServiceErrorProviderTransient
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// MapError converts any error into the go-errors envelope used by the
// command and query layers.
func MapError(err error) *goerrors.Error {
	return serviceErrorMapper(err)
}
