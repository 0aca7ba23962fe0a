package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Signer attaches an access token to an outbound provider API request.
type Signer interface {
	Sign(ctx context.Context, req *http.Request, token AccessToken) error
}

type BearerTokenSigner struct{}

func (BearerTokenSigner) Sign(_ context.Context, req *http.Request, token AccessToken) error {
	if req == nil {
		return fmt.Errorf("core: http request is required")
	}
	value := strings.TrimSpace(token.Token)
	if value == "" {
		return fmt.Errorf("core: access token is required for bearer signing")
	}
	req.Header.Set("Authorization", "Bearer "+value)
	return nil
}

// SignRequest resolves a valid access token for the integration and signs req
// with it. Downstream domain tools use it instead of handling tokens.
func (s *Service) SignRequest(ctx context.Context, integrationID string, req *http.Request) error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	if req == nil {
		return NewValidationError("request", "http request is required")
	}
	token, err := s.GetValidAccessToken(ctx, integrationID)
	if err != nil {
		return err
	}
	return BearerTokenSigner{}.Sign(ctx, req, token)
}
