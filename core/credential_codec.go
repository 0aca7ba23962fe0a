package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	CredentialPayloadFormatJSONV1 = "credential_set_json"
	CredentialPayloadVersionV1    = 1
)

// CredentialCodec turns a CredentialSet into the plaintext sealed by the
// vault. Format and version are stored alongside the ciphertext.
type CredentialCodec interface {
	Format() string
	Version() int
	Encode(credential CredentialSet) ([]byte, error)
	Decode(payload []byte) (CredentialSet, error)
}

type JSONCredentialCodec struct{}

func (JSONCredentialCodec) Format() string {
	return CredentialPayloadFormatJSONV1
}

func (JSONCredentialCodec) Version() int {
	return CredentialPayloadVersionV1
}

type jsonCredentialPayload struct {
	IntegrationID string    `json:"integration_id,omitempty"`
	TokenType     string    `json:"token_type,omitempty"`
	AccessToken   string    `json:"access_token,omitempty"`
	RefreshToken  string    `json:"refresh_token,omitempty"`
	Scopes        []string  `json:"scopes,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (JSONCredentialCodec) Encode(credential CredentialSet) ([]byte, error) {
	payload := jsonCredentialPayload{
		IntegrationID: strings.TrimSpace(credential.IntegrationID),
		TokenType:     strings.TrimSpace(credential.TokenType),
		AccessToken:   strings.TrimSpace(credential.AccessToken),
		RefreshToken:  strings.TrimSpace(credential.RefreshToken),
		Scopes:        append([]string(nil), credential.Scopes...),
		ExpiresAt:     credential.ExpiresAt.UTC(),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode credential payload: %w", err)
	}
	return encoded, nil
}

func (JSONCredentialCodec) Decode(payload []byte) (CredentialSet, error) {
	if len(payload) == 0 {
		return CredentialSet{}, fmt.Errorf("core: credential payload is empty")
	}
	decoded := jsonCredentialPayload{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return CredentialSet{}, fmt.Errorf("core: decode credential payload: %w", err)
	}
	return CredentialSet{
		IntegrationID: strings.TrimSpace(decoded.IntegrationID),
		TokenType:     strings.TrimSpace(decoded.TokenType),
		AccessToken:   strings.TrimSpace(decoded.AccessToken),
		RefreshToken:  strings.TrimSpace(decoded.RefreshToken),
		Scopes:        append([]string(nil), decoded.Scopes...),
		ExpiresAt:     decoded.ExpiresAt.UTC(),
	}, nil
}
