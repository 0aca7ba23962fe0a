package security

import (
	"context"
	"fmt"
	"strings"
)

const wrapperKMS = "kms"

// KMSClient is the subset of a managed key service used to wrap data keys.
// The encryption context is passed through unchanged.
type KMSClient interface {
	Encrypt(ctx context.Context, keyID string, plaintext []byte, encryptionContext map[string]string) ([]byte, error)
	Decrypt(ctx context.Context, keyID string, ciphertext []byte, encryptionContext map[string]string) ([]byte, error)
}

// KMSKeyWrapper delegates data key wrapping to a managed key service so the
// master key never leaves it.
type KMSKeyWrapper struct {
	client  KMSClient
	keyID   string
	version int
}

func NewKMSKeyWrapper(client KMSClient, keyID string, version int) (*KMSKeyWrapper, error) {
	if client == nil {
		return nil, fmt.Errorf("security: kms client is required")
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return nil, fmt.Errorf("security: kms key id is required")
	}
	if version <= 0 {
		version = 1
	}
	return &KMSKeyWrapper{client: client, keyID: keyID, version: version}, nil
}

func (w *KMSKeyWrapper) Name() string { return wrapperKMS }

func (w *KMSKeyWrapper) ActiveKey() (string, int) {
	return w.keyID, w.version
}

func (w *KMSKeyWrapper) WrapKey(ctx context.Context, dataKey []byte, associatedData []byte) ([]byte, error) {
	wrapped, err := w.client.Encrypt(ctx, w.keyID, dataKey, kmsContext(associatedData))
	if err != nil {
		return nil, fmt.Errorf("security: kms wrap: %w", err)
	}
	return wrapped, nil
}

func (w *KMSKeyWrapper) UnwrapKey(ctx context.Context, keyID string, _ int, wrapped []byte, associatedData []byte) ([]byte, error) {
	if keyID == "" {
		keyID = w.keyID
	}
	dataKey, err := w.client.Decrypt(ctx, keyID, wrapped, kmsContext(associatedData))
	if err != nil {
		return nil, fmt.Errorf("security: kms unwrap: %w", err)
	}
	return dataKey, nil
}

func kmsContext(associatedData []byte) map[string]string {
	return map[string]string{"integration_id": string(associatedData)}
}
