package security

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

const dataKeySize = 32

// EnvelopeCipher seals each credential with a fresh data key. The integration
// id is used as associated data for both the payload and the wrapped key, so
// a ciphertext copied onto another integration's row never opens.
type EnvelopeCipher struct {
	wrapper KeyWrapper
}

func NewEnvelopeCipher(wrapper KeyWrapper) (*EnvelopeCipher, error) {
	if wrapper == nil {
		return nil, fmt.Errorf("security: key wrapper is required")
	}
	return &EnvelopeCipher{wrapper: wrapper}, nil
}

// NewLocalEnvelopeCipher builds a cipher backed by an in-process key ring.
func NewLocalEnvelopeCipher(keyID string, material string) (*EnvelopeCipher, error) {
	ring, err := NewMasterKeyRingFromString(keyID, material)
	if err != nil {
		return nil, err
	}
	return NewEnvelopeCipher(ring)
}

func (c *EnvelopeCipher) Metadata() (string, int) {
	if c == nil || c.wrapper == nil {
		return "", 0
	}
	return c.wrapper.ActiveKey()
}

func (c *EnvelopeCipher) Encrypt(ctx context.Context, integrationID string, plaintext []byte) ([]byte, error) {
	if c == nil || c.wrapper == nil {
		return nil, fmt.Errorf("security: envelope cipher is not configured")
	}
	aad, err := associatedData(integrationID)
	if err != nil {
		return nil, err
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}

	dataKey := make([]byte, dataKeySize)
	if _, err := io.ReadFull(rand.Reader, dataKey); err != nil {
		return nil, fmt.Errorf("security: data key generation failed: %w", err)
	}
	defer zero(dataKey)

	sealed, err := sealAESGCM(dataKey, plaintext, aad)
	if err != nil {
		return nil, err
	}
	wrapped, err := c.wrapper.WrapKey(ctx, dataKey, aad)
	if err != nil {
		return nil, err
	}
	keyID, version := c.wrapper.ActiveKey()
	return encodeEnvelope(envelope{
		KeyID:      keyID,
		Version:    version,
		Algorithm:  envelopeAlgorithm,
		Wrapper:    c.wrapper.Name(),
		WrappedKey: encodeBytes(wrapped),
		Ciphertext: encodeBytes(sealed),
	})
}

func (c *EnvelopeCipher) Decrypt(ctx context.Context, integrationID string, ciphertext []byte) ([]byte, error) {
	if c == nil || c.wrapper == nil {
		return nil, fmt.Errorf("security: envelope cipher is not configured")
	}
	aad, err := associatedData(integrationID)
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	if env.Wrapper != "" && env.Wrapper != c.wrapper.Name() {
		return nil, fmt.Errorf("security: envelope wrapped by %q, cipher uses %q", env.Wrapper, c.wrapper.Name())
	}
	wrapped, err := decodeBytes("data key", env.WrappedKey)
	if err != nil {
		return nil, err
	}
	sealed, err := decodeBytes("ciphertext", env.Ciphertext)
	if err != nil {
		return nil, err
	}
	dataKey, err := c.wrapper.UnwrapKey(ctx, env.KeyID, env.Version, wrapped, aad)
	if err != nil {
		return nil, err
	}
	defer zero(dataKey)
	return openAESGCM(dataKey, sealed, aad)
}

// NeedsRewrap reports whether ciphertext was sealed under a master key other
// than the active one.
func (c *EnvelopeCipher) NeedsRewrap(ciphertext []byte) (bool, error) {
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return false, err
	}
	keyID, version := c.Metadata()
	return meta.KeyID != keyID || meta.Version != version, nil
}

// Rewrap re-seals the data key under the active master key. The payload is
// left untouched.
func (c *EnvelopeCipher) Rewrap(ctx context.Context, integrationID string, ciphertext []byte) ([]byte, error) {
	if c == nil || c.wrapper == nil {
		return nil, fmt.Errorf("security: envelope cipher is not configured")
	}
	aad, err := associatedData(integrationID)
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	wrapped, err := decodeBytes("data key", env.WrappedKey)
	if err != nil {
		return nil, err
	}
	dataKey, err := c.wrapper.UnwrapKey(ctx, env.KeyID, env.Version, wrapped, aad)
	if err != nil {
		return nil, err
	}
	defer zero(dataKey)
	rewrapped, err := c.wrapper.WrapKey(ctx, dataKey, aad)
	if err != nil {
		return nil, err
	}
	env.KeyID, env.Version = c.wrapper.ActiveKey()
	env.Wrapper = c.wrapper.Name()
	env.WrappedKey = encodeBytes(rewrapped)
	return encodeEnvelope(env)
}

func associatedData(integrationID string) ([]byte, error) {
	integrationID = strings.TrimSpace(integrationID)
	if integrationID == "" {
		return nil, fmt.Errorf("security: integration id is required")
	}
	return []byte(integrationID), nil
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
