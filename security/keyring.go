package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

const wrapperLocal = "local"

// KeyWrapper wraps and unwraps per-integration data keys with a master key.
// The associated data binds a wrapped key to its integration.
type KeyWrapper interface {
	Name() string
	ActiveKey() (keyID string, version int)
	WrapKey(ctx context.Context, dataKey []byte, associatedData []byte) ([]byte, error)
	UnwrapKey(ctx context.Context, keyID string, version int, wrapped []byte, associatedData []byte) ([]byte, error)
}

// KeyRotationWindow gates when a master key version may be used.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

type masterKey struct {
	material []byte
	window   KeyRotationWindow
}

// MasterKeyRing holds versioned AES master keys. New data keys are always
// wrapped with the active version; older versions stay available to unwrap
// until they are retired.
type MasterKeyRing struct {
	mu     sync.RWMutex
	keyID  string
	active int
	keys   map[int]masterKey
	now    func() time.Time
}

type KeyRingOption func(*MasterKeyRing)

func WithKeyRingClock(now func() time.Time) KeyRingOption {
	return func(ring *MasterKeyRing) {
		if now != nil {
			ring.now = now
		}
	}
}

// WithKeyWindow restricts when a version may be used to unwrap.
func WithKeyWindow(version int, window KeyRotationWindow) KeyRingOption {
	return func(ring *MasterKeyRing) {
		if key, ok := ring.keys[version]; ok {
			key.window = window
			ring.keys[version] = key
		}
	}
}

// NewMasterKeyRing creates a ring whose first active version is 1.
func NewMasterKeyRing(keyID string, material []byte, opts ...KeyRingOption) (*MasterKeyRing, error) {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		keyID = "master"
	}
	key := bytes.TrimSpace(material)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	ring := &MasterKeyRing{
		keyID:  keyID,
		active: 1,
		keys:   map[int]masterKey{1: {material: normalizeKey(key)}},
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ring)
		}
	}
	return ring, nil
}

func NewMasterKeyRingFromString(keyID string, material string, opts ...KeyRingOption) (*MasterKeyRing, error) {
	return NewMasterKeyRing(keyID, []byte(material), opts...)
}

// Rotate installs material as the next version and makes it active. The
// previous versions remain usable for unwrapping.
func (r *MasterKeyRing) Rotate(material []byte) (int, error) {
	key := bytes.TrimSpace(material)
	if len(key) == 0 {
		return 0, fmt.Errorf("security: key material is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := 0
	for version := range r.keys {
		if version > next {
			next = version
		}
	}
	next++
	r.keys[next] = masterKey{material: normalizeKey(key)}
	r.active = next
	return next, nil
}

// Retire stops a non-active version from unwrapping anything sealed after
// at. Ciphertexts still wrapped by it fail to open past that point.
func (r *MasterKeyRing) Retire(version int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if version == r.active {
		return fmt.Errorf("security: cannot retire active key version %d", version)
	}
	key, ok := r.keys[version]
	if !ok {
		return fmt.Errorf("security: unknown key version %d", version)
	}
	key.window.NotAfter = at.UTC()
	r.keys[version] = key
	return nil
}

func (r *MasterKeyRing) Versions() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.keys))
	for version := range r.keys {
		out = append(out, version)
	}
	sort.Ints(out)
	return out
}

func (r *MasterKeyRing) Name() string { return wrapperLocal }

func (r *MasterKeyRing) ActiveKey() (string, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.keyID, r.active
}

func (r *MasterKeyRing) WrapKey(_ context.Context, dataKey []byte, associatedData []byte) ([]byte, error) {
	r.mu.RLock()
	key := r.keys[r.active]
	r.mu.RUnlock()
	return sealAESGCM(key.material, dataKey, associatedData)
}

func (r *MasterKeyRing) UnwrapKey(_ context.Context, keyID string, version int, wrapped []byte, associatedData []byte) ([]byte, error) {
	r.mu.RLock()
	key, ok := r.keys[version]
	ringID := r.keyID
	r.mu.RUnlock()
	if keyID != "" && keyID != ringID {
		return nil, fmt.Errorf("security: key id mismatch: got %q want %q", keyID, ringID)
	}
	if !ok {
		return nil, fmt.Errorf("security: unknown key version %d", version)
	}
	if !key.window.Allows(r.now()) {
		return nil, fmt.Errorf("security: key version %d is retired", version)
	}
	return openAESGCM(key.material, wrapped, associatedData)
}

// sealAESGCM returns nonce||ciphertext.
func sealAESGCM(key []byte, plaintext []byte, associatedData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, associatedData), nil
}

func openAESGCM(key []byte, sealed []byte, associatedData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("security: sealed payload is truncated")
	}
	nonce, payload := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, payload, associatedData)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

func normalizeKey(value []byte) []byte {
	if len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	return sum[:]
}
