package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/ports"
)

// EnvelopeKey is the settings key holding the ciphertext of an encrypted state.
const EnvelopeKey = "__encrypted__"

// ErrNotEncrypted is returned when an encrypting backend finds a plain state.
var ErrNotEncrypted = errors.New("state is missing encrypted data envelope")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.StateBackend
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts the whole state
// document with AES-GCM. The backend only ever sees an opaque envelope.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, fmt.Errorf("active key must be 32 bytes (AES-256), got %d", len(config.ActiveKey))
	}
	for i, k := range config.FallbackKeys {
		if len(k) != 32 {
			return nil, fmt.Errorf("fallback key %d must be 32 bytes (AES-256), got %d", i, len(k))
		}
	}
	return func(next ports.StateBackend) ports.StateBackend {
		return &encryptionMiddleware{next: next, config: config}
	}, nil
}

func (m *encryptionMiddleware) Save(ctx context.Context, state *domain.AppState) error {
	plainText, err := domain.MarshalState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	envelope := domain.NewAppState()
	envelope.Settings[EnvelopeKey] = base64.StdEncoding.EncodeToString(ciphertext)
	return m.next.Save(ctx, envelope)
}

// Load fails without touching the stored document when no key opens it, so a
// wrong key never gets the state quarantined.
func (m *encryptionMiddleware) Load(ctx context.Context) (*domain.AppState, error) {
	envelope, err := m.next.Load(ctx)
	if err != nil {
		return nil, err
	}

	encryptedStr, ok := envelope.Settings[EnvelopeKey].(string)
	if !ok {
		return nil, ErrNotEncrypted
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedStr)
	if err != nil {
		return nil, errors.Join(domain.ErrStateCorrupt, fmt.Errorf("failed to decode ciphertext base64: %w", err))
	}

	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state: %w", err)
	}

	state, err := domain.UnmarshalState(plainText)
	if err != nil {
		return nil, errors.Join(domain.ErrStateCorrupt, err)
	}
	return state, nil
}

func (m *encryptionMiddleware) Quarantine(ctx context.Context) (string, error) {
	return m.next.Quarantine(ctx)
}

func (m *encryptionMiddleware) Delete(ctx context.Context) error {
	return m.next.Delete(ctx)
}

// Acquire keeps the ownership lease of the wrapped backend, if it has one.
func (m *encryptionMiddleware) Acquire(ctx context.Context) (func(context.Context) error, error) {
	if ex, ok := m.next.(ports.Exclusive); ok {
		return ex.Acquire(ctx)
	}
	return func(context.Context) error { return nil }, nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
