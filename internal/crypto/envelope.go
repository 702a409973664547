package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Envelope encrypts records with AES-256-GCM under a fresh data key per
// record.
type Envelope struct {
	keys KeyManager
}

// NewEnvelope creates an envelope encryptor backed by the given key
// manager.
func NewEnvelope(keys KeyManager) *Envelope {
	return &Envelope{keys: keys}
}

// Sealed is an encrypted record together with everything needed to
// decrypt it except the master key.
type Sealed struct {
	Ciphertext []byte
	WrappedKey []byte
	Nonce      []byte
	KeyID      string
}

// Encrypt seals plaintext under a fresh data key wrapped with the active
// master key. aad is authenticated but not encrypted; Decrypt must be
// given the same bytes.
func (e *Envelope) Encrypt(ctx context.Context, plaintext, aad []byte) (*Sealed, error) {
	keyID, err := e.keys.ActiveKeyID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve active key: %w", err)
	}
	return e.EncryptWithKey(ctx, plaintext, aad, keyID)
}

// EncryptWithKey seals plaintext under a fresh data key wrapped with the
// named master key. Key rotation re-encrypts existing records through
// this path.
func (e *Envelope) EncryptWithKey(ctx context.Context, plaintext, aad []byte, keyID string) (*Sealed, error) {
	dataKey, wrapped, err := e.keys.GenerateDataKey(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("generate data key: %w", err)
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return &Sealed{
		Ciphertext: gcm.Seal(nil, nonce, plaintext, aad),
		WrappedKey: wrapped,
		Nonce:      nonce,
		KeyID:      keyID,
	}, nil
}

// Decrypt unwraps the record's data key and opens the ciphertext. A
// wrong aad, a tampered ciphertext, or an unknown master key all fail.
func (e *Envelope) Decrypt(ctx context.Context, sealed *Sealed, aad []byte) ([]byte, error) {
	dataKey, err := e.keys.UnwrapDataKey(ctx, sealed.WrappedKey, sealed.KeyID)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, sealed.Nonce, sealed.Ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("open sealed record: %w", err)
	}
	return plaintext, nil
}
