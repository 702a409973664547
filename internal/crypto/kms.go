// Package crypto provides envelope encryption for records at rest: a
// per-record data key sealed with AES-256-GCM, with the data key itself
// wrapped by a master key held in a key manager.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// KeyManager wraps and unwraps per-record data keys under named master
// keys. ActiveKeyID names the master key new records are wrapped with;
// older keys stay resolvable so existing records remain readable until
// they are rotated.
type KeyManager interface {
	GenerateDataKey(ctx context.Context, keyID string) (plaintext, wrapped []byte, err error)
	UnwrapDataKey(ctx context.Context, wrapped []byte, keyID string) ([]byte, error)
	ActiveKeyID(ctx context.Context) (string, error)
}

// LocalKeyManager keeps 256-bit master keys in memory, optionally
// persisting them hex-encoded under a directory so restarts keep old
// records readable. Data keys are wrapped with AES-GCM under the master
// key.
type LocalKeyManager struct {
	mu       sync.Mutex
	dir      string
	activeID string
	keys     map[string][]byte
}

// NewLocalKeyManager creates a key manager with the given active key id.
// dir may be empty for a purely in-memory manager.
func NewLocalKeyManager(dir, activeKeyID string) (*LocalKeyManager, error) {
	if activeKeyID == "" {
		return nil, fmt.Errorf("active key id is required")
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create key directory: %w", err)
		}
	}
	return &LocalKeyManager{
		dir:      dir,
		activeID: activeKeyID,
		keys:     make(map[string][]byte),
	}, nil
}

// ActiveKeyID returns the master key id used for new records.
func (m *LocalKeyManager) ActiveKeyID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID, nil
}

// SetActiveKeyID switches the master key used for new records. The key is
// created on first use; previously active keys remain available for
// unwrapping.
func (m *LocalKeyManager) SetActiveKeyID(keyID string) error {
	if keyID == "" {
		return fmt.Errorf("active key id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeID = keyID
	return nil
}

// GenerateDataKey creates a fresh 256-bit data key and returns it both in
// plaintext and wrapped under the named master key.
func (m *LocalKeyManager) GenerateDataKey(ctx context.Context, keyID string) (plaintext, wrapped []byte, err error) {
	master, err := m.masterKey(keyID, true)
	if err != nil {
		return nil, nil, err
	}

	plaintext = make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, plaintext); err != nil {
		return nil, nil, fmt.Errorf("generate data key: %w", err)
	}

	wrapped, err = gcmSeal(master, plaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("wrap data key: %w", err)
	}
	return plaintext, wrapped, nil
}

// UnwrapDataKey recovers a data key wrapped under the named master key.
func (m *LocalKeyManager) UnwrapDataKey(ctx context.Context, wrapped []byte, keyID string) ([]byte, error) {
	master, err := m.masterKey(keyID, false)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcmOpen(master, wrapped)
	if err != nil {
		return nil, fmt.Errorf("unwrap data key with %s: %w", keyID, err)
	}
	return plaintext, nil
}

func (m *LocalKeyManager) masterKey(keyID string, create bool) ([]byte, error) {
	if keyID == "" {
		return nil, fmt.Errorf("key id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if key, ok := m.keys[keyID]; ok {
		return key, nil
	}
	if m.dir != "" {
		if key, err := m.loadKey(keyID); err == nil {
			m.keys[keyID] = key
			return key, nil
		}
	}
	if !create {
		return nil, fmt.Errorf("unknown master key %s", keyID)
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	if m.dir != "" {
		if err := m.persistKey(keyID, key); err != nil {
			return nil, err
		}
	}
	m.keys[keyID] = key
	return key, nil
}

func (m *LocalKeyManager) keyPath(keyID string) string {
	return filepath.Join(m.dir, keyID+".key")
}

func (m *LocalKeyManager) loadKey(keyID string) ([]byte, error) {
	raw, err := os.ReadFile(m.keyPath(keyID))
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(string(raw))
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("corrupt master key file for %s", keyID)
	}
	return key, nil
}

func (m *LocalKeyManager) persistKey(keyID string, key []byte) error {
	if err := os.WriteFile(m.keyPath(keyID), []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return fmt.Errorf("persist master key %s: %w", keyID, err)
	}
	return nil
}

// gcmSeal encrypts plaintext under key with a random nonce prepended to
// the ciphertext.
func gcmSeal(key, plaintext []byte) ([]byte, error) {
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

func gcmOpen(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed data too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
