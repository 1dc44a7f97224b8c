package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// EnvStorageKey overrides the key file when set.
	EnvStorageKey = "AUTHPKCE_STORAGE_KEY"

	// nonceSize is the GCM nonce size.
	nonceSize = 12
)

// ErrCiphertextTooShort is returned when a sealed value is shorter than its nonce.
var ErrCiphertextTooShort = errors.New("storage: ciphertext too short")

// Sealed encrypts every value with AES-256-GCM before handing it to the inner store.
// Stored format: nonce (12 bytes) || ciphertext. The key name is bound as
// additional data so values cannot be swapped between keys.
type Sealed struct {
	inner Store
	aead  cipher.AEAD
}

// NewSealed wraps inner. key may be any length; it is hashed to 32 bytes.
func NewSealed(inner Store, key []byte) (*Sealed, error) {
	if len(key) == 0 {
		return nil, errors.New("storage: empty encryption key")
	}
	sum := sha256.Sum256(key)

	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealed{inner: inner, aead: gcm}, nil
}

// Get decrypts the value stored under key.
func (s *Sealed) Get(key string) ([]byte, error) {
	data, err := s.inner.Get(key)
	if err != nil {
		return nil, err
	}
	if len(data) < nonceSize {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], []byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %q: %w", key, err)
	}
	return plaintext, nil
}

// Set encrypts value and stores it under key.
func (s *Sealed) Set(key string, value []byte) error {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.inner.Set(key, s.aead.Seal(nonce, nonce, value, []byte(key)))
}

// Delete removes key from the inner store.
func (s *Sealed) Delete(key string) error {
	return s.inner.Delete(key)
}

// LoadOrGenerateKey returns the at-rest encryption key.
// Priority:
//  1. AUTHPKCE_STORAGE_KEY environment variable
//  2. Key file at keyPath
//  3. Newly generated 32-byte key written to keyPath with 0600
func LoadOrGenerateKey(keyPath string) ([]byte, error) {
	if env := os.Getenv(EnvStorageKey); env != "" {
		return []byte(env), nil
	}

	data, err := os.ReadFile(keyPath)
	if err == nil {
		return []byte(strings.TrimSpace(string(data))), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	keyBytes := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, keyBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	keyStr := hex.EncodeToString(keyBytes)

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(keyStr), 0600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	return []byte(keyStr), nil
}

var _ Store = (*Sealed)(nil)
