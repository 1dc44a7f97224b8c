package dpop

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gobeyondidentity/authpkce/pkg/storage"
)

// ErrKeyNotFound indicates no usable key pair is stored.
var ErrKeyNotFound = errors.New("dpop: key pair not found")

// KeyManager restores, generates and caches the profile's DPoP key pair.
// It is safe for concurrent use.
type KeyManager struct {
	mu      sync.Mutex
	store   storage.Store
	current *KeyPair
	logger  *slog.Logger
}

// NewKeyManager returns a manager persisting to store. A nil logger discards output.
func NewKeyManager(store storage.Store, logger *slog.Logger) *KeyManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &KeyManager{store: store, logger: logger}
}

// Restore loads the stored key pair. When nothing is stored it reports false.
// When the stored entries are corrupt, half missing, or do not match each
// other, both entries are deleted and it reports false. It never returns an error.
func (m *KeyManager) Restore() (*KeyPair, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restoreLocked()
}

func (m *KeyManager) restoreLocked() (*KeyPair, bool) {
	privData, privErr := m.store.Get(storage.KeyDPoPPrivate)
	pubData, pubErr := m.store.Get(storage.KeyDPoPPublic)

	if storage.IsNotFound(privErr) && storage.IsNotFound(pubErr) {
		return nil, false
	}
	for _, err := range []error{privErr, pubErr} {
		if err != nil && !storage.IsNotFound(err) {
			m.logger.Warn("failed to read DPoP key pair", "error", err)
			return nil, false
		}
	}

	kp, err := decodeKeyPair(privData, pubData)
	if err != nil {
		m.logger.Warn("discarding corrupt DPoP key pair", "error", err)
		m.deleteLocked()
		return nil, false
	}

	m.current = kp
	return kp, true
}

func decodeKeyPair(privData, pubData []byte) (*KeyPair, error) {
	if len(privData) == 0 || len(pubData) == 0 {
		return nil, fmt.Errorf("incomplete key pair")
	}
	priv, err := parsePrivateJWK(privData)
	if err != nil {
		return nil, err
	}
	pub, err := parsePublicJWK(pubData)
	if err != nil {
		return nil, err
	}
	if !priv.PublicKey.Equal(pub) {
		return nil, fmt.Errorf("public key does not match private key")
	}
	return NewKeyPair(priv)
}

// Generate creates a new key pair, persists both halves and caches it.
func (m *KeyManager) Generate() (*KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateLocked()
}

func (m *KeyManager) generateLocked() (*KeyPair, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	privJSON, err := json.Marshal(kp.PrivateJWK())
	if err != nil {
		return nil, fmt.Errorf("marshal private JWK: %w", err)
	}
	pubJSON, err := json.Marshal(kp.Public)
	if err != nil {
		return nil, fmt.Errorf("marshal public JWK: %w", err)
	}

	if err := m.store.Set(storage.KeyDPoPPrivate, privJSON); err != nil {
		return nil, fmt.Errorf("save private key: %w", err)
	}
	if err := m.store.Set(storage.KeyDPoPPublic, pubJSON); err != nil {
		m.store.Delete(storage.KeyDPoPPrivate)
		return nil, fmt.Errorf("save public key: %w", err)
	}

	m.current = kp
	thumb, _ := kp.Thumbprint()
	m.logger.Info("generated DPoP key pair", "jkt", thumb)
	return kp, nil
}

// EnsureInitialized returns the cached pair, else the stored pair, else a new one.
func (m *KeyManager) EnsureInitialized() (*KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return m.current, nil
	}
	if kp, ok := m.restoreLocked(); ok {
		return kp, nil
	}
	return m.generateLocked()
}

// Current returns the cached pair, or nil if none has been restored or generated.
func (m *KeyManager) Current() *KeyPair {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *KeyManager) deleteLocked() {
	m.current = nil
	if err := m.store.Delete(storage.KeyDPoPPrivate); err != nil {
		m.logger.Warn("failed to delete DPoP private key", "error", err)
	}
	if err := m.store.Delete(storage.KeyDPoPPublic); err != nil {
		m.logger.Warn("failed to delete DPoP public key", "error", err)
	}
}
