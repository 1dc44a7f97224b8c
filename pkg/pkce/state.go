package pkce

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/gobeyondidentity/authpkce/pkg/storage"
)

const stateBytes = 16

var (
	// ErrStateMissing is returned when either side of the comparison is empty.
	ErrStateMissing = errors.New("pkce: state missing")

	// ErrStateMismatch is returned when the returned state differs from the stored one.
	ErrStateMismatch = errors.New("pkce: state mismatch")
)

// StateGuard keeps the anti-forgery state in a session-scoped store.
type StateGuard struct {
	store storage.Store
}

// NewStateGuard returns a guard backed by store.
func NewStateGuard(store storage.Store) *StateGuard {
	return &StateGuard{store: store}
}

// Generate returns a new random state value. It is not persisted.
func (g *StateGuard) Generate() (string, error) {
	return RandomHex(stateBytes)
}

// Save stores state, replacing any earlier value.
func (g *StateGuard) Save(state string) error {
	if err := g.store.Set(storage.KeyState, []byte(state)); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Load returns the stored state, or "" when none is stored.
func (g *StateGuard) Load() (string, error) {
	s, err := storage.GetString(g.store, storage.KeyState)
	if storage.IsNotFound(err) {
		return "", nil
	}
	return s, err
}

// Clear removes the stored state.
func (g *StateGuard) Clear() error {
	return g.store.Delete(storage.KeyState)
}

// Validate checks returned against the stored state. The stored state is
// cleared before the result is reported, so every value is usable once.
func (g *StateGuard) Validate(returned string) error {
	stored, loadErr := g.Load()
	if err := g.Clear(); err != nil {
		return fmt.Errorf("failed to clear state: %w", err)
	}
	if loadErr != nil {
		return fmt.Errorf("failed to load state: %w", loadErr)
	}

	if returned == "" || stored == "" {
		return ErrStateMissing
	}
	if subtle.ConstantTimeCompare([]byte(returned), []byte(stored)) != 1 {
		return ErrStateMismatch
	}
	return nil
}
