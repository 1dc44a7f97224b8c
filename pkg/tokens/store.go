package tokens

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gobeyondidentity/authpkce/pkg/pkce"
	"github.com/gobeyondidentity/authpkce/pkg/storage"
)

// ErrNoAccessToken is returned when saving a token set without an access token.
var ErrNoAccessToken = errors.New("tokens: token set has no access token")

// Store holds at most one active TokenSet, in memory and in persistent storage.
type Store struct {
	mu      sync.RWMutex
	persist storage.Store
	current *TokenSet
}

// NewStore returns an empty store. Call Load to read persisted state.
func NewStore(persist storage.Store) *Store {
	return &Store{persist: persist}
}

// Save persists ts and makes it current.
func (s *Store) Save(ts *TokenSet) error {
	if ts == nil || ts.AccessToken == "" {
		return ErrNoAccessToken
	}
	data, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("marshal tokens: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist.Set(storage.KeyTokens, data); err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	s.current = ts.Clone()
	return nil
}

// Load reads persisted tokens into memory. With nothing stored it returns nil, nil.
// An undecodable record leaves memory empty and is reported as an error.
func (s *Store) Load() (*TokenSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.persist.Get(storage.KeyTokens)
	if storage.IsNotFound(err) {
		s.current = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}

	var ts TokenSet
	if err := json.Unmarshal(data, &ts); err != nil {
		s.current = nil
		return nil, fmt.Errorf("decode stored tokens: %w", err)
	}
	if ts.AccessToken == "" {
		s.current = nil
		return nil, nil
	}
	s.current = &ts
	return ts.Clone(), nil
}

// Clear erases tokens and the PKCE verifier. DPoP keys are left alone.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	if err := s.persist.Delete(storage.KeyTokens); err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	if err := pkce.ClearVerifier(s.persist); err != nil {
		return fmt.Errorf("clear verifier: %w", err)
	}
	return nil
}

// Current returns a copy of the active token set, or nil.
func (s *Store) Current() *TokenSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// LoggedIn reports whether an access token is held.
func (s *Store) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil && s.current.AccessToken != ""
}
