package storage

import (
	"errors"
	"os"
	"path/filepath"
)

// Key names shared by the packages that persist client state.
const (
	KeyTokens       = "pkce_tokens"
	KeyCodeVerifier = "pkce_code_verifier"
	KeyDPoPPrivate  = "pkce_dpop_priv"
	KeyDPoPPublic   = "pkce_dpop_pub"
	KeyDPoPEnabled  = "pkce_with_dpop"
	KeyState        = "pkce_state"
)

// appName is used for default data and key paths.
const appName = "authpkce"

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("storage: key not found")

// Store is a flat key/value store.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// GetString is a convenience wrapper returning the value as a string.
func GetString(s Store, key string) (string, error) {
	v, err := s.Get(key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// IsNotFound reports whether err means the key was absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// DefaultPath returns the default database path under $XDG_DATA_HOME.
func DefaultPath() string {
	return filepath.Join(dataHome(), appName, appName+".db")
}

// DefaultKeyPath returns the default path of the at-rest encryption key file.
func DefaultKeyPath() string {
	return filepath.Join(dataHome(), appName, "storage.key")
}

func dataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share")
}
