package pkce

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/gobeyondidentity/authpkce/pkg/storage"
)

// MethodS256 is the only challenge method this client sends.
const MethodS256 = "S256"

// verifierBytes yields a 64 character verifier, inside RFC 7636's 43..128 range.
const verifierBytes = 32

// ErrVerifierMissing means no verifier was stored for the current flow.
// A redirect that arrives without one is stale or was not started here.
var ErrVerifierMissing = errors.New("pkce: code verifier missing")

// Pair is a verifier and its derived challenge.
type Pair struct {
	Verifier  string
	Challenge string
	Method    string
}

// New generates a fresh verifier/challenge pair.
func New() (*Pair, error) {
	v, err := RandomHex(verifierBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate verifier: %w", err)
	}
	return &Pair{
		Verifier:  v,
		Challenge: SHA256Base64URL(v),
		Method:    MethodS256,
	}, nil
}

// Verify reports whether challenge was derived from p's verifier.
func (p *Pair) Verify(challenge string) bool {
	return VerifyChallenge(p.Verifier, challenge)
}

// VerifyChallenge reports whether challenge is the S256 digest of verifier.
func VerifyChallenge(verifier, challenge string) bool {
	want := SHA256Base64URL(verifier)
	return subtle.ConstantTimeCompare([]byte(want), []byte(challenge)) == 1
}

// SaveVerifier persists the verifier until the code exchange consumes it.
func SaveVerifier(s storage.Store, verifier string) error {
	if err := s.Set(storage.KeyCodeVerifier, []byte(verifier)); err != nil {
		return fmt.Errorf("failed to save code verifier: %w", err)
	}
	return nil
}

// LoadVerifier returns the stored verifier or ErrVerifierMissing.
func LoadVerifier(s storage.Store) (string, error) {
	v, err := storage.GetString(s, storage.KeyCodeVerifier)
	if storage.IsNotFound(err) || (err == nil && v == "") {
		return "", ErrVerifierMissing
	}
	if err != nil {
		return "", fmt.Errorf("failed to load code verifier: %w", err)
	}
	return v, nil
}

// ClearVerifier removes the stored verifier.
func ClearVerifier(s storage.Store) error {
	return s.Delete(storage.KeyCodeVerifier)
}
