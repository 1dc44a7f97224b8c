package dpop

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/gobeyondidentity/authpkce/pkg/pkce"
)

// jtiBytes gives a 32 character hex jti.
const jtiBytes = 16

// ProofParams describes the request a proof is bound to.
type ProofParams struct {
	// Method is the HTTP method, used exactly as provided.
	Method string

	// URL is the target. It is normalized per RFC 9449 before signing.
	URL string

	// AccessToken, when set, is bound through the ath claim.
	AccessToken string

	// Nonce, when set, is echoed in the nonce claim.
	Nonce string
}

// ProofGenerator generates DPoP proofs.
type ProofGenerator interface {
	Generate(p ProofParams) (string, error)
}

// Signer generates proofs with a fixed key pair.
type Signer struct {
	key *KeyPair
	now func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithClock overrides the time source used for iat.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		s.now = now
	}
}

// NewSigner returns a Signer for kp.
func NewSigner(kp *KeyPair, opts ...SignerOption) *Signer {
	s := &Signer{key: kp, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// KeyPair returns the signing key pair.
func (s *Signer) KeyPair() *KeyPair {
	return s.key
}

// Generate creates a proof for p.
func (s *Signer) Generate(p ProofParams) (string, error) {
	if s.key == nil || s.key.Private == nil {
		return "", ErrKeyNotFound
	}

	htu, err := NormalizeURI(p.URL)
	if err != nil {
		return "", fmt.Errorf("failed to normalize URI: %w", err)
	}
	if p.Method == "" {
		return "", fmt.Errorf("method is required")
	}

	opts := (&jose.SignerOptions{}).
		WithType(TypeDPoP).
		WithHeader("jwk", s.key.Public)

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: s.key.Private}, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	jti, err := pkce.RandomHex(jtiBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate jti: %w", err)
	}

	claims := Claims{
		HTM:   p.Method,
		HTU:   htu,
		IAT:   s.now().Unix(),
		JTI:   jti,
		Nonce: p.Nonce,
	}
	if p.AccessToken != "" {
		claims.ATH = pkce.SHA256Base64URL(p.AccessToken)
	}

	proof, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize proof: %w", err)
	}
	return proof, nil
}

// GenerateProof creates a proof with kp and the current time.
func GenerateProof(kp *KeyPair, p ProofParams) (string, error) {
	return NewSigner(kp).Generate(p)
}

// NormalizeURI normalizes a URI per RFC 9449 Section 4.2:
//   - Lowercase scheme and host
//   - Keep path exactly as-is
//   - Remove query string and fragment
//   - Remove default port (443 for https, 80 for http)
func NormalizeURI(rawURI string) (string, error) {
	if rawURI == "" {
		return "", fmt.Errorf("URL cannot be empty")
	}

	parsed, err := url.Parse(rawURI)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("URL must have scheme and host: %q", rawURI)
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())

	if port := parsed.Port(); port != "" {
		isDefault := (scheme == "https" && port == "443") || (scheme == "http" && port == "80")
		if !isDefault {
			host = host + ":" + port
		}
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path, nil
}

// ParseProof decodes a proof without verifying it.
func ParseProof(proof string) (*Header, *Claims, []byte, error) {
	parts := strings.Split(proof, ".")
	if len(parts) != 3 {
		return nil, nil, nil, fmt.Errorf("invalid JWT: expected 3 parts, got %d", len(parts))
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode header: %w", err)
	}
	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, nil, fmt.Errorf("unmarshal header: %w", err)
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode payload: %w", err)
	}
	var claims Claims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, nil, nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode signature: %w", err)
	}
	return &header, &claims, sig, nil
}

// VerifyProof checks the ES256 signature of proof against pub.
// The signature must be the 64 byte R||S form.
func VerifyProof(proof string, pub *ecdsa.PublicKey) bool {
	parts := strings.Split(proof, ".")
	if len(parts) != 3 || pub == nil {
		return false
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || len(sig) != 64 {
		return false
	}

	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	return ecdsa.Verify(pub, digest[:], r, s)
}

var _ ProofGenerator = (*Signer)(nil)
