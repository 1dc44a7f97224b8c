package dpopserver

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/gobeyondidentity/authpkce/pkg/dpop"
	"github.com/gobeyondidentity/authpkce/pkg/pkce"
)

const (
	// maxProofSize is the maximum allowed size of a DPoP proof in bytes.
	maxProofSize = 8 * 1024
)

// ValidatorConfig contains configuration for DPoP proof validation.
type ValidatorConfig struct {
	// ClockSkew is how far in the future iat may be. Default 60s.
	ClockSkew time.Duration

	// MaxProofAge is how far in the past iat may be. Default 60s.
	MaxProofAge time.Duration

	// Now overrides the clock.
	Now func() time.Time
}

// DefaultValidatorConfig returns the default validator configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		ClockSkew:   60 * time.Second,
		MaxProofAge: 60 * time.Second,
		Now:         time.Now,
	}
}

// Expect is what a proof must be bound to.
type Expect struct {
	Method string

	// URIs lists acceptable htu values. Comparison is on normalized form.
	URIs []string

	// AccessToken, when set, must match the ath claim.
	AccessToken string

	// Nonce, when set, must match the nonce claim.
	Nonce string
}

// ProofResult is a validated proof.
type ProofResult struct {
	Claims     dpop.Claims
	JWK        jose.JSONWebKey
	Thumbprint string
}

// Validator validates DPoP proofs carrying an embedded ES256 jwk.
type Validator struct {
	config ValidatorConfig
}

// NewValidator creates a new DPoP proof validator.
func NewValidator(config ValidatorConfig) *Validator {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Validator{config: config}
}

// ValidateProof checks proof against want.
//
// Validation order:
//  1. Structure: three non-empty parts, at most 8KB
//  2. alg fixed to ES256 by the parser, typ must be dpop+jwt
//  3. Embedded jwk must be a P-256 public key
//  4. Signature over the embedded key
//  5. htm, htu, iat window, jti presence
//  6. ath and nonce when expected
func (v *Validator) ValidateProof(proof string, want Expect) (*ProofResult, error) {
	if proof == "" {
		return nil, errInvalidProof("DPoP proof is missing")
	}
	parts := strings.Split(proof, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, errInvalidProof("JWT must have exactly 3 non-empty parts")
	}
	if len(proof) > maxProofSize {
		return nil, errInvalidProof("proof exceeds maximum size of 8KB")
	}

	tok, err := jwt.ParseSigned(proof, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return nil, errInvalidProof("malformed proof: %v", err)
	}
	if len(tok.Headers) != 1 {
		return nil, errInvalidProof("expected exactly one signature")
	}
	h := tok.Headers[0]

	if typ, _ := h.ExtraHeaders[jose.HeaderType].(string); typ != dpop.TypeDPoP {
		return nil, errInvalidProof("typ must be %q", dpop.TypeDPoP)
	}
	if h.JSONWebKey == nil {
		return nil, errInvalidProof("jwk is required in header")
	}
	pub, ok := h.JSONWebKey.Key.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, errInvalidProof("jwk must be a P-256 public key")
	}

	var claims dpop.Claims
	if err := tok.Claims(pub, &claims); err != nil {
		return nil, errInvalidProof("signature verification failed")
	}

	if claims.HTM == "" || claims.HTU == "" || claims.JTI == "" {
		return nil, errInvalidProof("htm, htu and jti claims are required")
	}
	if claims.HTM != want.Method {
		e := errInvalidProof("htm %q does not match %q", claims.HTM, want.Method)
		e.Claim = "htm"
		return nil, e
	}
	if !matchesAnyURI(claims.HTU, want.URIs) {
		e := errInvalidProof("htu %q does not match request", claims.HTU)
		e.Claim = "htu"
		return nil, e
	}

	now := v.config.Now().Unix()
	if claims.IAT <= 0 {
		return nil, errInvalidProof("iat must be positive")
	}
	if age := now - claims.IAT; age > int64(v.config.MaxProofAge.Seconds()) {
		return nil, errInvalidProof("iat is %ds old", age)
	}
	if claims.IAT > now+int64(v.config.ClockSkew.Seconds()) {
		return nil, errInvalidProof("iat is in the future")
	}

	if want.AccessToken != "" {
		ath := pkce.SHA256Base64URL(want.AccessToken)
		if subtle.ConstantTimeCompare([]byte(ath), []byte(claims.ATH)) != 1 {
			return nil, errInvalidProof("ath does not match access token")
		}
	}
	if want.Nonce != "" && claims.Nonce != want.Nonce {
		return nil, errUseNonce()
	}

	thumb, err := dpop.JWKThumbprint(*h.JSONWebKey)
	if err != nil {
		return nil, errInvalidProof("cannot compute jwk thumbprint")
	}
	return &ProofResult{Claims: claims, JWK: *h.JSONWebKey, Thumbprint: thumb}, nil
}

func matchesAnyURI(htu string, uris []string) bool {
	got, err := dpop.NormalizeURI(htu)
	if err != nil {
		return false
	}
	for _, u := range uris {
		if want, err := dpop.NormalizeURI(u); err == nil && want == got {
			return true
		}
	}
	return false
}
