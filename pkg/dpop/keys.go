package dpop

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// UseSig is the JWK "use" value for signing keys.
const UseSig = "sig"

// KeyPair is a P-256 signing key and the JWK form of its public half.
type KeyPair struct {
	Private *ecdsa.PrivateKey
	Public  jose.JSONWebKey
}

// GenerateKeyPair generates a new P-256 key pair from crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate P-256 key pair: %w", err)
	}
	return NewKeyPair(priv)
}

// NewKeyPair wraps an existing private key. Only P-256 keys are accepted.
func NewKeyPair(priv *ecdsa.PrivateKey) (*KeyPair, error) {
	if priv == nil {
		return nil, fmt.Errorf("private key is nil")
	}
	if priv.Curve != elliptic.P256() {
		return nil, fmt.Errorf("key is not P-256: only ES256 keys are supported")
	}
	return &KeyPair{
		Private: priv,
		Public:  PublicKeyToJWK(&priv.PublicKey),
	}, nil
}

// PublicKeyToJWK converts a public key to a JWK annotated with alg=ES256 and use=sig.
func PublicKeyToJWK(pub *ecdsa.PublicKey) jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       pub,
		Algorithm: AlgES256,
		Use:       UseSig,
	}
}

// PrivateJWK returns the private key as a JWK, including d.
func (kp *KeyPair) PrivateJWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       kp.Private,
		Algorithm: AlgES256,
		Use:       UseSig,
	}
}

// PublicKey returns the ECDSA public key.
func (kp *KeyPair) PublicKey() *ecdsa.PublicKey {
	return &kp.Private.PublicKey
}

// Thumbprint returns the RFC 7638 SHA-256 thumbprint of the public key, base64url encoded.
// Servers bind DPoP access tokens to this value (cnf.jkt).
func (kp *KeyPair) Thumbprint() (string, error) {
	return JWKThumbprint(kp.Public)
}

// JWKThumbprint returns the base64url RFC 7638 thumbprint of jwk.
func JWKThumbprint(jwk jose.JSONWebKey) (string, error) {
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("compute thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// PublicJWKJSON returns the public JWK serialized as JSON, for display.
func (kp *KeyPair) PublicJWKJSON() ([]byte, error) {
	return json.Marshal(kp.Public)
}

// parsePrivateJWK decodes a stored private JWK. It must hold a P-256 private key.
func parsePrivateJWK(data []byte) (*ecdsa.PrivateKey, error) {
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("invalid private JWK: %w", err)
	}
	priv, ok := jwk.Key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("invalid private JWK: expected ECDSA private key, got %T", jwk.Key)
	}
	if priv.Curve != elliptic.P256() {
		return nil, fmt.Errorf("invalid private JWK: curve is not P-256")
	}
	return priv, nil
}

// parsePublicJWK decodes a stored public JWK. It must hold a P-256 public key.
func parsePublicJWK(data []byte) (*ecdsa.PublicKey, error) {
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("invalid public JWK: %w", err)
	}
	pub, ok := jwk.Key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("invalid public JWK: expected ECDSA public key, got %T", jwk.Key)
	}
	if pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("invalid public JWK: curve is not P-256")
	}
	return pub, nil
}
