package dpop

const (
	// TypeDPoP is the required typ header value for DPoP proofs.
	TypeDPoP = "dpop+jwt"

	// AlgES256 is the only algorithm this package signs or accepts.
	AlgES256 = "ES256"

	// HeaderDPoP carries the proof on requests.
	HeaderDPoP = "DPoP"

	// HeaderNonce carries a server supplied nonce on responses.
	HeaderNonce = "DPoP-Nonce"

	// SchemeDPoP and SchemeBearer are Authorization header prefixes.
	SchemeDPoP   = "DPoP"
	SchemeBearer = "Bearer"
)

// Header is the JOSE header of a DPoP proof as it appears on the wire.
type Header struct {
	Typ string         `json:"typ"`
	Alg string         `json:"alg"`
	JWK map[string]any `json:"jwk"`
}

// Claims is the payload of a DPoP proof.
type Claims struct {
	// HTM is the HTTP method of the bound request, case preserved.
	HTM string `json:"htm"`

	// HTU is the target URI without query or fragment.
	HTU string `json:"htu"`

	// IAT is the issue time in Unix seconds.
	IAT int64 `json:"iat"`

	// JTI is 32 hex characters of randomness, unique per proof.
	JTI string `json:"jti"`

	// ATH is the base64url SHA-256 of the access token, set only for
	// resource requests.
	ATH string `json:"ath,omitempty"`

	// Nonce echoes the last DPoP-Nonce the server sent.
	Nonce string `json:"nonce,omitempty"`
}
