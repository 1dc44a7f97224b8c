// Package dpop implements the client side of RFC 9449 (OAuth 2.0
// Demonstrating Proof of Possession) with ES256 keys on P-256.
//
// # Key material
//
// A KeyManager owns one key pair per profile. Both halves are stored as JWKs
// in a storage.Store. The pair identifies the client device rather than the
// session, so logout never deletes it and disabling DPoP leaves it in place.
//
// # Proofs
//
// A proof is a compact JWS with header {alg: ES256, typ: dpop+jwt, jwk} and
// payload {htm, htu, iat, jti, ath?, nonce?}:
//
//	signer := dpop.NewSigner(kp)
//	proof, err := signer.Generate(dpop.ProofParams{
//		Method:      "GET",
//		URL:         "https://api.example.com/userinfo",
//		AccessToken: accessToken,
//	})
//
// ath is only present when an access token is bound. Every proof carries a
// fresh jti and iat.
//
// The resource server side of the protocol lives in internal/dpopserver and
// only backs the in-process identity provider used by tests.
package dpop
