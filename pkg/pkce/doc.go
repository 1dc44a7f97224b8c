// Package pkce implements the client-held secrets of the Authorization Code
// flow: RFC 7636 verifier/challenge pairs and the one-time CSRF state value.
//
// The verifier lives in the persistent store until it is consumed by a single
// code exchange. The state lives in the session store and is cleared every time
// it is validated, whether or not validation succeeds.
package pkce
