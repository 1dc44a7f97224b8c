// Package session drives the authorization code flow with PKCE and owns the
// client's login state.
//
// A Manager ties together the token store, the CSRF state guard, the DPoP
// key manager, the expiry scheduler and the request executor. Commands such
// as Login, HandleRedirect, Refresh, Logout and CallEndpoint are dispatched
// to it; it holds no UI state of its own.
//
// Token endpoint calls go through golang.org/x/oauth2. When DPoP is enabled
// the oauth2 HTTP client carries a dpop.Transport so every token request is
// proofed, and resource calls go through an executor.Executor in DPoP mode.
package session
