package tokens

import (
	"time"

	"golang.org/x/oauth2"
)

// TokenSet is the credential record returned by the token endpoint.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// FromOAuth2 converts an oauth2 token, reading id_token and scope from its extras.
func FromOAuth2(tok *oauth2.Token) *TokenSet {
	if tok == nil {
		return nil
	}
	ts := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if v, ok := tok.Extra("id_token").(string); ok {
		ts.IDToken = v
	}
	if v, ok := tok.Extra("scope").(string); ok {
		ts.Scope = v
	}
	return ts
}

// OAuth2 returns the token in oauth2 form, for driving a refresh.
func (ts *TokenSet) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		TokenType:    ts.TokenType,
		// A past expiry forces oauth2 to refresh instead of reusing the token.
		Expiry: time.Unix(1, 0),
	}
}

// Clone returns a copy.
func (ts *TokenSet) Clone() *TokenSet {
	if ts == nil {
		return nil
	}
	c := *ts
	return &c
}

// ExpiryOf returns when the access token expires according to its exp claim.
// It reports false when the token is absent, not a JWT, or has no exp.
func ExpiryOf(ts *TokenSet) (time.Time, bool) {
	if ts == nil || ts.AccessToken == "" {
		return time.Time{}, false
	}
	claims, err := ParseJWT(ts.AccessToken)
	if err != nil {
		return time.Time{}, false
	}
	return claims.Expiry()
}

// RefreshTokenExpired reports whether rt is a JWT whose exp is at or before now.
// Opaque or undecodable refresh tokens are never considered expired.
func RefreshTokenExpired(rt string, now time.Time) bool {
	claims, err := ParseJWT(rt)
	if err != nil {
		return false
	}
	exp, ok := claims.Expiry()
	return ok && !exp.After(now)
}
