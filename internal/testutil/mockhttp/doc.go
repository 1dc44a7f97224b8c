// Package mockhttp builds httptest servers for OAuth client tests.
//
// Responses are registered fluently and matched in order; the first handler
// that claims a request wins.
//
//	capture := &mockhttp.Capture{}
//	server, client := mockhttp.New().
//		CaptureInto(capture).
//		TokenResponse("/token", map[string]any{"access_token": "at", "token_type": "Bearer"}).
//		Build()
//	defer server.Close()
//
// # OAuth errors and challenges
//
//	mockhttp.New().
//		OAuthError("/token", http.StatusBadRequest, "invalid_grant", "refresh token expired").
//		Challenge("/userinfo", http.StatusUnauthorized, `DPoP error="invalid_token"`, "")
//
// # Sequences
//
// Sequence answers the n-th request to a path with the n-th responder and
// repeats the last one after that, which is how nonce and scheme retries are
// scripted:
//
//	mockhttp.New().Sequence("/userinfo",
//		mockhttp.RespondChallenge(401, `Bearer realm="api"`, ""),
//		mockhttp.RespondJSON(200, map[string]string{"sub": "u1"}),
//	)
//
// # Captured requests
//
// Captured requests keep the raw body, the parsed form for form posts and
// the decoded DPoP proof claims when a proof header was sent.
//
// Paths match exactly, or by prefix with a trailing "*".
package mockhttp
