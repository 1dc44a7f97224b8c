// Package fakeidp runs an in-process OAuth2 authorization server and
// protected resource for tests.
//
// The server auto-approves authorization requests, enforces PKCE S256 at the
// token endpoint, validates DPoP proofs with the dpop package and mints ES256
// access tokens bound to the proof key. The userinfo endpoint can be told to
// require DPoP, require Bearer, or reject proofs whose htu is not in a fixed
// list, so the request executor's negotiation paths can be exercised end to
// end.
//
//	idp := fakeidp.New(t, fakeidp.Config{ClientID: "cli"})
//	mgr, _ := session.New(session.Config{
//		ClientID: "cli",
//		AuthURL:  idp.AuthURL(),
//		TokenURL: idp.TokenURL(),
//		...
//	}, storage.NewMemory(), session.WithOpener(idp))
//
// Server implements Open(ctx, url) so it can stand in for the browser.
package fakeidp
