// Package executor issues authenticated requests to resource servers and
// renegotiates the authentication scheme when a server rejects the first try.
//
// A call starts in the client's current mode (Bearer, or DPoP with a proof).
// On failure the response is classified:
//
//   - the body names acceptable htu values: retry each in order, stop at the first 2xx
//   - the server asks for a DPoP nonce: retry once with it
//   - the server wants DPoP but Bearer was sent: stop with ErrDPoPRequired
//   - the server wants Bearer but DPoP was sent: retry once with a Bearer prefix and a proof
//   - anything else: report the status and body as received
//
// The htu and scheme checks match on message text and WWW-Authenticate
// content. Servers that emit structured challenges are matched on parsed
// schemes first; substring matching is the fallback for those that do not.
package executor
