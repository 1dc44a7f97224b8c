package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

var (
	// ErrNotLoggedIn is returned by calls that need an access token.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrNoRefreshToken is returned by Refresh when no refresh token is stored.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrSessionExpired means the refresh token is no longer usable. Tokens
	// have been cleared and the user must log in again.
	ErrSessionExpired = errors.New("session expired, please log in again")

	// ErrKeyMaterial means the DPoP key pair could not be initialized.
	ErrKeyMaterial = errors.New("DPoP key pair unavailable")

	// ErrSuperseded is returned when a token response arrives after the
	// session it belongs to was logged out. The response is discarded.
	ErrSuperseded = errors.New("session changed while the request was in flight")
)

// TokenError is a failed token endpoint response.
type TokenError struct {
	// Op is "exchange" or "refresh".
	Op          string
	StatusCode  int
	Code        string
	Description string

	// Body is the raw response payload.
	Body []byte
}

func (e *TokenError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "token %s failed", e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (%d %s)", e.StatusCode, http.StatusText(e.StatusCode))
	}
	switch {
	case e.Code != "" && e.Description != "":
		fmt.Fprintf(&b, ": %s: %s", e.Code, e.Description)
	case e.Code != "":
		fmt.Fprintf(&b, ": %s", e.Code)
	case e.Description != "":
		fmt.Fprintf(&b, ": %s", e.Description)
	case len(e.Body) > 0:
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	return b.String()
}

// Expired reports an invalid_grant class error, or a description that says
// the grant expired.
func (e *TokenError) Expired() bool {
	return e.Code == "invalid_grant" || strings.Contains(strings.ToLower(e.Description), "expired")
}

// tokenError converts an oauth2 error into a TokenError. Errors that carry no
// server response are returned unchanged.
func tokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		if strings.Contains(err.Error(), "missing access_token") {
			return &TokenError{Op: op, Description: "response has no access_token"}
		}
		return err
	}
	te := &TokenError{
		Op:          op,
		Code:        re.ErrorCode,
		Description: re.ErrorDescription,
		Body:        re.Body,
	}
	if re.Response != nil {
		te.StatusCode = re.Response.StatusCode
	}
	return te
}

// AuthorizationError is an error returned to the redirect URI by the
// authorization server.
type AuthorizationError struct {
	Code        string
	Description string
	URI         string
}

func (e *AuthorizationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization failed: %s: %s", e.Code, e.Description)
	}
	return "authorization failed: " + e.Code
}
