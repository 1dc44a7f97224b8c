package executor

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gobeyondidentity/authpkce/pkg/dpop"
)

var (
	// ErrDPoPRequired is returned when a server demands DPoP from a Bearer-only client.
	ErrDPoPRequired = errors.New("DPoP is required for this endpoint")

	// ErrKeyMissing is returned when a DPoP attempt is needed but no key is available.
	ErrKeyMissing = errors.New("DPoP key missing")

	// ErrNoAccessToken is returned when Execute is called without a token.
	ErrNoAccessToken = errors.New("no access token")
)

// maxErrorPreview bounds how much of a body appears in an error message.
const maxErrorPreview = 512

// StatusError is a non-2xx response, reported as received.
type StatusError struct {
	StatusCode int
	Status     string
	Body       []byte
	Auth       *dpop.AuthError

	// Err is set when the failure has a more specific meaning.
	Err error
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	msg := "request failed: " + status
	if e.Err != nil {
		msg = e.Err.Error() + ": " + status
	}
	if len(e.Body) > 0 {
		body := e.Body
		if len(body) > maxErrorPreview {
			body = body[:maxErrorPreview]
		}
		msg += ": " + string(body)
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// TransportError is a request that never produced a response.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
