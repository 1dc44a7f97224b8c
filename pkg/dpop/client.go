package dpop

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"sync"
)

// maxErrorBody bounds how much of an error response is inspected.
const maxErrorBody = 64 * 1024

// Transport is an http.RoundTripper that attaches a fresh DPoP proof to every
// request. It remembers the last DPoP-Nonce a server sent and retries once
// when the server answers use_dpop_nonce. It is meant for token endpoint
// calls where no access token is bound yet.
type Transport struct {
	Base   http.RoundTripper
	Proofs ProofGenerator
	Logger *slog.Logger

	mu    sync.Mutex
	nonce string
}

// NewTransport returns a Transport over base. A nil base uses http.DefaultTransport.
func NewTransport(base http.RoundTripper, proofs ProofGenerator, logger *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Transport{Base: base, Proofs: proofs, Logger: logger}
}

// Nonce returns the last server nonce seen.
func (t *Transport) Nonce() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nonce
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Proofs == nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, ErrKeyNotFound
	}

	resp, err := t.send(req, req.Body, t.Nonce())
	if err != nil {
		return nil, err
	}

	nonce := resp.Header.Get(HeaderNonce)
	if nonce == "" {
		return resp, nil
	}
	t.mu.Lock()
	t.nonce = nonce
	t.mu.Unlock()

	if !needsNonceRetry(resp) {
		return resp, nil
	}
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	t.Logger.Debug("retrying with server DPoP nonce", "url", req.URL.Redacted())

	var body io.ReadCloser
	if req.GetBody != nil {
		if body, err = req.GetBody(); err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
	}
	return t.send(req, body, nonce)
}

func (t *Transport) send(req *http.Request, body io.ReadCloser, nonce string) (*http.Response, error) {
	proof, err := t.Proofs.Generate(ProofParams{
		Method: req.Method,
		URL:    req.URL.String(),
		Nonce:  nonce,
	})
	if err != nil {
		if body != nil {
			body.Close()
		}
		return nil, fmt.Errorf("generate dpop proof: %w", err)
	}

	r := req.Clone(req.Context())
	r.Body = body
	r.Header.Set(HeaderDPoP, proof)
	return t.Base.RoundTrip(r)
}

// needsNonceRetry inspects a 400/401 response for use_dpop_nonce. The body
// is restored so the caller can still read it.
func needsNonceRetry(resp *http.Response) bool {
	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusUnauthorized {
		return false
	}

	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(body))
	}

	ae := ParseAuthError(resp.StatusCode, resp.Header, body)
	return ae != nil && ae.NeedsNonce()
}

// AuthError is an OAuth or DPoP error returned by a server.
type AuthError struct {
	StatusCode  int
	Scheme      string
	Code        string
	Description string
	Nonce       string
}

func (e *AuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authentication error: %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("authentication error: %s", e.Code)
}

// UserFriendlyMessage returns a user-friendly error message.
func (e *AuthError) UserFriendlyMessage() string {
	switch e.Code {
	case CodeInvalidProof:
		if e.IsClockError() {
			return clockSyncErrorMessage()
		}
		return "Authentication failed: DPoP proof rejected"
	case CodeUseNonce:
		return "Authentication failed: server requires a DPoP nonce"
	case CodeInvalidToken:
		return "Authentication failed: access token invalid or expired (try refresh or login)"
	case CodeInsufficientScope:
		return "Access denied: token lacks the required scope"
	case CodeInvalidRequest:
		return "Request rejected: " + e.Description
	default:
		return fmt.Sprintf("Authentication failed: %s", e.Code)
	}
}

// IsClockError returns true if the error suggests clock synchronization issues.
func (e *AuthError) IsClockError() bool {
	return e.Code == CodeInvalidProof && strings.Contains(strings.ToLower(e.Description), "iat")
}

// NeedsNonce reports whether the server asked for a nonce and supplied one.
func (e *AuthError) NeedsNonce() bool {
	return e.Code == CodeUseNonce && e.Nonce != ""
}

// clockSyncErrorMessage returns a user-friendly error message with platform-specific fix commands.
func clockSyncErrorMessage() string {
	base := "Authentication failed: system clock is out of sync"
	switch runtime.GOOS {
	case "linux":
		return base + "\nFix: sudo timedatectl set-ntp true"
	case "darwin":
		return base + "\nFix: sudo sntp -sS time.apple.com"
	case "windows":
		return base + "\nFix: w32tm /resync"
	default:
		return base + " (check NTP settings)"
	}
}

// ParseAuthError extracts an error code from a 400/401/403 response.
// The WWW-Authenticate error parameter wins over a JSON body "error".
// Returns nil for other statuses, and for a 400 with no recognizable code.
func ParseAuthError(status int, header http.Header, body []byte) *AuthError {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
	default:
		return nil
	}

	ae := &AuthError{StatusCode: status, Nonce: header.Get(HeaderNonce)}

	for _, c := range ParseChallenges(header.Values("WWW-Authenticate")...) {
		if code := c.Param("error"); code != "" {
			ae.Scheme = c.Scheme
			ae.Code = code
			ae.Description = c.Param("error_description")
			break
		}
	}

	if ae.Code == "" && len(body) > 0 {
		var payload struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		if json.Unmarshal(body, &payload) == nil {
			ae.Code = payload.Error
			ae.Description = payload.Description
		}
	}

	if ae.Code == "" {
		if status == http.StatusBadRequest {
			return nil
		}
		ae.Code = "unknown"
	}
	return ae
}
