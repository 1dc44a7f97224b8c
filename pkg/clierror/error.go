// Package clierror provides structured errors for CLI output with codes,
// exit codes, and remediation hints.
package clierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gobeyondidentity/authpkce/pkg/executor"
	"github.com/gobeyondidentity/authpkce/pkg/pkce"
	"github.com/gobeyondidentity/authpkce/pkg/session"
	"github.com/gobeyondidentity/authpkce/pkg/tokens"
)

// Exit codes
const (
	ExitSuccess    = 0 // Operation completed successfully
	ExitGeneral    = 1 // Unknown/unhandled error
	ExitAuth       = 2 // Not logged in, session expired, grant rejected
	ExitProtocol   = 3 // State, verifier or token format problems
	ExitDPoP       = 4 // Key material missing, DPoP required
	ExitConnection = 5 // Endpoint unreachable
	ExitConfig     = 6 // Missing or invalid configuration
)

// Error codes (strings) for programmatic error handling
const (
	CodeNotLoggedIn         = "NOT_LOGGED_IN"
	CodeSessionExpired      = "SESSION_EXPIRED"
	CodeAuthorizationDenied = "AUTHORIZATION_DENIED"
	CodeTokenExchangeFailed = "TOKEN_EXCHANGE_FAILED"
	CodeStateMismatch       = "STATE_MISMATCH"
	CodeVerifierMissing     = "VERIFIER_MISSING"
	CodeDecodeFailed        = "DECODE_FAILED"
	CodeKeyMaterial         = "KEY_MATERIAL"
	CodeDPoPRequired        = "DPOP_REQUIRED"
	CodeRequestFailed       = "REQUEST_FAILED"
	CodeConnectionFailed    = "CONNECTION_FAILED"
	CodeConfigInvalid       = "CONFIG_INVALID"
	CodeInternalError       = "INTERNAL_ERROR"
)

// CLIError represents a structured error for CLI output.
type CLIError struct {
	Code      string `json:"code" yaml:"code"`
	Message   string `json:"message" yaml:"message"`
	Hint      string `json:"hint,omitempty" yaml:"hint,omitempty"`
	Retryable bool   `json:"retryable" yaml:"retryable"`
	ExitCode  int    `json:"-" yaml:"-"` // Not serialized, used for os.Exit

	cause error
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// Unwrap returns the library error the CLIError was built from, if any.
func (e *CLIError) Unwrap() error {
	return e.cause
}

// NotLoggedIn creates an error for commands that need a session.
func NotLoggedIn() *CLIError {
	return &CLIError{
		Code:     CodeNotLoggedIn,
		Message:  "not logged in",
		Hint:     "Run 'pkcectl login' first",
		ExitCode: ExitAuth,
	}
}

// SessionExpired creates an error for a session that can no longer be refreshed.
func SessionExpired(reason string) *CLIError {
	msg := "session expired"
	if reason != "" {
		msg = fmt.Sprintf("session expired: %s", reason)
	}
	return &CLIError{
		Code:      CodeSessionExpired,
		Message:   msg,
		Hint:      "Run 'pkcectl login' to start a new session",
		Retryable: true,
		ExitCode:  ExitAuth,
	}
}

// AuthorizationDenied creates an error for an error redirect from the authorization server.
func AuthorizationDenied(code, description string) *CLIError {
	msg := fmt.Sprintf("authorization denied: %s", code)
	if description != "" {
		msg += ": " + description
	}
	return &CLIError{
		Code:     CodeAuthorizationDenied,
		Message:  msg,
		Hint:     "Check the client registration and the scopes requested",
		ExitCode: ExitAuth,
	}
}

// TokenExchangeFailed creates an error for a rejected token endpoint call.
func TokenExchangeFailed(detail string) *CLIError {
	return &CLIError{
		Code:      CodeTokenExchangeFailed,
		Message:   detail,
		Hint:      "Run with --log-level debug to see the token endpoint response",
		Retryable: true,
		ExitCode:  ExitAuth,
	}
}

// StateMismatch creates an error for a redirect whose state was not issued by this client.
func StateMismatch() *CLIError {
	return &CLIError{
		Code:     CodeStateMismatch,
		Message:  "redirect state does not match the login request",
		Hint:     "Start the login again; only the most recent login can complete",
		ExitCode: ExitProtocol,
	}
}

// VerifierMissing creates an error for a redirect with no pending login.
func VerifierMissing() *CLIError {
	return &CLIError{
		Code:     CodeVerifierMissing,
		Message:  "no pending login: PKCE code verifier missing",
		Hint:     "Run 'pkcectl login' again",
		ExitCode: ExitProtocol,
	}
}

// DecodeFailed creates an error for a token that could not be decoded.
func DecodeFailed(what string) *CLIError {
	return &CLIError{
		Code:     CodeDecodeFailed,
		Message:  fmt.Sprintf("failed to decode %s", what),
		ExitCode: ExitProtocol,
	}
}

// KeyMaterial creates an error for an unavailable DPoP key pair.
func KeyMaterial(detail string) *CLIError {
	return &CLIError{
		Code:     CodeKeyMaterial,
		Message:  detail,
		Hint:     "Run 'pkcectl dpop enable' to create a key pair, or check that the database is writable",
		ExitCode: ExitDPoP,
	}
}

// DPoPRequired creates an error for a resource that only accepts DPoP.
func DPoPRequired() *CLIError {
	return &CLIError{
		Code:     CodeDPoPRequired,
		Message:  "endpoint requires DPoP-bound tokens",
		Hint:     "Run 'pkcectl dpop enable' and log in again",
		ExitCode: ExitDPoP,
	}
}

// RequestFailed creates an error for a protected resource call that failed.
func RequestFailed(detail string) *CLIError {
	return &CLIError{
		Code:     CodeRequestFailed,
		Message:  detail,
		Hint:     "Use --output json to see every attempt",
		ExitCode: ExitGeneral,
	}
}

// ConnectionFailed creates an error for connection failures.
func ConnectionFailed(target string) *CLIError {
	return &CLIError{
		Code:      CodeConnectionFailed,
		Message:   fmt.Sprintf("failed to connect to '%s'", target),
		Hint:      "Check network connectivity and the configured endpoints",
		Retryable: true,
		ExitCode:  ExitConnection,
	}
}

// ConfigInvalid creates an error for missing or invalid configuration.
func ConfigInvalid(err error) *CLIError {
	return &CLIError{
		Code:     CodeConfigInvalid,
		Message:  fmt.Sprintf("invalid configuration: %s", strings.ReplaceAll(err.Error(), "\n", "; ")),
		Hint:     "Set the value with a flag, an AUTHPKCE_ environment variable, or the config file",
		ExitCode: ExitConfig,
		cause:    err,
	}
}

// InternalError creates an error for unexpected internal errors.
func InternalError(err error) *CLIError {
	msg := "an unexpected internal error occurred"
	if err != nil {
		msg = fmt.Sprintf("internal error: %s", err.Error())
	}
	return &CLIError{
		Code:     CodeInternalError,
		Message:  msg,
		Hint:     "",
		ExitCode: ExitGeneral,
	}
}

// FromError classifies err. A nil error yields nil.
func FromError(err error) *CLIError {
	if err == nil {
		return nil
	}

	var ce *CLIError
	if errors.As(err, &ce) {
		return ce
	}

	out := classify(err)
	out.cause = err
	return out
}

func classify(err error) *CLIError {
	var (
		authErr   *session.AuthorizationError
		tokenErr  *session.TokenError
		statusErr *executor.StatusError
		transErr  *executor.TransportError
		urlErr    *url.Error
		netErr    net.Error
	)

	switch {
	case errors.Is(err, session.ErrNotLoggedIn):
		return NotLoggedIn()
	case errors.Is(err, session.ErrNoRefreshToken):
		return SessionExpired("no refresh token available")
	case errors.Is(err, session.ErrSessionExpired):
		return SessionExpired("")
	case errors.As(err, &authErr):
		return AuthorizationDenied(authErr.Code, authErr.Description)
	case errors.As(err, &tokenErr):
		return TokenExchangeFailed(tokenErr.Error())
	case errors.Is(err, pkce.ErrStateMismatch), errors.Is(err, pkce.ErrStateMissing):
		return StateMismatch()
	case errors.Is(err, pkce.ErrVerifierMissing):
		return VerifierMissing()
	case errors.Is(err, session.ErrKeyMaterial), errors.Is(err, executor.ErrKeyMissing):
		return KeyMaterial(err.Error())
	case errors.Is(err, executor.ErrDPoPRequired):
		return DPoPRequired()
	case errors.Is(err, tokens.ErrMalformedJWT), errors.Is(err, tokens.ErrEmptyToken):
		return DecodeFailed("token")
	case errors.As(err, &transErr):
		return ConnectionFailed(transErr.URL)
	case errors.As(err, &urlErr):
		return ConnectionFailed(urlErr.URL)
	case errors.As(err, &netErr):
		return ConnectionFailed(netErr.Error())
	case errors.As(err, &statusErr):
		return RequestFailed(statusErr.Error())
	}
	return InternalError(err)
}

// FormatError returns the error formatted for the given output format.
// Supported formats: "json", "yaml", anything else for human-readable table format.
func FormatError(err *CLIError, outputFormat string) string {
	switch outputFormat {
	case "json":
		data, jsonErr := json.MarshalIndent(err, "", "  ")
		if jsonErr != nil {
			// Fallback to simple JSON if marshaling fails
			return fmt.Sprintf(`{"code":"%s","message":"%s"}`, err.Code, err.Message)
		}
		return string(data)
	case "yaml":
		data, yamlErr := yaml.Marshal(err)
		if yamlErr != nil {
			return fmt.Sprintf("code: %s\nmessage: %q", err.Code, err.Message)
		}
		return strings.TrimRight(string(data), "\n")
	}

	// Human-readable table format
	output := fmt.Sprintf("Error [%s]: %s", err.Code, err.Message)
	if err.Hint != "" {
		output += fmt.Sprintf("\nHint: %s", err.Hint)
	}
	return output
}

// PrintError prints the error to stderr in the appropriate format.
func PrintError(err *CLIError, outputFormat string) {
	fmt.Fprintln(os.Stderr, FormatError(err, outputFormat))
}
