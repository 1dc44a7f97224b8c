// Package dpopserver validates DPoP proofs and bound access tokens on the
// server side. It backs the in-process identity provider used by tests.
package dpopserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gobeyondidentity/authpkce/pkg/dpop"
)

// TokenBinding is what a resource server knows about an access token.
type TokenBinding struct {
	Subject string

	// JKT is the key thumbprint the token is bound to. Empty for Bearer tokens.
	JKT string

	Claims map[string]any
}

// TokenLookup resolves access tokens. It returns nil, nil for unknown tokens.
type TokenLookup interface {
	LookupToken(ctx context.Context, token string) (*TokenBinding, error)
}

// TokenLookupFunc adapts a function to TokenLookup.
type TokenLookupFunc func(ctx context.Context, token string) (*TokenBinding, error)

// LookupToken calls f.
func (f TokenLookupFunc) LookupToken(ctx context.Context, token string) (*TokenBinding, error) {
	return f(ctx, token)
}

// SchemePolicy selects which Authorization schemes a resource accepts.
type SchemePolicy int

const (
	// PolicyAny accepts Bearer tokens and DPoP-bound tokens with proofs.
	PolicyAny SchemePolicy = iota

	// PolicyRequireDPoP rejects the Bearer scheme outright.
	PolicyRequireDPoP

	// PolicyRequireBearer rejects the DPoP scheme. A proof may still be sent
	// alongside a Bearer prefix and is then validated.
	PolicyRequireBearer
)

// Principal is the authenticated caller of a request.
type Principal struct {
	Scheme  string
	Token   string
	Binding *TokenBinding
	Proof   *ProofResult
}

type contextKey int

const principalKey contextKey = iota

// PrincipalFromContext returns the authenticated caller, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// ContextWithPrincipal returns ctx carrying p.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FailureHandler may write its own response for a rejected request.
// It returns true when it did.
type FailureHandler func(w http.ResponseWriter, r *http.Request, err error) bool

// AuthMiddleware protects resource handlers with Bearer or DPoP-bound tokens.
type AuthMiddleware struct {
	validator *Validator
	tokens    TokenLookup
	jtiCache  JTICache
	logger    *slog.Logger

	policy    SchemePolicy
	realm     string
	nonce     func() string
	acceptURI func(r *http.Request) []string
	onFailure FailureHandler
}

// AuthMiddlewareOption configures an AuthMiddleware.
type AuthMiddlewareOption func(*AuthMiddleware)

// WithLogger sets the logger for the middleware.
func WithLogger(logger *slog.Logger) AuthMiddlewareOption {
	return func(m *AuthMiddleware) {
		m.logger = logger
	}
}

// WithPolicy sets the accepted schemes.
func WithPolicy(p SchemePolicy) AuthMiddlewareOption {
	return func(m *AuthMiddleware) {
		m.policy = p
	}
}

// WithRealm sets the realm advertised in challenges.
func WithRealm(realm string) AuthMiddlewareOption {
	return func(m *AuthMiddleware) {
		m.realm = realm
	}
}

// WithNonce makes proofs carry the value returned by fn. An empty value disables the check.
func WithNonce(fn func() string) AuthMiddlewareOption {
	return func(m *AuthMiddleware) {
		m.nonce = fn
	}
}

// WithAcceptedURIs replaces the request URL as the only acceptable htu.
func WithAcceptedURIs(fn func(r *http.Request) []string) AuthMiddlewareOption {
	return func(m *AuthMiddleware) {
		m.acceptURI = fn
	}
}

// WithFailureHandler installs a hook that can customize error responses.
func WithFailureHandler(h FailureHandler) AuthMiddlewareOption {
	return func(m *AuthMiddleware) {
		m.onFailure = h
	}
}

// NewAuthMiddleware creates a resource server middleware.
func NewAuthMiddleware(validator *Validator, tokens TokenLookup, jtiCache JTICache, opts ...AuthMiddlewareOption) *AuthMiddleware {
	m := &AuthMiddleware{
		validator: validator,
		tokens:    tokens,
		jtiCache:  jtiCache,
		logger:    slog.Default(),
		realm:     "authpkce",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wrap wraps an HTTP handler. next runs only for authenticated requests.
func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		defer func() {
			if err := recover(); err != nil {
				m.logger.Error("panic in auth middleware",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				writeJSONError(w, http.StatusInternalServerError, "", "server_error", "internal server error")
			}
		}()

		p, status, challenge, err := m.authenticate(r)
		if err != nil {
			m.logAuthFailure(r, err)
			if m.onFailure != nil && m.onFailure(w, r, err) {
				return
			}
			if challenge == "" {
				writeJSONError(w, status, "", "server_error", "internal server error")
				return
			}
			code, desc := dpop.CodeInvalidToken, err.Error()
			var pe *ProofError
			if errors.As(err, &pe) {
				code, desc = pe.Code, pe.Detail
				if pe.Code == dpop.CodeUseNonce && m.nonce != nil {
					w.Header().Set(dpop.HeaderNonce, m.nonce())
				}
			}
			writeJSONError(w, status, m.challenge(challenge, code, desc), code, desc)
			return
		}

		m.logger.Info("auth.success",
			"scheme", p.Scheme,
			"sub", sanitizeForLog(p.Binding.Subject),
			"method", r.Method,
			"path", r.URL.Path,
			"ip", getClientIP(r),
			"latency_ms", time.Since(start).Milliseconds(),
		)
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
	})
}

// authenticate returns the principal, or the status and challenge scheme to reject with.
func (m *AuthMiddleware) authenticate(r *http.Request) (*Principal, int, string, error) {
	scheme, token := splitAuthorization(r.Header.Get("Authorization"))
	proof := r.Header.Get(dpop.HeaderDPoP)

	switch {
	case token == "":
		return nil, http.StatusUnauthorized, m.preferredScheme(), errors.New("access token required")
	case strings.EqualFold(scheme, dpop.SchemeDPoP) && m.policy == PolicyRequireBearer:
		return nil, http.StatusUnauthorized, dpop.SchemeBearer, errors.New("Bearer scheme required")
	case strings.EqualFold(scheme, dpop.SchemeBearer) && m.policy == PolicyRequireDPoP:
		return nil, http.StatusUnauthorized, dpop.SchemeDPoP, errors.New("DPoP proof required")
	case !strings.EqualFold(scheme, dpop.SchemeDPoP) && !strings.EqualFold(scheme, dpop.SchemeBearer):
		return nil, http.StatusUnauthorized, m.preferredScheme(), fmt.Errorf("unsupported scheme %q", scheme)
	}

	binding, err := m.tokens.LookupToken(r.Context(), token)
	if err != nil {
		return nil, http.StatusInternalServerError, "", fmt.Errorf("token lookup: %w", err)
	}
	if binding == nil {
		return nil, http.StatusUnauthorized, canonicalScheme(scheme), errors.New("unknown or expired access token")
	}

	p := &Principal{Scheme: canonicalScheme(scheme), Token: token, Binding: binding}

	needsProof := strings.EqualFold(scheme, dpop.SchemeDPoP) || (binding.JKT != "" && m.policy == PolicyRequireBearer)
	if !needsProof {
		if binding.JKT != "" {
			return nil, http.StatusUnauthorized, dpop.SchemeDPoP, errors.New("DPoP-bound token presented as Bearer")
		}
		return p, 0, "", nil
	}

	want := Expect{Method: r.Method, AccessToken: token}
	if m.acceptURI != nil {
		want.URIs = m.acceptURI(r)
	} else {
		want.URIs = []string{RequestURI(r)}
	}
	if m.nonce != nil {
		want.Nonce = m.nonce()
	}

	res, err := m.validator.ValidateProof(proof, want)
	if err != nil {
		return nil, http.StatusUnauthorized, dpop.SchemeDPoP, err
	}
	if binding.JKT != "" && res.Thumbprint != binding.JKT {
		return nil, http.StatusUnauthorized, dpop.SchemeDPoP, errors.New("proof key does not match token binding")
	}

	replay, err := m.jtiCache.Record(res.Claims.JTI)
	if err != nil || replay {
		return nil, http.StatusUnauthorized, dpop.SchemeDPoP, errInvalidProof("jti replay detected")
	}

	p.Proof = res
	return p, 0, "", nil
}

func (m *AuthMiddleware) preferredScheme() string {
	if m.policy == PolicyRequireBearer {
		return dpop.SchemeBearer
	}
	return dpop.SchemeDPoP
}

func (m *AuthMiddleware) challenge(scheme, code, desc string) string {
	c := fmt.Sprintf(`%s realm=%q, error=%q, error_description=%q`, scheme, m.realm, code, sanitizeForLog(desc))
	if scheme == dpop.SchemeDPoP {
		c += `, algs="ES256"`
	}
	return c
}

// RequestURI builds scheme + host + path for htu comparison.
func RequestURI(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host + r.URL.Path
}

func splitAuthorization(h string) (scheme, token string) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok {
		return scheme, ""
	}
	return scheme, strings.TrimSpace(token)
}

func canonicalScheme(s string) string {
	if strings.EqualFold(s, dpop.SchemeDPoP) {
		return dpop.SchemeDPoP
	}
	return dpop.SchemeBearer
}

// writeJSONError writes an RFC 6750 style error. challenge may be empty.
func writeJSONError(w http.ResponseWriter, status int, challenge, code, desc string) {
	if challenge != "" {
		w.Header().Set("WWW-Authenticate", challenge)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": desc,
	})
}

func (m *AuthMiddleware) logAuthFailure(r *http.Request, err error) {
	m.logger.Warn("auth.failure",
		"reason", sanitizeForLog(err.Error()),
		"method", r.Method,
		"path", r.URL.Path,
		"ip", getClientIP(r),
	)
}

// sanitizeForLog sanitizes a string for logging to prevent log injection.
func sanitizeForLog(s string) string {
	result := strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	if len(result) > 256 {
		result = result[:256] + "..."
	}
	return result
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		if strings.Contains(addr, "[") {
			if closeIdx := strings.LastIndex(addr, "]"); closeIdx != -1 && closeIdx < idx {
				return addr[:idx]
			}
		} else {
			return addr[:idx]
		}
	}
	return addr
}
