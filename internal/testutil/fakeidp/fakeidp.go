package fakeidp

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/gobeyondidentity/authpkce/internal/dpopserver"
	"github.com/gobeyondidentity/authpkce/pkg/dpop"
	"github.com/gobeyondidentity/authpkce/pkg/pkce"
)

const signingKID = "fakeidp-1"

// Config controls the server's behavior.
type Config struct {
	ClientID string
	Subject  string
	Email    string
	Username string

	// AccessTTL defaults to five minutes.
	AccessTTL time.Duration

	// RefreshTTL, when set, makes refresh tokens JWTs with an exp claim.
	// Otherwise refresh tokens are opaque.
	RefreshTTL time.Duration

	// RotateRefresh issues a new refresh token on every refresh. When false
	// the refresh response omits refresh_token.
	RotateRefresh bool

	// TokenNonce, when set, is required in token endpoint proofs.
	TokenNonce string

	// UserinfoPolicy selects the schemes userinfo accepts.
	UserinfoPolicy dpopserver.SchemePolicy

	// UserinfoHTU, when set, lists the only htu paths userinfo accepts.
	// Other proofs get a 400 naming the list.
	UserinfoHTU []string

	// DenyAuthorization redirects back with error=access_denied.
	DenyAuthorization bool

	Now func() time.Time
}

type codeGrant struct {
	redirectURI string
	challenge   string
	method      string
}

type refreshGrant struct {
	jkt string
}

// Server is the fake identity provider.
type Server struct {
	srv    *httptest.Server
	key    *ecdsa.PrivateKey
	proofs *dpopserver.Validator
	jtis   *dpopserver.MemoryJTICache

	mu            sync.Mutex
	cfg           Config
	codes         map[string]codeGrant
	refresh       map[string]refreshGrant
	access        map[string]*dpopserver.TokenBinding
	tokenRequests []url.Values
	lastProofs    []string
	logouts       []url.Values
}

// New starts a server and registers its shutdown with t.Cleanup.
func New(t testing.TB, cfg Config) *Server {
	t.Helper()
	s, err := Start(cfg)
	if err != nil {
		t.Fatalf("start fake idp: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// Start starts a server. The caller must Close it.
func Start(cfg Config) (*Server, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "pkcectl"
	}
	if cfg.Subject == "" {
		cfg.Subject = "user-123"
	}
	if cfg.Email == "" {
		cfg.Email = "user@example.com"
	}
	if cfg.Username == "" {
		cfg.Username = "user"
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	s := &Server{
		key:     key,
		cfg:     cfg,
		codes:   map[string]codeGrant{},
		refresh: map[string]refreshGrant{},
		access:  map[string]*dpopserver.TokenBinding{},
		jtis:    dpopserver.NewMemoryJTICache(dpopserver.WithCleanupInterval(0)),
	}
	vc := dpopserver.DefaultValidatorConfig()
	vc.Now = cfg.Now
	s.proofs = dpopserver.NewValidator(vc)

	s.srv = httptest.NewServer(s.router())
	return s, nil
}

func (s *Server) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/.well-known/openid-configuration", s.handleDiscovery).Methods(http.MethodGet)
	r.HandleFunc("/jwks", s.handleJWKS).Methods(http.MethodGet)
	r.HandleFunc("/authorize", s.handleAuthorize).Methods(http.MethodGet)
	r.HandleFunc("/token", s.handleToken).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodGet)
	r.PathPrefix("/userinfo").Handler(s.userinfoHandler())
	return r
}

// Close shuts the server down.
func (s *Server) Close() {
	s.srv.Close()
	s.jtis.Close()
}

func (s *Server) URL() string         { return s.srv.URL }
func (s *Server) Issuer() string      { return s.srv.URL }
func (s *Server) AuthURL() string     { return s.srv.URL + "/authorize" }
func (s *Server) TokenURL() string    { return s.srv.URL + "/token" }
func (s *Server) UserinfoURL() string { return s.srv.URL + "/userinfo" }
func (s *Server) LogoutURL() string   { return s.srv.URL + "/logout" }

// Client returns an HTTP client for the server.
func (s *Server) Client() *http.Client {
	return s.srv.Client()
}

// Update changes the configuration of a running server.
func (s *Server) Update(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cfg)
}

func (s *Server) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// TokenRequests returns the forms posted to the token endpoint.
func (s *Server) TokenRequests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.tokenRequests...)
}

// TokenProofs returns the DPoP headers sent to the token endpoint, "" when absent.
func (s *Server) TokenProofs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lastProofs...)
}

// Logouts returns the query of every logout request.
func (s *Server) Logouts() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.logouts...)
}

// RevokeRefreshTokens forgets every refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = map[string]refreshGrant{}
}

// Open follows an authorization or logout URL the way a browser would. For
// an authorization URL the redirect back to the client is followed too.
func (s *Server) Open(ctx context.Context, rawURL string) error {
	noRedirect := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	loc := resp.Header.Get("Location")
	if resp.StatusCode != http.StatusFound || loc == "" {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("fakeidp: %s returned %s", rawURL, resp.Status)
		}
		return nil
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, loc, nil)
	if err != nil {
		return err
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// Authorize runs an authorization request and returns the redirect query
// without contacting the client.
func (s *Server) Authorize(ctx context.Context, authURL string) (url.Values, error) {
	noRedirect := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fakeidp: authorize returned %s: %s", resp.Status, body)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		return nil, err
	}
	return loc.Query(), nil
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                s.Issuer(),
		"authorization_endpoint":                s.AuthURL(),
		"token_endpoint":                        s.TokenURL(),
		"userinfo_endpoint":                     s.UserinfoURL(),
		"end_session_endpoint":                  s.LogoutURL(),
		"jwks_uri":                              s.srv.URL + "/jwks",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"ES256"},
		"code_challenge_methods_supported":      []string{pkce.MethodS256},
		"dpop_signing_alg_values_supported":     []string{dpop.AlgES256},
	})
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &s.key.PublicKey,
		KeyID:     signingKID,
		Algorithm: string(jose.ES256),
		Use:       "sig",
	}}})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cfg := s.config()

	redirectURI := q.Get("redirect_uri")
	target, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	if q.Get("client_id") != cfg.ClientID {
		http.Error(w, "unknown client_id", http.StatusBadRequest)
		return
	}

	back := url.Values{}
	if st := q.Get("state"); st != "" {
		back.Set("state", st)
	}

	switch {
	case cfg.DenyAuthorization:
		back.Set("error", "access_denied")
		back.Set("error_description", "user denied the request")
	case q.Get("response_type") != "code":
		back.Set("error", "unsupported_response_type")
	case q.Get("code_challenge") == "" || q.Get("code_challenge_method") != pkce.MethodS256:
		back.Set("error", "invalid_request")
		back.Set("error_description", "PKCE S256 code_challenge is required")
	default:
		code, err := pkce.RandomHex(16)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.mu.Lock()
		s.codes[code] = codeGrant{
			redirectURI: redirectURI,
			challenge:   q.Get("code_challenge"),
			method:      q.Get("code_challenge_method"),
		}
		s.mu.Unlock()
		back.Set("code", code)
	}

	target.RawQuery = back.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.logouts = append(s.logouts, r.URL.Query())
	s.mu.Unlock()
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("logged out\n"))
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenErr(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	cfg := s.config()
	proof := r.Header.Get(dpop.HeaderDPoP)

	s.mu.Lock()
	s.tokenRequests = append(s.tokenRequests, cloneValues(r.PostForm))
	s.lastProofs = append(s.lastProofs, proof)
	s.mu.Unlock()

	if r.PostForm.Get("client_id") != cfg.ClientID {
		tokenErr(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}

	var jkt string
	if proof != "" {
		res, err := s.proofs.ValidateProof(proof, dpopserver.Expect{
			Method: http.MethodPost,
			URIs:   []string{s.TokenURL()},
			Nonce:  cfg.TokenNonce,
		})
		if err != nil {
			var pe *dpopserver.ProofError
			if errors.As(err, &pe) && pe.Code == dpop.CodeUseNonce {
				w.Header().Set(dpop.HeaderNonce, cfg.TokenNonce)
				tokenErr(w, http.StatusBadRequest, dpop.CodeUseNonce, "nonce required")
				return
			}
			tokenErr(w, http.StatusBadRequest, dpop.CodeInvalidProof, err.Error())
			return
		}
		if replay, err := s.jtis.Record(res.Claims.JTI); err != nil || replay {
			tokenErr(w, http.StatusBadRequest, dpop.CodeInvalidProof, "jti replay detected")
			return
		}
		jkt = res.Thumbprint
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.exchangeCode(w, r.PostForm, jkt)
	case "refresh_token":
		s.exchangeRefresh(w, r.PostForm, jkt)
	default:
		tokenErr(w, http.StatusBadRequest, "unsupported_grant_type", r.PostForm.Get("grant_type"))
	}
}

func (s *Server) exchangeCode(w http.ResponseWriter, form url.Values, jkt string) {
	code := form.Get("code")

	s.mu.Lock()
	grant, ok := s.codes[code]
	delete(s.codes, code)
	s.mu.Unlock()

	switch {
	case !ok:
		tokenErr(w, http.StatusBadRequest, "invalid_grant", "unknown or used authorization code")
		return
	case grant.redirectURI != form.Get("redirect_uri"):
		tokenErr(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	case !pkce.VerifyChallenge(form.Get("code_verifier"), grant.challenge):
		tokenErr(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
		return
	}

	resp, err := s.issue(jkt, true, true)
	if err != nil {
		tokenErr(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) exchangeRefresh(w http.ResponseWriter, form url.Values, jkt string) {
	rt := form.Get("refresh_token")
	cfg := s.config()

	s.mu.Lock()
	grant, ok := s.refresh[rt]
	if ok && cfg.RotateRefresh {
		delete(s.refresh, rt)
	}
	s.mu.Unlock()

	switch {
	case !ok:
		tokenErr(w, http.StatusBadRequest, "invalid_grant", "refresh token is invalid or expired")
		return
	case grant.jkt != "" && grant.jkt != jkt:
		tokenErr(w, http.StatusBadRequest, "invalid_grant", "refresh token is bound to a different key")
		return
	}

	resp, err := s.issue(jkt, cfg.RotateRefresh, false)
	if err != nil {
		tokenErr(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// TokenResponse is the token endpoint's success payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Issue mints a token response outside of a flow. A non-empty jkt binds the
// access token to that key thumbprint.
func (s *Server) Issue(jkt string) (*TokenResponse, error) {
	return s.issue(jkt, true, true)
}

func (s *Server) issue(jkt string, withRefresh, withID bool) (*TokenResponse, error) {
	cfg := s.config()
	now := cfg.Now()

	jti, err := pkce.RandomHex(16)
	if err != nil {
		return nil, err
	}
	claims := jwt.MapClaims{
		"iss":       s.Issuer(),
		"sub":       cfg.Subject,
		"aud":       cfg.ClientID,
		"client_id": cfg.ClientID,
		"iat":       now.Unix(),
		"exp":       now.Add(cfg.AccessTTL).Unix(),
		"jti":       jti,
	}
	tokenType := dpop.SchemeBearer
	if jkt != "" {
		claims["cnf"] = map[string]string{"jkt": jkt}
		tokenType = dpop.SchemeDPoP
	}
	access, err := s.sign(claims)
	if err != nil {
		return nil, err
	}

	resp := &TokenResponse{
		AccessToken: access,
		TokenType:   tokenType,
		ExpiresIn:   int(cfg.AccessTTL.Seconds()),
		Scope:       "openid profile email",
	}

	if withRefresh {
		rt, err := s.refreshToken(cfg, now)
		if err != nil {
			return nil, err
		}
		resp.RefreshToken = rt
	}
	if withID {
		id, err := s.sign(jwt.MapClaims{
			"iss":                s.Issuer(),
			"sub":                cfg.Subject,
			"aud":                cfg.ClientID,
			"iat":                now.Unix(),
			"exp":                now.Add(cfg.AccessTTL).Unix(),
			"email":              cfg.Email,
			"preferred_username": cfg.Username,
		})
		if err != nil {
			return nil, err
		}
		resp.IDToken = id
	}

	s.mu.Lock()
	s.access[access] = &dpopserver.TokenBinding{Subject: cfg.Subject, JKT: jkt, Claims: claims}
	if resp.RefreshToken != "" {
		s.refresh[resp.RefreshToken] = refreshGrant{jkt: jkt}
	}
	s.mu.Unlock()
	return resp, nil
}

func (s *Server) refreshToken(cfg Config, now time.Time) (string, error) {
	if cfg.RefreshTTL == 0 {
		return pkce.RandomHex(24)
	}
	jti, err := pkce.RandomHex(16)
	if err != nil {
		return "", err
	}
	return s.sign(jwt.MapClaims{
		"iss": s.Issuer(),
		"sub": cfg.Subject,
		"typ": "Refresh",
		"iat": now.Unix(),
		"exp": now.Add(cfg.RefreshTTL).Unix(),
		"jti": jti,
	})
}

func (s *Server) sign(claims jwt.MapClaims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	t.Header["kid"] = signingKID
	return t.SignedString(s.key)
}

// ParseAccessToken verifies a token minted by this server.
func (s *Server) ParseAccessToken(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return &s.key.PublicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}), jwt.WithTimeFunc(s.config().Now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Server) userinfoHandler() http.Handler {
	lookup := dpopserver.TokenLookupFunc(func(ctx context.Context, token string) (*dpopserver.TokenBinding, error) {
		if _, err := s.ParseAccessToken(token); err != nil {
			return nil, nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.access[token], nil
	})

	userinfo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := dpopserver.PrincipalFromContext(r.Context())
		cfg := s.config()
		writeJSON(w, http.StatusOK, map[string]any{
			"sub":                p.Binding.Subject,
			"email":              cfg.Email,
			"preferred_username": cfg.Username,
			"scheme":             p.Scheme,
		})
	})

	// The policy is read per request so Update takes effect immediately.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := s.config()
		opts := []dpopserver.AuthMiddlewareOption{
			dpopserver.WithPolicy(cfg.UserinfoPolicy),
			dpopserver.WithRealm("fakeidp"),
			dpopserver.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		}
		if len(cfg.UserinfoHTU) > 0 {
			opts = append(opts,
				dpopserver.WithAcceptedURIs(func(*http.Request) []string {
					out := make([]string, len(cfg.UserinfoHTU))
					for i, p := range cfg.UserinfoHTU {
						out[i] = s.srv.URL + p
					}
					return out
				}),
				dpopserver.WithFailureHandler(func(w http.ResponseWriter, r *http.Request, err error) bool {
					var pe *dpopserver.ProofError
					if !errors.As(err, &pe) || pe.Claim != "htu" {
						return false
					}
					writeJSON(w, http.StatusBadRequest, map[string]string{
						"message": fmt.Sprintf("incorrect `htu` claim. It should match [[%s]]", strings.Join(cfg.UserinfoHTU, " ")),
					})
					return true
				}),
			)
		}
		dpopserver.NewAuthMiddleware(s.proofs, lookup, s.jtis, opts...).Wrap(userinfo).ServeHTTP(w, r)
	})
}

func tokenErr(w http.ResponseWriter, status int, code, desc string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": desc})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
