package fakeidp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeyondidentity/authpkce/internal/dpopserver"
	"github.com/gobeyondidentity/authpkce/pkg/dpop"
	"github.com/gobeyondidentity/authpkce/pkg/pkce"
)

const testRedirect = "http://127.0.0.1:8765/callback"

func authorizeURL(s *Server, p *pkce.Pair) string {
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {"pkcectl"},
		"redirect_uri":          {testRedirect},
		"state":                 {"st-1"},
		"code_challenge":        {p.Challenge},
		"code_challenge_method": {p.Method},
	}
	return s.AuthURL() + "?" + q.Encode()
}

func postToken(t *testing.T, s *Server, form url.Values, proof string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.TokenURL(), strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if proof != "" {
		req.Header.Set(dpop.HeaderDPoP, proof)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func codeFor(t *testing.T, s *Server, p *pkce.Pair) string {
	t.Helper()
	back, err := s.Authorize(context.Background(), authorizeURL(s, p))
	require.NoError(t, err)
	require.Equal(t, "st-1", back.Get("state"))
	require.NotEmpty(t, back.Get("code"), "authorize error: %s", back.Get("error"))
	return back.Get("code")
}

func codeForm(code, verifier string) url.Values {
	return url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {"pkcectl"},
		"code":          {code},
		"redirect_uri":  {testRedirect},
		"code_verifier": {verifier},
	}
}

func TestDiscovery(t *testing.T) {
	s := New(t, Config{})

	resp, err := s.Client().Get(s.URL() + "/.well-known/openid-configuration")
	require.NoError(t, err)
	defer resp.Body.Close()

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, s.Issuer(), doc["issuer"])
	assert.Equal(t, s.TokenURL(), doc["token_endpoint"])
	assert.Equal(t, s.LogoutURL(), doc["end_session_endpoint"])
}

func TestCodeExchange(t *testing.T) {
	t.Log("A PKCE code exchange yields access, refresh and ID tokens")
	s := New(t, Config{})
	p, err := pkce.New()
	require.NoError(t, err)

	status, body := postToken(t, s, codeForm(codeFor(t, s, p), p.Verifier), "")
	require.Equal(t, http.StatusOK, status, "body: %v", body)
	assert.Equal(t, dpop.SchemeBearer, body["token_type"])
	assert.NotEmpty(t, body["refresh_token"])
	assert.NotEmpty(t, body["id_token"])

	claims, err := s.ParseAccessToken(body["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims["sub"])
	assert.NotContains(t, claims, "cnf")

	require.Len(t, s.TokenRequests(), 1)
	assert.Equal(t, p.Verifier, s.TokenRequests()[0].Get("code_verifier"))
}

func TestCodeExchangeRejections(t *testing.T) {
	s := New(t, Config{})

	t.Run("wrong verifier", func(t *testing.T) {
		p, err := pkce.New()
		require.NoError(t, err)
		status, body := postToken(t, s, codeForm(codeFor(t, s, p), "not-the-verifier"), "")
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_grant", body["error"])
	})

	t.Run("code reuse", func(t *testing.T) {
		p, err := pkce.New()
		require.NoError(t, err)
		code := codeFor(t, s, p)
		status, _ := postToken(t, s, codeForm(code, p.Verifier), "")
		require.Equal(t, http.StatusOK, status)
		status, body := postToken(t, s, codeForm(code, p.Verifier), "")
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_grant", body["error"])
	})

	t.Run("unknown client", func(t *testing.T) {
		form := url.Values{"grant_type": {"refresh_token"}, "client_id": {"other"}}
		status, body := postToken(t, s, form, "")
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "invalid_client", body["error"])
	})
}

func TestAuthorizeDenied(t *testing.T) {
	s := New(t, Config{DenyAuthorization: true})
	p, err := pkce.New()
	require.NoError(t, err)

	back, err := s.Authorize(context.Background(), authorizeURL(s, p))
	require.NoError(t, err)
	assert.Equal(t, "access_denied", back.Get("error"))
	assert.Equal(t, "st-1", back.Get("state"))
	assert.Empty(t, back.Get("code"))
}

func TestDPoPBoundExchange(t *testing.T) {
	t.Log("A proof at the token endpoint binds the access token to the key")
	s := New(t, Config{})
	kp, err := dpop.GenerateKeyPair()
	require.NoError(t, err)
	jkt, err := kp.Thumbprint()
	require.NoError(t, err)
	p, err := pkce.New()
	require.NoError(t, err)

	proof, err := dpop.GenerateProof(kp, dpop.ProofParams{Method: http.MethodPost, URL: s.TokenURL()})
	require.NoError(t, err)
	status, body := postToken(t, s, codeForm(codeFor(t, s, p), p.Verifier), proof)
	require.Equal(t, http.StatusOK, status, "body: %v", body)
	assert.Equal(t, dpop.SchemeDPoP, body["token_type"])

	claims, err := s.ParseAccessToken(body["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"jkt": jkt}, claims["cnf"])
	assert.Equal(t, []string{proof}, s.TokenProofs())
}

func TestTokenNonce(t *testing.T) {
	s := New(t, Config{TokenNonce: "n-1"})
	kp, err := dpop.GenerateKeyPair()
	require.NoError(t, err)
	p, err := pkce.New()
	require.NoError(t, err)
	code := codeFor(t, s, p)

	proof, err := dpop.GenerateProof(kp, dpop.ProofParams{Method: http.MethodPost, URL: s.TokenURL()})
	require.NoError(t, err)
	status, body := postToken(t, s, codeForm(code, p.Verifier), proof)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, dpop.CodeUseNonce, body["error"])

	t.Log("The code survives a nonce challenge")
	proof, err = dpop.GenerateProof(kp, dpop.ProofParams{Method: http.MethodPost, URL: s.TokenURL(), Nonce: "n-1"})
	require.NoError(t, err)
	status, body = postToken(t, s, codeForm(code, p.Verifier), proof)
	assert.Equal(t, http.StatusOK, status, "body: %v", body)
}

func TestRefresh(t *testing.T) {
	s := New(t, Config{RotateRefresh: true})
	issued, err := s.Issue("")
	require.NoError(t, err)

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"pkcectl"},
		"refresh_token": {issued.RefreshToken},
	}
	status, body := postToken(t, s, form, "")
	require.Equal(t, http.StatusOK, status, "body: %v", body)
	assert.NotEqual(t, issued.RefreshToken, body["refresh_token"])
	assert.Nil(t, body["id_token"])

	t.Log("A rotated refresh token cannot be used twice")
	status, body = postToken(t, s, form, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_grant", body["error"])
}

func TestRevokeRefreshTokens(t *testing.T) {
	s := New(t, Config{})
	issued, err := s.Issue("")
	require.NoError(t, err)
	s.RevokeRefreshTokens()

	status, body := postToken(t, s, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"pkcectl"},
		"refresh_token": {issued.RefreshToken},
	}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_grant", body["error"])
}

func TestUserinfoPolicy(t *testing.T) {
	s := New(t, Config{})
	issued, err := s.Issue("")
	require.NoError(t, err)

	get := func() *http.Response {
		req, err := http.NewRequest(http.MethodGet, s.UserinfoURL(), nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+issued.AccessToken)
		resp, err := s.Client().Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := get()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "user-123", info["sub"])
	assert.Equal(t, dpop.SchemeBearer, info["scheme"])

	t.Log("Update switches the policy of a running server")
	s.Update(func(c *Config) { c.UserinfoPolicy = dpopserver.PolicyRequireDPoP })
	resp = get()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), dpop.SchemeDPoP)
}

func TestOpenFollowsLogout(t *testing.T) {
	s := New(t, Config{})
	require.NoError(t, s.Open(context.Background(), s.LogoutURL()+"?id_token_hint=abc"))

	logouts := s.Logouts()
	require.Len(t, logouts, 1)
	assert.Equal(t, "abc", logouts[0].Get("id_token_hint"))
}
