package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeyondidentity/authpkce/internal/dpopserver"
	"github.com/gobeyondidentity/authpkce/internal/testutil/fakeidp"
	"github.com/gobeyondidentity/authpkce/pkg/clierror"
)

func TestStatus_NotLoggedIn(t *testing.T) {
	_, ws := withIdP(t, fakeidp.Config{}, nil)

	result := run(ws, "status")
	result.AssertSuccess(t)
	result.AssertContains(t, "not logged in")
	result.AssertContains(t, "DPoP:")

	var st StatusOutput
	result = run(ws, "status", "-o", "yaml")
	result.AssertSuccess(t)
	result.DecodeYAML(t, &st)
	assert.False(t, st.LoggedIn)
}

func TestCommands_RequireLogin(t *testing.T) {
	t.Log("Commands that need tokens report NOT_LOGGED_IN before touching the network")

	_, ws := withIdP(t, fakeidp.Config{}, nil)
	for _, args := range [][]string{
		{"refresh"},
		{"tokens"},
		{"userinfo"},
		{"call", "GET", "https://api.example.com/v1/me"},
		{"watch", "--for", "100ms"},
	} {
		t.Run(args[0], func(t *testing.T) {
			result := run(ws, args...)
			result.AssertCode(t, clierror.CodeNotLoggedIn)
			if got := clierror.FromError(result.Err).ExitCode; got != clierror.ExitAuth {
				t.Errorf("expected exit code %d, got %d", clierror.ExitAuth, got)
			}
		})
	}
}

func TestTokens_DecodesClaims(t *testing.T) {
	_, ws := withIdP(t, fakeidp.Config{}, nil)
	login(t, ws)

	result := run(ws, "tokens", "--raw", "-o", "json")
	result.AssertSuccess(t)

	var out []TokenOutput
	result.DecodeJSON(t, &out)
	require.Len(t, out, 3)
	assert.Equal(t, "access_token", out[0].Name)
	assert.Equal(t, "user-123", out[0].Claims["sub"])
	assert.NotEmpty(t, out[0].Raw)
	assert.Equal(t, "id_token", out[1].Name)
	assert.Equal(t, "user@example.com", out[1].Claims["email"])
	assert.Equal(t, "refresh_token", out[2].Name)
	assert.True(t, out[2].Opaque)

	t.Log("Table output renders NumericDate claims as times")
	result = run(ws, "tokens")
	result.AssertSuccess(t)
	result.AssertContains(t, "access_token:")
	result.AssertContains(t, "  sub: user-123")
	result.AssertContains(t, "  exp: "+time.Now().UTC().Format("2006-01-02"))
	result.AssertNotContains(t, "raw:")
}

func TestUserinfo(t *testing.T) {
	_, ws := withIdP(t, fakeidp.Config{}, nil)
	login(t, ws)

	result := run(ws, "userinfo")
	result.AssertSuccess(t)
	result.AssertContains(t, `"sub": "user-123"`)
	result.AssertContains(t, `"scheme": "Bearer"`)

	result = run(ws, "userinfo", "--trace", "-o", "json")
	result.AssertSuccess(t)
	var out CallOutput
	result.DecodeJSON(t, &out)
	assert.True(t, out.OK)
	assert.Equal(t, 200, out.Status)
	assert.Empty(t, out.Decision)
	require.Len(t, out.Traces, 1)
	assert.True(t, strings.HasPrefix(out.Traces[0].Request.Header.Get("Authorization"), "Bearer "))
	assert.True(t, strings.HasSuffix(out.Traces[0].Request.Header.Get("Authorization"), "..."), "token is masked in traces")
}

func TestUserinfo_DPoPRequired(t *testing.T) {
	t.Log("A resource that only accepts DPoP rejects a Bearer session")

	idp, ws := withIdP(t, fakeidp.Config{UserinfoPolicy: dpopserver.PolicyRequireDPoP}, nil)
	login(t, ws)

	result := run(ws, "userinfo", "--trace")
	result.AssertCode(t, clierror.CodeDPoPRequired)
	result.AssertStderrContains(t, "#1 GET "+idp.UserinfoURL())

	t.Log("After switching to DPoP the same call succeeds")
	login(t, ws, "--dpop")
	result = run(ws, "userinfo", "-o", "json")
	result.AssertSuccess(t)
	var out CallOutput
	result.DecodeJSON(t, &out)
	body, ok := out.Body.(map[string]any)
	require.True(t, ok, "body is decoded JSON")
	assert.Equal(t, "DPoP", body["scheme"])
}

func TestCall_RelativeTarget(t *testing.T) {
	idp, ws := withIdP(t, fakeidp.Config{}, nil)
	login(t, ws)

	result := run(ws, "call", "get", "/userinfo", "--platform-endpoint", idp.URL(), "-o", "json")
	result.AssertSuccess(t)
	var out CallOutput
	result.DecodeJSON(t, &out)
	assert.Equal(t, 200, out.Status)

	result = run(ws, "call", "GET", "/userinfo")
	result.AssertCode(t, clierror.CodeConfigInvalid)
}

func TestCall_StatusError(t *testing.T) {
	idp, ws := withIdP(t, fakeidp.Config{}, nil)
	login(t, ws)

	result := run(ws, "call", "GET", idp.URL()+"/missing")
	result.AssertCode(t, clierror.CodeRequestFailed)
}

func TestRefresh(t *testing.T) {
	idp, ws := withIdP(t, fakeidp.Config{RotateRefresh: true}, nil)
	login(t, ws)
	before := idp.TokenRequests()

	result := run(ws, "refresh", "-o", "json")
	result.AssertSuccess(t)
	var st StatusOutput
	result.DecodeJSON(t, &st)
	assert.True(t, st.LoggedIn)

	reqs := idp.TokenRequests()
	require.Len(t, reqs, len(before)+1)
	assert.Equal(t, "refresh_token", reqs[len(reqs)-1].Get("grant_type"))
}

func TestRefresh_RevokedEndsSession(t *testing.T) {
	t.Log("A refresh token the provider no longer accepts ends the session")

	idp, ws := withIdP(t, fakeidp.Config{}, nil)
	login(t, ws)
	idp.RevokeRefreshTokens()

	result := run(ws, "refresh")
	result.AssertCode(t, clierror.CodeSessionExpired)
	assert.False(t, readStatus(t, ws).LoggedIn)
}

func TestLogout(t *testing.T) {
	idp, ws := withIdP(t, fakeidp.Config{}, nil)
	login(t, ws, "--dpop")
	thumb := readStatus(t, ws).Thumbprint

	result := run(ws, "logout", "-o", "json")
	result.AssertSuccess(t)
	var out LogoutOutput
	result.DecodeJSON(t, &out)
	assert.True(t, out.LoggedOut)
	assert.True(t, strings.HasPrefix(out.LogoutURL, idp.LogoutURL()+"?"))

	logouts := idp.Logouts()
	require.Len(t, logouts, 1)
	assert.NotEmpty(t, logouts[0].Get("id_token_hint"))

	st := readStatus(t, ws)
	assert.False(t, st.LoggedIn)
	assert.True(t, st.DPoP, "logout keeps the DPoP preference")
	assert.Equal(t, thumb, st.Thumbprint, "logout keeps the key pair")
}
