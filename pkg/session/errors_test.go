package session

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestTokenErrorFromRetrieveError(t *testing.T) {
	t.Parallel()

	re := &oauth2.RetrieveError{
		Response:         &http.Response{StatusCode: http.StatusBadRequest},
		Body:             []byte(`{"error":"invalid_grant","error_description":"Token is not active"}`),
		ErrorCode:        "invalid_grant",
		ErrorDescription: "Token is not active",
	}
	err := tokenError("refresh", fmt.Errorf("oauth2: %w", re))

	var te *TokenError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "refresh", te.Op)
	assert.Equal(t, http.StatusBadRequest, te.StatusCode)
	assert.Equal(t, re.Body, te.Body)
	assert.True(t, te.Expired())
	assert.Equal(t, "token refresh failed (400 Bad Request): invalid_grant: Token is not active", te.Error())
}

func TestTokenErrorMissingAccessToken(t *testing.T) {
	t.Parallel()

	err := tokenError("exchange", errors.New("oauth2: server response missing access_token"))
	var te *TokenError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "exchange", te.Op)
	assert.False(t, te.Expired())
}

func TestTokenErrorPassthrough(t *testing.T) {
	t.Parallel()

	orig := errors.New("dial tcp: connection refused")
	assert.Same(t, orig, tokenError("exchange", orig))
}

func TestTokenErrorExpired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code string
		desc string
		want bool
	}{
		{"invalid_grant", "", true},
		{"invalid_request", "Refresh Token Expired", true},
		{"invalid_request", "bad client", false},
		{"server_error", "", false},
	}
	for _, tt := range tests {
		te := &TokenError{Op: "refresh", Code: tt.code, Description: tt.desc}
		assert.Equal(t, tt.want, te.Expired(), "%s/%s", tt.code, tt.desc)
	}
}

func TestTokenErrorMessage(t *testing.T) {
	t.Parallel()

	te := &TokenError{Op: "exchange", StatusCode: http.StatusBadGateway, Body: []byte("upstream down")}
	assert.Equal(t, "token exchange failed (502 Bad Gateway): upstream down", te.Error())

	te = &TokenError{Op: "exchange", Code: "invalid_client"}
	assert.Equal(t, "token exchange failed: invalid_client", te.Error())
}

func TestAuthorizationErrorMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "authorization failed: access_denied", (&AuthorizationError{Code: "access_denied"}).Error())
	assert.Equal(t, "authorization failed: access_denied: no",
		(&AuthorizationError{Code: "access_denied", Description: "no"}).Error())
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	err := Config{ClientID: "c", AuthURL: "a", TokenURL: "t"}.Validate()
	require.Error(t, err)
	assert.Equal(t, "redirect uri is required", err.Error())

	assert.NoError(t, testConfig("https://idp.example.com/token").Validate())
}

func TestConfigOAuth2(t *testing.T) {
	t.Parallel()

	cfg := testConfig("https://idp.example.com/token")
	oc := cfg.oauth2()
	assert.Equal(t, []string{"openid", "profile", "email"}, oc.Scopes)
	assert.Equal(t, oauth2.AuthStyleInParams, oc.Endpoint.AuthStyle)
	assert.Equal(t, DefaultRedirectURI, oc.RedirectURL)
}
