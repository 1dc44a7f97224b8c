package session

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/gobeyondidentity/authpkce/pkg/tokens"
)

// Refresh exchanges the refresh token for a new token set. Concurrent calls
// share one request. A refresh token that is an expired JWT, or a grant the
// server rejects as invalid or expired, ends the session with
// ErrSessionExpired. Other failures leave the tokens in place.
func (m *Manager) Refresh(ctx context.Context) (*tokens.TokenSet, error) {
	v, err, shared := m.refreshes.Do("refresh", func() (any, error) {
		return m.refresh(ctx)
	})
	if shared {
		m.logger.Debug("joined in-flight refresh")
	}
	if err != nil {
		return nil, err
	}
	return v.(*tokens.TokenSet).Clone(), nil
}

func (m *Manager) refresh(ctx context.Context) (*tokens.TokenSet, error) {
	cur := m.tokens.Current()
	if cur == nil {
		return nil, ErrNotLoggedIn
	}
	if cur.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	if tokens.RefreshTokenExpired(cur.RefreshToken, m.now()) {
		m.logger.Info("refresh token expired, ending session")
		if err := m.endSession(); err != nil {
			return nil, err
		}
		return nil, ErrSessionExpired
	}

	gen := m.generation()
	tctx, err := m.tokenContext(ctx)
	if err != nil {
		return nil, err
	}

	tok, err := m.oauth.TokenSource(tctx, cur.OAuth2()).Token()
	if err != nil {
		err = tokenError("refresh", err)
		var te *TokenError
		if errors.As(err, &te) && te.Expired() {
			m.logger.Info("refresh rejected, ending session", "error", te.Code, "description", te.Description)
			if cerr := m.endSession(); cerr != nil {
				return nil, cerr
			}
			return nil, ErrSessionExpired
		}
		m.logger.Error("token refresh failed", "error", err)
		return nil, err
	}

	ts := tokens.FromOAuth2(tok)
	if ts.RefreshToken == "" {
		ts.RefreshToken = cur.RefreshToken
	}
	if ts.IDToken == "" {
		ts.IDToken = cur.IDToken
	}
	if err := m.saveIfCurrent(gen, ts); err != nil {
		m.logger.Warn("discarding refresh response", "error", err)
		return nil, err
	}

	if !m.sched.Running() {
		m.startScheduler()
	}
	m.logger.Info("tokens refreshed", "rotated", tok.RefreshToken != "")
	return ts, nil
}

// Logout ends the local session and opens the end-session endpoint with a
// post-logout redirect and the ID token as a hint. It returns the logout URL,
// or "" when no end-session endpoint is configured.
func (m *Manager) Logout(ctx context.Context) (string, error) {
	var idToken string
	if cur := m.tokens.Current(); cur != nil {
		idToken = cur.IDToken
	}

	if err := m.endSession(); err != nil {
		return "", err
	}
	m.logger.Info("logged out")

	logoutURL := m.LogoutURL(idToken)
	if logoutURL == "" {
		return "", nil
	}
	if err := m.opener.Open(ctx, logoutURL); err != nil {
		m.logger.Warn("failed to open logout url", "error", err)
		return logoutURL, err
	}
	return logoutURL, nil
}

// LogoutURL builds the end-session URL for idToken.
func (m *Manager) LogoutURL(idToken string) string {
	if m.cfg.LogoutURL == "" {
		return ""
	}
	params := url.Values{}
	params.Set("post_logout_redirect_uri", m.cfg.RedirectURI)
	if idToken != "" {
		params.Set("id_token_hint", idToken)
	}
	sep := "?"
	if strings.Contains(m.cfg.LogoutURL, "?") {
		sep = "&"
	}
	return m.cfg.LogoutURL + sep + params.Encode()
}
