package session

import (
	"context"
	"fmt"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/gobeyondidentity/authpkce/pkg/pkce"
	"github.com/gobeyondidentity/authpkce/pkg/tokens"
)

// Login starts the authorization code flow. It persists a fresh PKCE
// verifier and CSRF state, then opens the authorization URL. The URL is
// returned even when the opener fails so it can be shown to the user.
func (m *Manager) Login(ctx context.Context) (string, error) {
	pair, err := pkce.New()
	if err != nil {
		return "", fmt.Errorf("create PKCE pair: %w", err)
	}
	state, err := m.state.Generate()
	if err != nil {
		return "", fmt.Errorf("create state: %w", err)
	}

	if err := pkce.SaveVerifier(m.persist, pair.Verifier); err != nil {
		return "", err
	}
	if err := m.state.Save(state); err != nil {
		return "", err
	}

	if m.DPoPEnabled() {
		if _, err := m.keys.EnsureInitialized(); err != nil {
			m.logger.Error("login aborted, DPoP key pair unavailable", "error", err)
			return "", fmt.Errorf("%w: %v", ErrKeyMaterial, err)
		}
	}

	authURL := m.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", pair.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", pair.Method),
	)
	m.logger.Info("starting login", "dpop", m.DPoPEnabled())

	if err := m.opener.Open(ctx, authURL); err != nil {
		return authURL, fmt.Errorf("open authorization url: %w", err)
	}
	return authURL, nil
}

// HandleRedirect completes a login from the redirect query parameters. It
// reports false when the parameters are not an authorization response at
// all. The verifier is cleared once the exchange has been attempted.
func (m *Manager) HandleRedirect(ctx context.Context, q url.Values) (bool, error) {
	code := q.Get("code")
	if code == "" && q.Get("error") == "" {
		return false, nil
	}

	if e := q.Get("error"); e != "" {
		if err := m.state.Clear(); err != nil {
			m.logger.Warn("failed to clear state", "error", err)
		}
		authErr := &AuthorizationError{
			Code:        e,
			Description: q.Get("error_description"),
			URI:         q.Get("error_uri"),
		}
		m.logger.Warn("authorization server returned an error", "error", authErr.Code, "description", authErr.Description)
		return true, authErr
	}

	if err := m.state.Validate(q.Get("state")); err != nil {
		m.logger.Warn("rejected redirect", "error", err)
		return true, err
	}

	verifier, err := pkce.LoadVerifier(m.persist)
	if err != nil {
		m.logger.Warn("rejected redirect", "error", err)
		return true, err
	}

	gen := m.generation()
	tctx, err := m.tokenContext(ctx)
	if err != nil {
		return true, err
	}

	tok, err := m.oauth.Exchange(tctx, code, oauth2.VerifierOption(verifier))
	if cerr := pkce.ClearVerifier(m.persist); cerr != nil {
		m.logger.Warn("failed to clear code verifier", "error", cerr)
	}
	if err != nil {
		err = tokenError("exchange", err)
		m.logger.Error("token exchange failed", "error", err)
		return true, err
	}

	ts := tokens.FromOAuth2(tok)
	if err := m.saveIfCurrent(gen, ts); err != nil {
		m.logger.Warn("discarding token response", "error", err)
		return true, err
	}

	m.startScheduler()
	m.logger.Info("logged in", "token_type", ts.TokenType)
	return true, nil
}
