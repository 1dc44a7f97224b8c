package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/gobeyondidentity/authpkce/pkg/executor"
)

// ErrNoUserinfoEndpoint is returned by FetchUserinfo when none is configured.
var ErrNoUserinfoEndpoint = errors.New("no userinfo endpoint configured")

// FetchUserinfo calls the userinfo endpoint with the current access token.
func (m *Manager) FetchUserinfo(ctx context.Context) (*executor.Result, error) {
	if m.cfg.UserinfoURL == "" {
		return nil, ErrNoUserinfoEndpoint
	}
	return m.CallEndpoint(ctx, http.MethodGet, m.cfg.UserinfoURL, nil)
}

// CallEndpoint calls a protected resource through the request executor. The
// returned error is the executor's final error; the Result is always
// returned once a request was attempted so its traces can be shown.
func (m *Manager) CallEndpoint(ctx context.Context, method, rawURL string, body []byte) (*executor.Result, error) {
	cur := m.tokens.Current()
	if cur == nil || cur.AccessToken == "" {
		return nil, ErrNotLoggedIn
	}

	exec, mode, err := m.executor()
	if err != nil {
		return nil, err
	}

	req := executor.Request{Method: method, URL: rawURL, Body: body}
	if len(body) > 0 {
		req.ContentType = "application/json"
	}
	res := exec.Execute(ctx, req, executor.Credentials{AccessToken: cur.AccessToken, Mode: mode})
	if res.Err != nil {
		m.logger.Warn("endpoint call failed", "method", method, "url", rawURL, "decision", res.Decision.String(), "error", res.Err)
	}
	return res, res.Err
}
