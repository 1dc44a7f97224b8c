package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gobeyondidentity/authpkce/pkg/storage"
	"github.com/gobeyondidentity/authpkce/pkg/tokens"
)

// makeJWT builds an unsigned three part token carrying claims.
func makeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

// recordingOpener remembers the URLs it was asked to open.
type recordingOpener struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (o *recordingOpener) Open(_ context.Context, u string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, u)
	return o.err
}

func (o *recordingOpener) opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.urls...)
}

func testConfig(tokenURL string) Config {
	return Config{
		ClientID:    "pkcectl",
		AuthURL:     "https://idp.example.com/authorize",
		TokenURL:    tokenURL,
		UserinfoURL: "https://idp.example.com/userinfo",
		LogoutURL:   "https://idp.example.com/logout",
		RedirectURI: DefaultRedirectURI,
		Scope:       "openid profile email",
	}
}

// newManager builds and initializes a manager, closing it at test end.
func newManager(t *testing.T, cfg Config, persist storage.Store, opts ...Option) *Manager {
	t.Helper()
	m, err := New(cfg, persist, opts...)
	require.NoError(t, err)
	require.NoError(t, m.Init(context.Background()))
	t.Cleanup(m.Close)
	return m
}

// seedTokens stores ts as if a previous run had logged in.
func seedTokens(t *testing.T, persist storage.Store, ts *tokens.TokenSet) {
	t.Helper()
	require.NoError(t, tokens.NewStore(persist).Save(ts))
}

// startLogin runs Login and returns redirect parameters with the issued state.
func startLogin(t *testing.T, m *Manager, o *recordingOpener, code string) url.Values {
	t.Helper()
	authURL, err := m.Login(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, o.opened())

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return url.Values{"code": {code}, "state": {u.Query().Get("state")}}
}

func accessToken(t *testing.T, sub string, ttl time.Duration) string {
	t.Helper()
	return makeJWT(t, map[string]any{"sub": sub, "exp": time.Now().Add(ttl).Unix()})
}

// failingStore fails writes to the listed keys.
type failingStore struct {
	storage.Store
	fail map[string]bool
}

func (s *failingStore) Set(key string, value []byte) error {
	if s.fail[key] {
		return errors.New("disk full")
	}
	return s.Store.Set(key, value)
}
