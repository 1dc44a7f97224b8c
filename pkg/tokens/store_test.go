package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/gobeyondidentity/authpkce/pkg/pkce"
	"github.com/gobeyondidentity/authpkce/pkg/storage"
)

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	s := NewStore(mem)

	t.Log("Load with nothing stored leaves the store empty")
	ts, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, ts)
	assert.False(t, s.LoggedIn())

	require.NoError(t, s.Save(&TokenSet{AccessToken: "a", RefreshToken: "r", IDToken: "i"}))
	assert.True(t, s.LoggedIn())

	t.Log("A second store over the same storage loads the saved set")
	other := NewStore(mem)
	ts, err = other.Load()
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, "r", ts.RefreshToken)
	assert.Equal(t, "i", other.Current().IDToken)

	t.Log("Current returns a copy")
	c := s.Current()
	c.AccessToken = "mutated"
	assert.Equal(t, "a", s.Current().AccessToken)
}

func TestStoreClearKeepsDPoPKeys(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	s := NewStore(mem)

	require.NoError(t, s.Save(&TokenSet{AccessToken: "a"}))
	require.NoError(t, pkce.SaveVerifier(mem, "v"))
	require.NoError(t, mem.Set(storage.KeyDPoPPrivate, []byte("k")))
	require.NoError(t, mem.Set(storage.KeyDPoPPublic, []byte("k")))

	require.NoError(t, s.Clear())
	assert.False(t, s.LoggedIn())
	assert.Nil(t, s.Current())

	_, err := mem.Get(storage.KeyTokens)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = pkce.LoadVerifier(mem)
	assert.ErrorIs(t, err, pkce.ErrVerifierMissing)

	_, err = mem.Get(storage.KeyDPoPPrivate)
	assert.NoError(t, err)
	_, err = mem.Get(storage.KeyDPoPPublic)
	assert.NoError(t, err)
}

func TestStoreRejectsEmptyAndCorrupt(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	s := NewStore(mem)

	assert.ErrorIs(t, s.Save(nil), ErrNoAccessToken)
	assert.ErrorIs(t, s.Save(&TokenSet{RefreshToken: "r"}), ErrNoAccessToken)

	require.NoError(t, mem.Set(storage.KeyTokens, []byte("{not json")))
	_, err := s.Load()
	assert.Error(t, err)
	assert.False(t, s.LoggedIn())
}

func TestFromOAuth2(t *testing.T) {
	t.Parallel()

	tok := (&oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "DPoP"}).
		WithExtra(map[string]any{"id_token": "i", "scope": "openid"})

	ts := FromOAuth2(tok)
	assert.Equal(t, &TokenSet{AccessToken: "a", RefreshToken: "r", TokenType: "DPoP", IDToken: "i", Scope: "openid"}, ts)
	assert.Nil(t, FromOAuth2(nil))

	back := ts.OAuth2()
	assert.Equal(t, "r", back.RefreshToken)
	assert.False(t, back.Valid(), "converted token must force a refresh")
}
