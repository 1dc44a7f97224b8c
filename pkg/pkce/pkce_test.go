package pkce

import (
	"crypto/sha256"
	"encoding/base64"
	"regexp"
	"testing"

	"github.com/gobeyondidentity/authpkce/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]+$`)

func TestRandomHex(t *testing.T) {
	t.Parallel()
	t.Log("Testing RandomHex returns 2n lowercase hex characters")

	for _, n := range []int{1, 16, 32} {
		s, err := RandomHex(n)
		require.NoError(t, err)
		assert.Len(t, s, 2*n)
		assert.Regexp(t, hexPattern, s)
	}

	a, _ := RandomHex(16)
	b, _ := RandomHex(16)
	assert.NotEqual(t, a, b, "two draws must differ")

	_, err := RandomHex(0)
	assert.Error(t, err)
}

func TestSHA256Base64URL(t *testing.T) {
	t.Parallel()

	// RFC 7636 Appendix B.
	got := SHA256Base64URL("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk")
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", got)

	assert.NotContains(t, SHA256Base64URL("x"), "=")
}

func TestNewPair(t *testing.T) {
	t.Parallel()
	t.Log("Testing challenge is always the S256 digest of the verifier")

	for i := 0; i < 20; i++ {
		p, err := New()
		require.NoError(t, err)

		assert.Len(t, p.Verifier, 64)
		assert.Equal(t, MethodS256, p.Method)

		sum := sha256.Sum256([]byte(p.Verifier))
		assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), p.Challenge)
		assert.True(t, p.Verify(p.Challenge))
		assert.False(t, p.Verify(p.Challenge+"x"))
	}
}

func TestVerifierPersistence(t *testing.T) {
	t.Parallel()
	s := storage.NewMemory()

	t.Log("Loading before saving reports a missing verifier")
	_, err := LoadVerifier(s)
	require.ErrorIs(t, err, ErrVerifierMissing)

	require.NoError(t, SaveVerifier(s, "abc"))
	v, err := LoadVerifier(s)
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	t.Log("Cleared verifier cannot be reused")
	require.NoError(t, ClearVerifier(s))
	_, err = LoadVerifier(s)
	assert.ErrorIs(t, err, ErrVerifierMissing)
}
