package dpop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChallenges(t *testing.T) {
	t.Parallel()

	chs := ParseChallenges(`DPoP realm="api", error="invalid_token", error_description="bad \"token\"", algs="ES256 PS256", Bearer realm=api`)
	require.Len(t, chs, 2)

	assert.True(t, chs[0].Is("dpop"))
	assert.Equal(t, "api", chs[0].Param("realm"))
	assert.Equal(t, "invalid_token", chs[0].Param("ERROR"))
	assert.Equal(t, `bad "token"`, chs[0].Param("error_description"))
	assert.Equal(t, "ES256 PS256", chs[0].Param("algs"))

	assert.True(t, chs[1].Is("Bearer"))
	assert.Equal(t, "api", chs[1].Param("realm"))
}

func TestParseChallengesLoose(t *testing.T) {
	t.Parallel()
	t.Log("Testing bare words and multiple header values")

	chs := ParseChallenges("DPoP proof", "Bearer")
	_, ok := FindChallenge(chs, "DPoP")
	assert.True(t, ok)
	_, ok = FindChallenge(chs, "bearer")
	assert.True(t, ok)
	_, ok = FindChallenge(chs, "Basic")
	assert.False(t, ok)

	assert.Empty(t, ParseChallenges(""))
	assert.Empty(t, ParseChallenges(" , ,"))
}
