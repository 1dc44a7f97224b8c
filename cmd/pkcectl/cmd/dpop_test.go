package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeyondidentity/authpkce/internal/testutil/cli"
	"github.com/gobeyondidentity/authpkce/internal/testutil/fakeidp"
)

func readDPoP(t *testing.T, ws *cli.Workspace, args ...string) DPoPOutput {
	t.Helper()
	result := run(ws, append(args, "-o", "json")...)
	result.AssertSuccess(t)
	var out DPoPOutput
	result.DecodeJSON(t, &out)
	return out
}

func TestDPoP_EnableDisable(t *testing.T) {
	_, ws := withIdP(t, fakeidp.Config{}, nil)

	out := readDPoP(t, ws, "dpop", "show")
	assert.False(t, out.Enabled)
	assert.Empty(t, out.Thumbprint)

	t.Log("Enabling creates a key pair")
	out = readDPoP(t, ws, "dpop", "enable")
	assert.True(t, out.Enabled)
	require.NotEmpty(t, out.Thumbprint)
	assert.Equal(t, "EC", out.PublicJWK["kty"])
	assert.Equal(t, "P-256", out.PublicJWK["crv"])
	assert.NotContains(t, out.PublicJWK, "d", "private part is never shown")
	thumb := out.Thumbprint

	t.Log("Disabling keeps the key pair")
	out = readDPoP(t, ws, "dpop", "disable")
	assert.False(t, out.Enabled)
	assert.Equal(t, thumb, out.Thumbprint)

	t.Log("Re-enabling reuses it")
	out = readDPoP(t, ws, "dpop", "enable")
	assert.Equal(t, thumb, out.Thumbprint)
}

func TestDPoP_ShowTable(t *testing.T) {
	_, ws := withIdP(t, fakeidp.Config{}, nil)

	result := run(ws, "dpop", "show")
	result.AssertSuccess(t)
	result.AssertContains(t, "DPoP: disabled")
	result.AssertContains(t, "Key pair: none")

	run(ws, "dpop", "enable").AssertSuccess(t)
	result = run(ws, "dpop", "show")
	result.AssertSuccess(t)
	result.AssertContains(t, "DPoP: enabled")
	result.AssertContains(t, "Key thumbprint: ")
	result.AssertContains(t, `"kty":"EC"`)
}

func TestDPoP_Rotate(t *testing.T) {
	_, ws := withIdP(t, fakeidp.Config{}, nil)
	login(t, ws, "--dpop")
	before := readStatus(t, ws).Thumbprint

	t.Log("Rotating while logged in needs --force")
	result := run(ws, "dpop", "rotate")
	result.AssertError(t)
	assert.Contains(t, result.Err.Error(), "--force")

	out := readDPoP(t, ws, "dpop", "rotate", "--force")
	require.NotEmpty(t, out.Thumbprint)
	assert.NotEqual(t, before, out.Thumbprint)
	assert.Equal(t, out.Thumbprint, readStatus(t, ws).Thumbprint)
}
