package dpopserver

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gobeyondidentity/authpkce/pkg/dpop"
)

func mustKeyPair(t *testing.T) *dpop.KeyPair {
	t.Helper()
	kp, err := dpop.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func encodeClaims(t *testing.T, c *dpop.Claims) string {
	t.Helper()
	b, err := json.Marshal(c)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(b)
}
