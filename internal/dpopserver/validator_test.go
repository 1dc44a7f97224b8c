package dpopserver

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeyondidentity/authpkce/pkg/dpop"
)

const testURL = "https://api.example.com/v1/userinfo"

func newTestValidator(now time.Time) *Validator {
	cfg := DefaultValidatorConfig()
	cfg.Now = func() time.Time { return now }
	return NewValidator(cfg)
}

func proofCode(t *testing.T, err error) string {
	t.Helper()
	var pe *ProofError
	require.True(t, errors.As(err, &pe), "expected *ProofError, got %v", err)
	return pe.Code
}

func TestValidatorAcceptsValidProof(t *testing.T) {
	t.Parallel()
	t.Log("Testing a well formed proof validates and yields the key thumbprint")

	kp := mustKeyPair(t)
	now := time.Now()
	proof, err := dpop.NewSigner(kp, dpop.WithClock(func() time.Time { return now })).Generate(dpop.ProofParams{
		Method:      "GET",
		URL:         testURL + "?q=1",
		AccessToken: "tok",
		Nonce:       "n1",
	})
	require.NoError(t, err)

	res, err := newTestValidator(now).ValidateProof(proof, Expect{
		Method:      "GET",
		URIs:        []string{testURL},
		AccessToken: "tok",
		Nonce:       "n1",
	})
	require.NoError(t, err)

	want, _ := kp.Thumbprint()
	assert.Equal(t, want, res.Thumbprint)
	assert.Equal(t, "GET", res.Claims.HTM)
}

func TestValidatorRejections(t *testing.T) {
	t.Parallel()

	kp := mustKeyPair(t)
	now := time.Now()
	sign := func(p dpop.ProofParams, at time.Time) string {
		proof, err := dpop.NewSigner(kp, dpop.WithClock(func() time.Time { return at })).Generate(p)
		require.NoError(t, err)
		return proof
	}
	base := dpop.ProofParams{Method: "GET", URL: testURL, AccessToken: "tok"}
	good := sign(base, now)

	tests := []struct {
		name     string
		proof    string
		want     Expect
		code     string
		claim    string
		contains string
	}{
		{
			name:  "empty",
			proof: "",
			want:  Expect{Method: "GET", URIs: []string{testURL}},
			code:  dpop.CodeInvalidProof,
		},
		{
			name:  "two parts",
			proof: "a.b",
			want:  Expect{Method: "GET", URIs: []string{testURL}},
			code:  dpop.CodeInvalidProof,
		},
		{
			name:  "oversized",
			proof: strings.Repeat("a", 5000) + "." + strings.Repeat("b", 5000) + ".c",
			want:  Expect{Method: "GET", URIs: []string{testURL}},
			code:  dpop.CodeInvalidProof,
		},
		{
			name:  "wrong method",
			proof: good,
			want:  Expect{Method: "POST", URIs: []string{testURL}, AccessToken: "tok"},
			code:  dpop.CodeInvalidProof,
			claim: "htm",
		},
		{
			name:  "wrong htu",
			proof: good,
			want:  Expect{Method: "GET", URIs: []string{"https://api.example.com/v1/foo"}, AccessToken: "tok"},
			code:  dpop.CodeInvalidProof,
			claim: "htu",
		},
		{
			name:     "wrong access token",
			proof:    good,
			want:     Expect{Method: "GET", URIs: []string{testURL}, AccessToken: "other"},
			code:     dpop.CodeInvalidProof,
			contains: "ath",
		},
		{
			name:     "stale iat",
			proof:    sign(base, now.Add(-5*time.Minute)),
			want:     Expect{Method: "GET", URIs: []string{testURL}, AccessToken: "tok"},
			code:     dpop.CodeInvalidProof,
			contains: "iat",
		},
		{
			name:     "future iat",
			proof:    sign(base, now.Add(5*time.Minute)),
			want:     Expect{Method: "GET", URIs: []string{testURL}, AccessToken: "tok"},
			code:     dpop.CodeInvalidProof,
			contains: "iat",
		},
		{
			name:  "missing nonce",
			proof: good,
			want:  Expect{Method: "GET", URIs: []string{testURL}, AccessToken: "tok", Nonce: "server-nonce"},
			code:  dpop.CodeUseNonce,
		},
	}

	v := newTestValidator(now)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ValidateProof(tt.proof, tt.want)
			require.Error(t, err)
			assert.Equal(t, tt.code, proofCode(t, err))

			var pe *ProofError
			errors.As(err, &pe)
			if tt.claim != "" {
				assert.Equal(t, tt.claim, pe.Claim)
			}
			if tt.contains != "" {
				assert.Contains(t, pe.Detail, tt.contains)
			}
		})
	}
}

func TestValidatorRejectsForgedSignature(t *testing.T) {
	t.Parallel()

	kp := mustKeyPair(t)
	proof, err := dpop.GenerateProof(kp, dpop.ProofParams{Method: "GET", URL: testURL})
	require.NoError(t, err)

	parts := strings.Split(proof, ".")
	_, claims, _, _ := dpop.ParseProof(proof)
	claims.HTM = "POST"
	forged := parts[0] + "." + encodeClaims(t, claims) + "." + parts[2]

	_, err = NewValidator(DefaultValidatorConfig()).ValidateProof(forged, Expect{Method: "POST", URIs: []string{testURL}})
	require.Error(t, err)
	assert.Equal(t, dpop.CodeInvalidProof, proofCode(t, err))
}

func TestValidatorAcceptsAnyListedURI(t *testing.T) {
	t.Parallel()
	t.Log("Testing htu may match any entry of an allow-list")

	kp := mustKeyPair(t)
	proof, err := dpop.GenerateProof(kp, dpop.ProofParams{Method: "GET", URL: "https://api.example.com/v1/bar"})
	require.NoError(t, err)

	_, err = NewValidator(DefaultValidatorConfig()).ValidateProof(proof, Expect{
		Method: "GET",
		URIs:   []string{"https://api.example.com/v1/foo", "https://API.example.com:443/v1/bar"},
	})
	assert.NoError(t, err)
}
