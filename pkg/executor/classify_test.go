package executor

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func header(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

func TestClassify(t *testing.T) {
	t.Parallel()

	htuBody := []byte("{\"message\":\"incorrect `htu` claim. It should match [[/v1/foo /v1/bar]]\"}")

	tests := []struct {
		name  string
		f     Failure
		want  Decision
		cands []string
		nonce string
	}{
		{
			name:  "htu mismatch from message",
			f:     Failure{StatusCode: 400, Header: header(), Body: htuBody, Sent: ModeDPoP},
			want:  DecisionHTUMismatch,
			cands: []string{"/v1/foo", "/v1/bar"},
		},
		{
			name:  "htu mismatch wins over DPoP challenge",
			f:     Failure{StatusCode: 400, Header: header("WWW-Authenticate", "DPoP"), Body: htuBody, Sent: ModeBearer},
			want:  DecisionHTUMismatch,
			cands: []string{"/v1/foo", "/v1/bar"},
		},
		{
			name: "htu mismatch from error_description",
			f: Failure{
				StatusCode: 401,
				Header:     header(),
				Body:       []byte("{\"error\":\"invalid_dpop_proof\",\"error_description\":\"incorrect `htu` claim, should match [[https://api.example.com/x]]\"}"),
				Sent:       ModeDPoP,
			},
			want:  DecisionHTUMismatch,
			cands: []string{"https://api.example.com/x"},
		},
		{
			name: "empty htu list is not a mismatch",
			f:    Failure{StatusCode: 400, Header: header(), Body: []byte("{\"message\":\"incorrect `htu` claim. It should match [[]]\"}"), Sent: ModeDPoP},
			want: DecisionFail,
		},
		{
			name: "nonce requested",
			f: Failure{
				StatusCode: 401,
				Header:     header("WWW-Authenticate", `DPoP error="use_dpop_nonce"`, "DPoP-Nonce", "n-1"),
				Sent:       ModeDPoP,
			},
			want:  DecisionUseNonce,
			nonce: "n-1",
		},
		{
			name: "nonce without value falls through",
			f: Failure{
				StatusCode: 401,
				Header:     header("WWW-Authenticate", `DPoP error="use_dpop_nonce"`),
				Sent:       ModeDPoP,
			},
			want: DecisionFail,
		},
		{
			name: "DPoP required for bearer client",
			f:    Failure{StatusCode: 401, Header: header("WWW-Authenticate", "DPoP proof"), Sent: ModeBearer},
			want: DecisionDPoPRequired,
		},
		{
			name: "DPoP challenge to DPoP client is a plain failure",
			f:    Failure{StatusCode: 401, Header: header("WWW-Authenticate", `DPoP error="invalid_token"`), Sent: ModeDPoP},
			want: DecisionFail,
		},
		{
			name: "bearer challenge to DPoP client",
			f:    Failure{StatusCode: 401, Header: header("WWW-Authenticate", `Bearer realm="api"`), Sent: ModeDPoP},
			want: DecisionBearerFallback,
		},
		{
			name: "bearer challenge to bearer client",
			f:    Failure{StatusCode: 401, Header: header("WWW-Authenticate", `Bearer error="invalid_token"`), Sent: ModeBearer},
			want: DecisionFail,
		},
		{
			name: "unparseable header matched by substring",
			f:    Failure{StatusCode: 401, Header: header("WWW-Authenticate", `="x", requires-dpop`), Sent: ModeBearer},
			want: DecisionDPoPRequired,
		},
		{
			name: "bearer challenge describing a DPoP requirement",
			f: Failure{
				StatusCode: 401,
				Header:     header("WWW-Authenticate", `Bearer realm="api", error="invalid_token", error_description="DPoP proof required"`),
				Sent:       ModeBearer,
			},
			want: DecisionDPoPRequired,
		},
		{
			name: "DPoP challenge describing a bearer requirement",
			f: Failure{
				StatusCode: 401,
				Header:     header("WWW-Authenticate", `DPoP error="invalid_token", error_description="expected Bearer token"`),
				Sent:       ModeDPoP,
			},
			want: DecisionBearerFallback,
		},
		{
			name: "plain server error",
			f:    Failure{StatusCode: 500, Header: header(), Body: []byte("boom"), Sent: ModeBearer},
			want: DecisionFail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			t.Logf("Classifying %d sent=%s", tt.f.StatusCode, tt.f.Sent)

			c := Classify(tt.f)
			assert.Equal(t, tt.want, c.Decision, "got %s", c.Decision)
			if tt.cands != nil {
				assert.Equal(t, tt.cands, c.Candidates)
			}
			assert.Equal(t, tt.nonce, c.Nonce)
		})
	}
}

func TestDecisionString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "fail", DecisionFail.String())
	assert.Equal(t, "htu_mismatch", DecisionHTUMismatch.String())
	assert.Equal(t, "use_dpop_nonce", DecisionUseNonce.String())
	assert.Equal(t, "dpop_required", DecisionDPoPRequired.String())
	assert.Equal(t, "bearer_fallback", DecisionBearerFallback.String())
}
