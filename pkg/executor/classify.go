package executor

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/gobeyondidentity/authpkce/pkg/dpop"
)

// Decision is the executor's reaction to a failed attempt.
type Decision int

const (
	DecisionFail Decision = iota
	DecisionHTUMismatch
	DecisionUseNonce
	DecisionDPoPRequired
	DecisionBearerFallback
)

func (d Decision) String() string {
	switch d {
	case DecisionHTUMismatch:
		return "htu_mismatch"
	case DecisionUseNonce:
		return "use_dpop_nonce"
	case DecisionDPoPRequired:
		return "dpop_required"
	case DecisionBearerFallback:
		return "bearer_fallback"
	default:
		return "fail"
	}
}

var (
	htuMismatchPattern = regexp.MustCompile("incorrect `htu` claim.*should match \\[\\[(.*?)\\]\\]")
	dpopPattern        = regexp.MustCompile(`(?i)dpop`)
	bearerPattern      = regexp.MustCompile(`(?i)bearer`)
)

// Failure is a non-2xx response together with what was sent.
type Failure struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Sent       Mode
}

// Classification is the result of Classify.
type Classification struct {
	Decision Decision

	// Candidates are the raw htu values from the error message.
	Candidates []string

	// Nonce is the server nonce for DecisionUseNonce.
	Nonce string

	Challenges []dpop.Challenge
	Auth       *dpop.AuthError
}

// Classify decides how to react to f. Branches are checked in order:
// htu mismatch, nonce request, DPoP required, Bearer fallback.
func Classify(f Failure) Classification {
	raw := f.Header.Values("WWW-Authenticate")
	c := Classification{
		Decision:   DecisionFail,
		Challenges: dpop.ParseChallenges(raw...),
		Auth:       dpop.ParseAuthError(f.StatusCode, f.Header, f.Body),
	}

	if cands := htuCandidates(f.Body); len(cands) > 0 {
		c.Decision = DecisionHTUMismatch
		c.Candidates = cands
		return c
	}

	if f.Sent == ModeDPoP && c.Auth != nil && c.Auth.NeedsNonce() {
		c.Decision = DecisionUseNonce
		c.Nonce = c.Auth.Nonce
		return c
	}

	wantsDPoP, wantsBearer := wantedSchemes(c.Challenges, strings.Join(raw, ", "))
	switch {
	case wantsDPoP && f.Sent == ModeBearer:
		c.Decision = DecisionDPoPRequired
	case wantsBearer && f.Sent == ModeDPoP:
		c.Decision = DecisionBearerFallback
	}
	return c
}

// wantedSchemes reports which schemes the challenges ask for. A scheme
// counts when a challenge names it or when it appears anywhere in the raw
// header, including parameter values such as error_description.
func wantedSchemes(chs []dpop.Challenge, raw string) (wantsDPoP, wantsBearer bool) {
	_, wantsDPoP = dpop.FindChallenge(chs, dpop.SchemeDPoP)
	_, wantsBearer = dpop.FindChallenge(chs, dpop.SchemeBearer)
	return wantsDPoP || dpopPattern.MatchString(raw), wantsBearer || bearerPattern.MatchString(raw)
}

// htuCandidates extracts the allowed htu list from a JSON error message.
func htuCandidates(body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	var payload struct {
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return nil
	}
	for _, msg := range []string{payload.Message, payload.ErrorDescription} {
		if m := htuMismatchPattern.FindStringSubmatch(msg); m != nil {
			return strings.Fields(m[1])
		}
	}
	return nil
}
