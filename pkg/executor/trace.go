package executor

import (
	"net/http"
	"strings"
)

// Trace records one attempt of a call.
type Trace struct {
	ID       string         `json:"id"`
	Attempt  int            `json:"attempt"`
	Reason   string         `json:"reason"`
	Request  TraceRequest   `json:"request"`
	Response *TraceResponse `json:"response,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// TraceRequest is the request side of a trace. The access token is masked.
type TraceRequest struct {
	Method string      `json:"method"`
	URL    string      `json:"url"`
	HTU    string      `json:"htu,omitempty"`
	Header http.Header `json:"header"`
	Body   string      `json:"body,omitempty"`
}

// TraceResponse is the response side of a trace.
type TraceResponse struct {
	StatusCode int         `json:"status_code"`
	Status     string      `json:"status"`
	Header     http.Header `json:"header"`
	Body       string      `json:"body,omitempty"`
}

// OK reports a 2xx status.
func (r *TraceResponse) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// maskAuthorization keeps the scheme and the first characters of the token.
func maskAuthorization(v string) string {
	scheme, token, ok := strings.Cut(v, " ")
	if !ok {
		return "***"
	}
	if len(token) > 8 {
		token = token[:8]
	}
	return scheme + " " + token + "..."
}

func traceHeader(h http.Header) http.Header {
	out := h.Clone()
	if v := out.Get("Authorization"); v != "" {
		out.Set("Authorization", maskAuthorization(v))
	}
	return out
}
