package mockhttp

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/gobeyondidentity/authpkce/pkg/dpop"
)

// Handler handles a request and reports whether it did.
type Handler func(w http.ResponseWriter, r *http.Request) bool

// ServerBuilder builds mock HTTP servers.
type ServerBuilder struct {
	handlers    []Handler
	useTLS      bool
	defaultCode int
	capture     *Capture
}

// New returns a builder whose unmatched requests get 404.
func New() *ServerBuilder {
	return &ServerBuilder{defaultCode: http.StatusNotFound}
}

// TLS serves over HTTPS.
func (b *ServerBuilder) TLS() *ServerBuilder {
	b.useTLS = true
	return b
}

// DefaultStatus sets the status for unmatched requests.
func (b *ServerBuilder) DefaultStatus(code int) *ServerBuilder {
	b.defaultCode = code
	return b
}

// Handler adds a custom handler.
func (b *ServerBuilder) Handler(h Handler) *ServerBuilder {
	b.handlers = append(b.handlers, h)
	return b
}

// JSON answers path with 200 and response as JSON.
func (b *ServerBuilder) JSON(path string, response any) *ServerBuilder {
	return b.JSONWithStatus(path, http.StatusOK, response)
}

// JSONWithStatus answers path with code and response as JSON.
func (b *ServerBuilder) JSONWithStatus(path string, code int, response any) *ServerBuilder {
	return b.RouteFunc(path, RespondJSON(code, response))
}

// StatusWithBody answers path with code and a raw body.
func (b *ServerBuilder) StatusWithBody(path string, code int, body string) *ServerBuilder {
	return b.RouteFunc(path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
		w.Write([]byte(body))
	})
}

// TokenResponse answers a token endpoint with a successful payload.
func (b *ServerBuilder) TokenResponse(path string, payload any) *ServerBuilder {
	return b.Route(http.MethodPost, path, RespondJSON(http.StatusOK, payload))
}

// OAuthError answers path with an RFC 6749 error payload.
func (b *ServerBuilder) OAuthError(path string, code int, errCode, description string) *ServerBuilder {
	return b.RouteFunc(path, RespondOAuthError(code, errCode, description))
}

// Challenge answers path with a WWW-Authenticate challenge and optional JSON body.
func (b *ServerBuilder) Challenge(path string, code int, challenge, body string) *ServerBuilder {
	return b.RouteFunc(path, RespondChallenge(code, challenge, body))
}

// Sequence answers successive requests to path with successive responders.
// The last responder repeats.
func (b *ServerBuilder) Sequence(path string, responders ...http.HandlerFunc) *ServerBuilder {
	var mu sync.Mutex
	n := 0
	return b.RouteFunc(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		i := n
		if i >= len(responders) {
			i = len(responders) - 1
		}
		n++
		mu.Unlock()
		responders[i](w, r)
	})
}

// RequireHeaderPresent rejects requests missing header name with 400.
func (b *ServerBuilder) RequireHeaderPresent(name string) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get(name) == "" {
			w.WriteHeader(http.StatusBadRequest)
			return true
		}
		return false
	})
}

// Capture records every request and returns the capture.
func (b *ServerBuilder) Capture() *Capture {
	if b.capture == nil {
		b.CaptureInto(&Capture{})
	}
	return b.capture
}

// CaptureInto records every request into c before any handler runs.
func (b *ServerBuilder) CaptureInto(c *Capture) *ServerBuilder {
	b.capture = c
	return b
}

// Route adds a handler for method and path.
func (b *ServerBuilder) Route(method, path string, handler http.HandlerFunc) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method != method || !matchPath(r.URL.Path, path) {
			return false
		}
		handler(w, r)
		return true
	})
}

// RouteFunc adds a handler for path with any method.
func (b *ServerBuilder) RouteFunc(path string, handler http.HandlerFunc) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if !matchPath(r.URL.Path, path) {
			return false
		}
		handler(w, r)
		return true
	})
}

// Build starts the server. Use the returned client for TLS servers.
func (b *ServerBuilder) Build() (*httptest.Server, *http.Client) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.capture != nil {
			b.capture.record(r)
		}
		for _, h := range b.handlers {
			if h(w, r) {
				return
			}
		}
		w.WriteHeader(b.defaultCode)
	})

	var server *httptest.Server
	if b.useTLS {
		server = httptest.NewTLSServer(handler)
	} else {
		server = httptest.NewServer(handler)
	}
	return server, server.Client()
}

// RespondJSON writes v as JSON with code.
func RespondJSON(code int, v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(v)
	}
}

// RespondOAuthError writes an error/error_description payload.
func RespondOAuthError(code int, errCode, description string) http.HandlerFunc {
	body := map[string]string{"error": errCode}
	if description != "" {
		body["error_description"] = description
	}
	return RespondJSON(code, body)
}

// RespondChallenge writes a WWW-Authenticate challenge with an optional body.
func RespondChallenge(code int, challenge, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if challenge != "" {
			w.Header().Set("WWW-Authenticate", challenge)
		}
		if body != "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(code)
		w.Write([]byte(body))
	}
}

// RespondNonce asks for a DPoP nonce the way RFC 9449 servers do.
func RespondNonce(code int, nonce string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(dpop.HeaderNonce, nonce)
		w.Header().Set("WWW-Authenticate", `DPoP error="use_dpop_nonce", error_description="nonce required"`)
		RespondOAuthError(code, dpop.CodeUseNonce, "nonce required")(w, r)
	}
}

func matchPath(requestPath, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(requestPath, prefix)
	}
	return requestPath == pattern
}

// Capture stores requests for assertions.
type Capture struct {
	mu       sync.Mutex
	requests []CapturedRequest
}

// CapturedRequest is one recorded request.
type CapturedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
	Query   url.Values

	// Form is set for form-encoded bodies.
	Form url.Values

	// Proof holds the decoded DPoP claims when a proof was sent.
	Proof *dpop.Claims
}

func (c *Capture) record(r *http.Request) {
	body := readAndRestore(r)

	cr := CapturedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: r.Header.Clone(),
		Body:    body,
		Query:   r.URL.Query(),
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		cr.Form, _ = url.ParseQuery(string(body))
	}
	if p := r.Header.Get(dpop.HeaderDPoP); p != "" {
		if _, claims, _, err := dpop.ParseProof(p); err == nil {
			cr.Proof = claims
		}
	}

	c.mu.Lock()
	c.requests = append(c.requests, cr)
	c.mu.Unlock()
}

// Count returns the number of captured requests.
func (c *Capture) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Last returns the most recent request, or nil.
func (c *Capture) Last() *CapturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return nil
	}
	r := c.requests[len(c.requests)-1]
	return &r
}

// All returns every captured request.
func (c *Capture) All() []CapturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CapturedRequest(nil), c.requests...)
}

// Get returns request i, or nil when out of range.
func (c *Capture) Get(i int) *CapturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.requests) {
		return nil
	}
	r := c.requests[i]
	return &r
}

// Clear forgets captured requests.
func (c *Capture) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = nil
}

// BodyJSON decodes the body into v.
func (r *CapturedRequest) BodyJSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// AuthScheme returns the Authorization scheme, such as "Bearer" or "DPoP".
func (r *CapturedRequest) AuthScheme() string {
	scheme, _, _ := strings.Cut(r.Headers.Get("Authorization"), " ")
	return scheme
}

func readAndRestore(r *http.Request) []byte {
	if r.Body == nil {
		return nil
	}
	body, _ := io.ReadAll(r.Body)
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body
}
