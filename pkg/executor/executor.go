package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/gobeyondidentity/authpkce/pkg/dpop"
)

// maxResponseBody bounds how much of a response body is read.
const maxResponseBody = 4 << 20

// Mode is the client's configured authentication scheme.
type Mode int

const (
	ModeBearer Mode = iota
	ModeDPoP
)

func (m Mode) String() string {
	if m == ModeDPoP {
		return "dpop"
	}
	return "bearer"
}

func (m Mode) scheme() string {
	if m == ModeDPoP {
		return dpop.SchemeDPoP
	}
	return dpop.SchemeBearer
}

// Request is a call to a protected resource.
type Request struct {
	Method      string
	URL         string
	Body        []byte
	ContentType string
	Header      http.Header
}

// Credentials are what the call is authenticated with.
type Credentials struct {
	AccessToken string
	Mode        Mode
}

// Result is the outcome of Execute. Err is nil exactly when OK is true.
type Result struct {
	OK       bool
	Response *TraceResponse
	Decision Decision
	Traces   []Trace
	Err      error
}

// JSON decodes the final response body into v.
func (r *Result) JSON(v any) error {
	if r.Response == nil {
		return errors.New("no response")
	}
	return json.Unmarshal([]byte(r.Response.Body), v)
}

// Executor runs calls. It is safe for concurrent use.
type Executor struct {
	client *http.Client
	proofs dpop.ProofGenerator
	origin string
	logger *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) {
		e.client = c
	}
}

// WithProofGenerator sets the DPoP proof source. Without one, any DPoP
// attempt fails with ErrKeyMissing.
func WithProofGenerator(g dpop.ProofGenerator) Option {
	return func(e *Executor) {
		e.proofs = g
	}
}

// WithOrigin sets the origin relative htu candidates resolve against.
// By default the request URL's scheme and host are used.
func WithOrigin(origin string) Option {
	return func(e *Executor) {
		e.origin = strings.TrimSuffix(origin, "/")
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// New returns an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		client: http.DefaultClient,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// attempt is one send with a particular header shape.
type attempt struct {
	scheme string
	proof  bool
	htu    string
	nonce  string
	reason string
}

// Execute performs req, renegotiating on failure. It never panics on network
// errors; they end the call with a TransportError and an error trace.
func (e *Executor) Execute(ctx context.Context, req Request, cred Credentials) *Result {
	res := &Result{}
	if cred.AccessToken == "" {
		res.Err = ErrNoAccessToken
		return res
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	first, err := e.send(ctx, res, req, cred, attempt{
		scheme: cred.Mode.scheme(),
		proof:  cred.Mode == ModeDPoP,
		reason: "initial " + cred.Mode.String(),
	})
	if err != nil {
		res.Err = err
		return res
	}
	if first.OK() {
		return res.succeed(first)
	}

	cls := Classify(Failure{
		StatusCode: first.StatusCode,
		Header:     first.Header,
		Body:       []byte(first.Body),
		Sent:       cred.Mode,
	})
	res.Decision = cls.Decision
	e.logger.Info("request rejected",
		"url", req.URL,
		"status", first.StatusCode,
		"sent", cred.Mode.String(),
		"decision", cls.Decision.String(),
	)

	switch cls.Decision {
	case DecisionHTUMismatch:
		last := first
		for _, htu := range e.resolveCandidates(req.URL, cls.Candidates) {
			r, err := e.send(ctx, res, req, cred, attempt{
				scheme: dpop.SchemeDPoP,
				proof:  true,
				htu:    htu,
				reason: "htu candidate " + htu,
			})
			if err != nil {
				res.Err = err
				return res
			}
			if r.OK() {
				return res.succeed(r)
			}
			last = r
		}
		return res.fail(last, nil, nil)

	case DecisionUseNonce:
		return e.retryOnce(ctx, res, req, cred, attempt{
			scheme: dpop.SchemeDPoP,
			proof:  true,
			nonce:  cls.Nonce,
			reason: "server nonce",
		})

	case DecisionDPoPRequired:
		return res.fail(first, cls.Auth, ErrDPoPRequired)

	case DecisionBearerFallback:
		return e.retryOnce(ctx, res, req, cred, attempt{
			scheme: dpop.SchemeBearer,
			proof:  true,
			reason: "bearer prefix with proof",
		})
	}

	return res.fail(first, cls.Auth, nil)
}

func (e *Executor) retryOnce(ctx context.Context, res *Result, req Request, cred Credentials, a attempt) *Result {
	r, err := e.send(ctx, res, req, cred, a)
	if err != nil {
		res.Err = err
		return res
	}
	if r.OK() {
		return res.succeed(r)
	}
	return res.fail(r, dpop.ParseAuthError(r.StatusCode, r.Header, []byte(r.Body)), nil)
}

// send performs one attempt and appends its trace. A returned error is final.
func (e *Executor) send(ctx context.Context, res *Result, req Request, cred Credentials, a attempt) (*TraceResponse, error) {
	tr := Trace{
		ID:      uuid.NewString(),
		Attempt: len(res.Traces) + 1,
		Reason:  a.reason,
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		tr.Error = err.Error()
		res.Traces = append(res.Traces, tr)
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	httpReq.Header.Set("Authorization", a.scheme+" "+cred.AccessToken)

	if a.proof {
		if e.proofs == nil {
			tr.Error = ErrKeyMissing.Error()
			res.Traces = append(res.Traces, tr)
			return nil, ErrKeyMissing
		}
		htu := a.htu
		if htu == "" {
			htu = req.URL
		}
		proof, err := e.proofs.Generate(dpop.ProofParams{
			Method:      req.Method,
			URL:         htu,
			AccessToken: cred.AccessToken,
			Nonce:       a.nonce,
		})
		if err != nil {
			tr.Error = err.Error()
			res.Traces = append(res.Traces, tr)
			if errors.Is(err, dpop.ErrKeyNotFound) {
				return nil, ErrKeyMissing
			}
			return nil, fmt.Errorf("generate dpop proof: %w", err)
		}
		httpReq.Header.Set(dpop.HeaderDPoP, proof)
		tr.Request.HTU = htu
	}

	tr.Request.Method = req.Method
	tr.Request.URL = req.URL
	tr.Request.Header = traceHeader(httpReq.Header)
	tr.Request.Body = string(req.Body)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		tr.Error = err.Error()
		res.Traces = append(res.Traces, tr)
		e.logger.Warn("request failed", "url", req.URL, "error", err)
		return nil, &TransportError{Method: req.Method, URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		tr.Error = err.Error()
		res.Traces = append(res.Traces, tr)
		return nil, &TransportError{Method: req.Method, URL: req.URL, Err: err}
	}

	tr.Response = &TraceResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
		Body:       string(body),
	}
	res.Traces = append(res.Traces, tr)
	e.logger.Debug("attempt complete", "attempt", tr.Attempt, "reason", a.reason, "status", resp.StatusCode)
	return tr.Response, nil
}

// resolveCandidates makes each htu absolute. Values starting with '/' or
// otherwise relative are joined to the origin; absolute URLs are kept.
func (e *Executor) resolveCandidates(requestURL string, cands []string) []string {
	origin := e.origin
	if origin == "" {
		if u, err := url.Parse(requestURL); err == nil {
			origin = u.Scheme + "://" + u.Host
		}
	}

	out := make([]string, 0, len(cands))
	for _, c := range cands {
		switch {
		case strings.HasPrefix(c, "/"):
			out = append(out, origin+c)
		case isAbsoluteURL(c):
			out = append(out, c)
		default:
			out = append(out, origin+"/"+c)
		}
	}
	return out
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func (r *Result) succeed(resp *TraceResponse) *Result {
	r.OK = true
	r.Response = resp
	r.Err = nil
	return r
}

func (r *Result) fail(resp *TraceResponse, auth *dpop.AuthError, cause error) *Result {
	r.Response = resp
	r.Err = &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       []byte(resp.Body),
		Auth:       auth,
		Err:        cause,
	}
	return r
}
