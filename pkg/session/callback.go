package session

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
)

var (
	tmplCallbackError = template.Must(template.New("").Parse(`<!doctype html>
<title>Login failed</title>
<h1>Login failed</h1>
<hr>
<p>{{.}}</p>
`))

	tmplCallbackDone = template.Must(template.New("").Parse(`<!doctype html>
<title>Login</title>
<h1>Authorization received</h1>
<hr>
<p>Return to the terminal to continue.</p>
`))
)

// ErrCallbackClosed is returned by Wait after Close.
var ErrCallbackClosed = errors.New("callback server closed")

// CallbackServer is a loopback listener for the authorization redirect. It
// accepts exactly one redirect carrying a code or an error.
type CallbackServer struct {
	redirect *url.URL
	srv      *http.Server
	ln       net.Listener
	logger   *slog.Logger

	results chan url.Values
	closed  chan struct{}
	calls   atomic.Int32
}

// NewCallbackServer returns a server for redirectURI. It does not listen
// until Start. A nil logger discards output.
func NewCallbackServer(redirectURI string, logger *slog.Logger) (*CallbackServer, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("parse redirect uri: %w", err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("redirect uri must use http, got %q", u.Scheme)
	}
	if u.Port() == "" {
		return nil, fmt.Errorf("redirect uri must include a port: %s", redirectURI)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &CallbackServer{
		redirect: u,
		logger:   logger,
		results:  make(chan url.Values, 1),
		closed:   make(chan struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc(u.Path, s.handleCallback).Methods(http.MethodGet)
	s.srv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start binds the listener and serves in the background.
func (s *CallbackServer) Start() error {
	ln, err := net.Listen("tcp", s.redirect.Host)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.redirect.Host, err)
	}
	s.ln = ln

	// Port 0 picks a free port; report the real one.
	if s.redirect.Port() == "0" {
		s.redirect.Host = net.JoinHostPort(s.redirect.Hostname(), fmt.Sprint(ln.Addr().(*net.TCPAddr).Port))
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("callback server stopped", "error", err)
		}
	}()
	s.logger.Debug("callback server listening", "redirect_uri", s.redirect.String())
	return nil
}

// RedirectURI is the URI the authorization server should redirect to.
func (s *CallbackServer) RedirectURI() string {
	return s.redirect.String()
}

// Wait blocks until the redirect arrives, ctx is done, or the server closes.
func (s *CallbackServer) Wait(ctx context.Context) (url.Values, error) {
	select {
	case v := <-s.results:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, ErrCallbackClosed
	}
}

// Close shuts the server down.
func (s *CallbackServer) Close(ctx context.Context) error {
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closed)
	}
	return s.srv.Shutdown(ctx)
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("code") == "" && q.Get("error") == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = tmplCallbackError.Execute(w, "no authorization code in request")
		return
	}

	if s.calls.Add(1) > 1 {
		s.logger.Warn("callback invoked more than once")
		w.WriteHeader(http.StatusBadRequest)
		_ = tmplCallbackError.Execute(w, "callback invoked multiple times")
		return
	}

	if e := q.Get("error"); e != "" {
		msg := e
		if d := q.Get("error_description"); d != "" {
			msg += ": " + d
		}
		w.WriteHeader(http.StatusBadRequest)
		_ = tmplCallbackError.Execute(w, msg)
	} else {
		w.WriteHeader(http.StatusOK)
		_ = tmplCallbackDone.Execute(w, nil)
	}

	s.results <- q
}
