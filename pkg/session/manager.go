package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/gobeyondidentity/authpkce/pkg/dpop"
	"github.com/gobeyondidentity/authpkce/pkg/executor"
	"github.com/gobeyondidentity/authpkce/pkg/pkce"
	"github.com/gobeyondidentity/authpkce/pkg/scheduler"
	"github.com/gobeyondidentity/authpkce/pkg/storage"
	"github.com/gobeyondidentity/authpkce/pkg/tokens"
)

// Manager owns one client session. It is safe for concurrent use.
type Manager struct {
	cfg     Config
	oauth   *oauth2.Config
	persist storage.Store
	tokens  *tokens.Store
	state   *pkce.StateGuard
	keys    *dpop.KeyManager
	sched   *scheduler.Scheduler

	client  *http.Client
	opener  Opener
	logger  *slog.Logger
	now     func() time.Time
	display func(scheduler.Countdown)
	ephem   storage.Store

	refreshes singleflight.Group

	mu      sync.Mutex
	useDPoP bool
	gen     uint64
	runCtx  context.Context
	closed  bool

	// Token endpoint transport, kept while the key pair is unchanged so a
	// server nonce carries over between calls.
	transport    *dpop.Transport
	transportKey *dpop.KeyPair
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client for token and resource calls.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		m.client = c
	}
}

// WithOpener sets how authorization and logout URLs are shown to the user.
func WithOpener(o Opener) Option {
	return func(m *Manager) {
		m.opener = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithSessionStore sets the store for per-flow values such as the CSRF
// state. It defaults to a process-scoped memory store.
func WithSessionStore(s storage.Store) Option {
	return func(m *Manager) {
		m.ephem = s
	}
}

// WithDisplay receives the countdown on every scheduler tick.
func WithDisplay(fn func(scheduler.Countdown)) Option {
	return func(m *Manager) {
		m.display = fn
	}
}

// New returns a Manager persisting to persist. Call Init before use.
func New(cfg Config, persist storage.Store, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	m := &Manager{
		cfg:     cfg,
		oauth:   cfg.oauth2(),
		persist: persist,
		client:  http.DefaultClient,
		opener:  DetectOpener(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
		display: func(scheduler.Countdown) {},
		runCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ephem == nil {
		m.ephem = storage.NewMemory()
	}

	m.tokens = tokens.NewStore(persist)
	m.state = pkce.NewStateGuard(m.ephem)
	m.keys = dpop.NewKeyManager(persist, m.logger)
	m.sched = scheduler.New(
		m.expiry,
		func(ctx context.Context) error {
			_, err := m.Refresh(ctx)
			return err
		},
		scheduler.WithInterval(cfg.interval()),
		scheduler.WithThreshold(cfg.threshold()),
		scheduler.WithClock(m.now),
		scheduler.WithDisplay(m.display),
		scheduler.WithLogger(m.logger),
		scheduler.WithAutoRefresh(cfg.AutoRefresh),
	)
	return m, nil
}

// Init restores persisted state: the DPoP flag and key pair, then the token
// set. The scheduler starts when a session is restored and runs until Close
// or until ctx is done.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	flag, err := storage.GetString(m.persist, storage.KeyDPoPEnabled)
	if err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("read DPoP flag: %w", err)
	}
	enabled := flag == "true"
	m.mu.Lock()
	m.useDPoP = enabled
	m.mu.Unlock()

	if enabled {
		if _, err := m.keys.EnsureInitialized(); err != nil {
			m.logger.Error("failed to initialize DPoP key pair", "error", err)
		}
	}

	ts, err := m.tokens.Load()
	if err != nil {
		m.logger.Warn("ignoring unreadable stored tokens", "error", err)
	}
	if ts != nil {
		m.startScheduler()
	}
	return nil
}

// Close stops the scheduler for good. A refresh still in flight will not
// restart it.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.sched.Stop()
}

// SetDPoP persists the DPoP preference. Enabling ensures a key pair exists;
// disabling leaves the keys in place.
func (m *Manager) SetDPoP(enabled bool) error {
	if enabled {
		if _, err := m.keys.EnsureInitialized(); err != nil {
			m.logger.Error("failed to initialize DPoP key pair", "error", err)
			return fmt.Errorf("%w: %v", ErrKeyMaterial, err)
		}
	}
	if err := m.persist.Set(storage.KeyDPoPEnabled, []byte(fmt.Sprint(enabled))); err != nil {
		return fmt.Errorf("save DPoP flag: %w", err)
	}
	m.mu.Lock()
	m.useDPoP = enabled
	m.mu.Unlock()
	m.logger.Info("DPoP preference changed", "enabled", enabled)
	return nil
}

// DPoPEnabled reports the DPoP preference.
func (m *Manager) DPoPEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.useDPoP
}

// SetAutoRefresh toggles scheduler driven refresh.
func (m *Manager) SetAutoRefresh(on bool) {
	m.sched.SetAutoRefresh(on)
}

// Scheduler exposes the expiry scheduler, mainly for tests and the watch command.
func (m *Manager) Scheduler() *scheduler.Scheduler {
	return m.sched
}

// Tokens returns a copy of the current token set, or nil.
func (m *Manager) Tokens() *tokens.TokenSet {
	return m.tokens.Current()
}

// Keys returns the DPoP key manager.
func (m *Manager) Keys() *dpop.KeyManager {
	return m.keys
}

// Config returns the session configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) expiry() (time.Time, bool) {
	return tokens.ExpiryOf(m.tokens.Current())
}

func (m *Manager) startScheduler() {
	m.mu.Lock()
	ctx, closed := m.runCtx, m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	m.sched.Start(ctx)
}

func (m *Manager) generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// endSession invalidates in-flight token responses, clears tokens and stops
// the scheduler.
func (m *Manager) endSession() error {
	m.mu.Lock()
	m.gen++
	m.mu.Unlock()

	m.sched.Stop()
	if err := m.tokens.Clear(); err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	return nil
}

// saveIfCurrent stores ts unless the session changed since gen was taken.
func (m *Manager) saveIfCurrent(gen uint64, ts *tokens.TokenSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return ErrSuperseded
	}
	if err := m.tokens.Save(ts); err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	return nil
}

// proofs returns a signer over the current key pair, creating one if needed.
func (m *Manager) proofs() (*dpop.Signer, error) {
	kp, err := m.keys.EnsureInitialized()
	if err != nil {
		m.logger.Error("DPoP key pair unavailable", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrKeyMaterial, err)
	}
	return dpop.NewSigner(kp, dpop.WithClock(m.now)), nil
}

// tokenContext returns ctx carrying the HTTP client oauth2 should use for
// token endpoint calls. With DPoP enabled every call is proofed.
func (m *Manager) tokenContext(ctx context.Context) (context.Context, error) {
	if !m.DPoPEnabled() {
		return context.WithValue(ctx, oauth2.HTTPClient, m.client), nil
	}
	t, err := m.tokenTransport()
	if err != nil {
		return nil, err
	}
	client := &http.Client{Transport: t, Timeout: m.client.Timeout}
	return context.WithValue(ctx, oauth2.HTTPClient, client), nil
}

func (m *Manager) tokenTransport() (*dpop.Transport, error) {
	signer, err := m.proofs()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transport == nil || m.transportKey != signer.KeyPair() {
		m.transport = dpop.NewTransport(m.client.Transport, signer, m.logger)
		m.transportKey = signer.KeyPair()
	}
	return m.transport, nil
}

// storedKey returns the cached key pair, else the persisted one. It never
// generates a key.
func (m *Manager) storedKey() *dpop.KeyPair {
	if kp := m.keys.Current(); kp != nil {
		return kp
	}
	kp, _ := m.keys.Restore()
	return kp
}

// executor builds a request executor for the current mode.
func (m *Manager) executor() (*executor.Executor, executor.Mode, error) {
	opts := []executor.Option{
		executor.WithHTTPClient(m.client),
		executor.WithLogger(m.logger),
	}
	if !m.DPoPEnabled() {
		// A stored key still serves htu retries, which always use DPoP.
		if kp := m.storedKey(); kp != nil {
			opts = append(opts, executor.WithProofGenerator(dpop.NewSigner(kp, dpop.WithClock(m.now))))
		}
		return executor.New(opts...), executor.ModeBearer, nil
	}
	signer, err := m.proofs()
	if err != nil {
		return nil, executor.ModeDPoP, err
	}
	opts = append(opts, executor.WithProofGenerator(signer))
	return executor.New(opts...), executor.ModeDPoP, nil
}
