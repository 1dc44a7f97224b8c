// Package scheduler runs the access token countdown and triggers auto-refresh
// shortly before expiry.
package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultInterval is the tick period.
	DefaultInterval = time.Second

	// DefaultThreshold is how close to expiry auto-refresh fires.
	DefaultThreshold = 4 * time.Minute
)

// ExpirySource reports the current access token expiry, or false when unknown.
type ExpirySource func() (time.Time, bool)

// RefreshFunc refreshes the session.
type RefreshFunc func(ctx context.Context) error

// Countdown is what each tick renders.
type Countdown struct {
	Known     bool
	ExpiresAt time.Time
	Remaining time.Duration
}

// Scheduler is a restartable ticker bound to the login state.
type Scheduler struct {
	expiry  ExpirySource
	refresh RefreshFunc

	interval  time.Duration
	threshold time.Duration
	now       func() time.Time
	display   func(Countdown)
	logger    *slog.Logger

	mu          sync.Mutex
	autoRefresh bool
	stop        chan struct{}
	done        chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithThreshold sets the auto-refresh window.
func WithThreshold(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.threshold = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithDisplay receives the countdown on every tick.
func WithDisplay(fn func(Countdown)) Option {
	return func(s *Scheduler) {
		s.display = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithAutoRefresh sets the initial auto-refresh flag.
func WithAutoRefresh(on bool) Option {
	return func(s *Scheduler) {
		s.autoRefresh = on
	}
}

// New returns a stopped scheduler.
func New(expiry ExpirySource, refresh RefreshFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		expiry:    expiry,
		refresh:   refresh,
		interval:  DefaultInterval,
		threshold: DefaultThreshold,
		now:       time.Now,
		display:   func(Countdown) {},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAutoRefresh toggles auto-refresh. It takes effect on the next tick.
func (s *Scheduler) SetAutoRefresh(on bool) {
	s.mu.Lock()
	s.autoRefresh = on
	s.mu.Unlock()
}

// AutoRefresh reports the auto-refresh flag.
func (s *Scheduler) AutoRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoRefresh
}

// Threshold returns the auto-refresh window.
func (s *Scheduler) Threshold() time.Duration {
	return s.threshold
}

// Start begins ticking, replacing any running loop. It renders once immediately.
// The loop ends when Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.stopLocked()
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done
	s.mu.Unlock()

	go s.loop(ctx, stop, done)
}

// Stop ends the running loop. It does not wait for an in-flight tick, so it
// is safe to call from inside a refresh triggered by that tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
}

func (s *Scheduler) stopLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// Running reports whether a loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// Done returns a channel closed when the most recently started loop exits.
// It returns a closed channel when the scheduler was never started.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return s.done
}

func (s *Scheduler) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			if s.stop == stop {
				s.stop = nil
			}
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick recomputes the countdown, renders it, and refreshes when auto-refresh
// is on and the token expires within the threshold but has not expired yet.
// It reports whether a refresh was attempted.
func (s *Scheduler) Tick(ctx context.Context) bool {
	exp, ok := s.expiry()
	cd := Countdown{Known: ok}
	if ok {
		cd.ExpiresAt = exp
		cd.Remaining = exp.Sub(s.now())
	}
	s.display(cd)

	if !ok || !s.AutoRefresh() {
		return false
	}
	if cd.Remaining <= 0 || cd.Remaining >= s.threshold {
		return false
	}

	s.logger.Info("access token near expiry, refreshing", "remaining", cd.Remaining.Round(time.Second))
	if err := s.refresh(ctx); err != nil {
		s.logger.Warn("auto-refresh failed", "error", err)
	}
	return true
}
