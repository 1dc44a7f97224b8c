package dpopserver

import (
	"sync"
	"time"
)

const (
	// DefaultTTL is how long a jti is remembered. It must cover the proof age window.
	DefaultTTL = 5 * time.Minute

	// DefaultMaxEntries is the default maximum number of entries in the cache.
	DefaultMaxEntries = 100_000

	// DefaultCleanupInterval is the default interval for expired entry cleanup.
	DefaultCleanupInterval = 30 * time.Second

	// MaxJTILength is the maximum allowed JTI length in bytes.
	MaxJTILength = 1024
)

// JTICache provides replay detection for DPoP proof JTIs.
// Implementations must be safe for concurrent use.
type JTICache interface {
	// Record stores jti and reports whether it was already present and unexpired.
	Record(jti string) (isReplay bool, err error)

	// Close stops background work.
	Close() error
}

// MemoryJTICache is an in-memory JTI cache with periodic expiry.
type MemoryJTICache struct {
	mu         sync.Mutex
	seen       map[string]time.Time
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
	closeOnce       sync.Once
}

// MemoryJTICacheOption configures a MemoryJTICache.
type MemoryJTICacheOption func(*MemoryJTICache)

// WithTTL sets the time-to-live for JTI entries.
func WithTTL(ttl time.Duration) MemoryJTICacheOption {
	return func(c *MemoryJTICache) {
		c.ttl = ttl
	}
}

// WithMaxEntries sets the maximum number of entries in the cache.
func WithMaxEntries(max int) MemoryJTICacheOption {
	return func(c *MemoryJTICache) {
		c.maxEntries = max
	}
}

// WithCleanupInterval sets the cleanup period. Zero or negative disables cleanup.
func WithCleanupInterval(interval time.Duration) MemoryJTICacheOption {
	return func(c *MemoryJTICache) {
		c.cleanupInterval = interval
	}
}

// WithCacheClock overrides the clock used for expiry.
func WithCacheClock(now func() time.Time) MemoryJTICacheOption {
	return func(c *MemoryJTICache) {
		c.now = now
	}
}

// NewMemoryJTICache creates a new in-memory JTI cache.
func NewMemoryJTICache(opts ...MemoryJTICacheOption) *MemoryJTICache {
	c := &MemoryJTICache{
		seen:            make(map[string]time.Time),
		ttl:             DefaultTTL,
		maxEntries:      DefaultMaxEntries,
		now:             time.Now,
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.cleanupInterval > 0 {
		go c.cleanupLoop(c.cleanupInterval)
	} else {
		close(c.cleanupDone)
	}
	return c
}

// Record stores jti. A jti seen within the TTL is a replay.
func (c *MemoryJTICache) Record(jti string) (bool, error) {
	if jti == "" {
		return false, ErrInvalidJTI
	}
	if len(jti) > MaxJTILength {
		return false, ErrJTITooLong
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if at, ok := c.seen[jti]; ok && now.Sub(at) < c.ttl {
		return true, nil
	}
	if _, ok := c.seen[jti]; !ok && len(c.seen) >= c.maxEntries {
		return false, ErrCacheFull
	}
	c.seen[jti] = now
	return false, nil
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *MemoryJTICache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCleanup)
	})
	<-c.cleanupDone
	return nil
}

func (c *MemoryJTICache) cleanupLoop(interval time.Duration) {
	defer close(c.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCleanup:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *MemoryJTICache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for jti, at := range c.seen {
		if now.Sub(at) >= c.ttl {
			delete(c.seen, jti)
		}
	}
}

// Len returns the current number of entries (for testing).
func (c *MemoryJTICache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

var _ JTICache = (*MemoryJTICache)(nil)
