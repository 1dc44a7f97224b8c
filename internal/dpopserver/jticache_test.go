package dpopserver

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJTICacheDetectsReplay(t *testing.T) {
	t.Parallel()

	c := NewMemoryJTICache(WithCleanupInterval(0))
	defer c.Close()

	replay, err := c.Record("abc")
	require.NoError(t, err)
	assert.False(t, replay)

	replay, err = c.Record("abc")
	require.NoError(t, err)
	assert.True(t, replay)
	assert.Equal(t, 1, c.Len())
}

func TestJTICacheExpiry(t *testing.T) {
	t.Parallel()
	t.Log("Testing a jti may be reused once its TTL has passed")

	var mu sync.Mutex
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	c := NewMemoryJTICache(WithTTL(time.Minute), WithCleanupInterval(0), WithCacheClock(clock))
	defer c.Close()

	_, _ = c.Record("abc")

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	replay, err := c.Record("abc")
	require.NoError(t, err)
	assert.False(t, replay)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	c.cleanup()
	assert.Equal(t, 0, c.Len())
}

func TestJTICacheLimits(t *testing.T) {
	t.Parallel()

	c := NewMemoryJTICache(WithMaxEntries(2), WithCleanupInterval(0))
	defer c.Close()

	_, err := c.Record("")
	assert.ErrorIs(t, err, ErrInvalidJTI)

	_, err = c.Record(strings.Repeat("x", MaxJTILength+1))
	assert.ErrorIs(t, err, ErrJTITooLong)

	_, err = c.Record("a")
	require.NoError(t, err)
	_, err = c.Record("b")
	require.NoError(t, err)
	_, err = c.Record("c")
	assert.ErrorIs(t, err, ErrCacheFull)
}

func TestJTICacheCloseIdempotent(t *testing.T) {
	t.Parallel()

	c := NewMemoryJTICache(WithCleanupInterval(10 * time.Millisecond))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
