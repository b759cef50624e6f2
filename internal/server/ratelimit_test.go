package server

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(perMinute, perHour int, maxBytes int64) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(perMinute, perHour, maxBytes)
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiter_NoLimits(t *testing.T) {
	rl, _ := newTestLimiter(0, 0, 0)

	for range 100 {
		require.NoError(t, rl.Allow("user1", 1024))
	}
	usage := rl.Usage("user1")
	assert.Equal(t, 100, usage.LastHour)
	assert.Equal(t, int64(100*1024), usage.BytesToday)
}

func TestRateLimiter_PerMinute(t *testing.T) {
	rl, clock := newTestLimiter(2, 0, 0)

	require.NoError(t, rl.Allow("user1", 0))
	clock.advance(20 * time.Second)
	require.NoError(t, rl.Allow("user1", 0))

	err := rl.Allow("user1", 0)
	var rateErr *RateLimitError
	require.True(t, errors.As(err, &rateErr))
	assert.Equal(t, "minute", rateErr.Window)
	assert.Equal(t, 2, rateErr.Limit)
	assert.Equal(t, 40*time.Second, rateErr.RetryAfter, "until the oldest submission leaves the window")

	// the window slides: after the first submission ages out one slot frees up
	clock.advance(41 * time.Second)
	require.NoError(t, rl.Allow("user1", 0))
	assert.Error(t, rl.Allow("user1", 0))
}

func TestRateLimiter_PerHour(t *testing.T) {
	rl, clock := newTestLimiter(0, 3, 0)

	for range 3 {
		require.NoError(t, rl.Allow("user1", 0))
		clock.advance(10 * time.Minute)
	}

	err := rl.Allow("user1", 0)
	var rateErr *RateLimitError
	require.True(t, errors.As(err, &rateErr))
	assert.Equal(t, "hour", rateErr.Window)
	assert.Equal(t, 30*time.Minute, rateErr.RetryAfter)

	clock.advance(31 * time.Minute)
	assert.NoError(t, rl.Allow("user1", 0))
}

func TestRateLimiter_DailyQuota(t *testing.T) {
	rl, clock := newTestLimiter(0, 0, 1000)

	require.NoError(t, rl.Allow("user1", 600))
	err := rl.Allow("user1", 500)
	var quotaErr *QuotaExceededError
	require.True(t, errors.As(err, &quotaErr))
	assert.Equal(t, int64(1000), quotaErr.Limit)
	assert.Equal(t, int64(600), quotaErr.Used)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), quotaErr.Resets)

	// rejected submissions are not counted
	require.NoError(t, rl.Allow("user1", 400))
	assert.Equal(t, int64(1000), rl.Usage("user1").BytesToday)

	clock.advance(14 * time.Hour)
	require.NoError(t, rl.Allow("user1", 900), "quota resets at midnight")
}

func TestRateLimiter_ClientsAreIndependentAndForgotten(t *testing.T) {
	rl, clock := newTestLimiter(1, 0, 0)

	require.NoError(t, rl.Allow("a", 0))
	require.NoError(t, rl.Allow("b", 0))
	assert.Error(t, rl.Allow("a", 0))
	assert.Len(t, rl.clients, 2)

	clock.advance(25 * time.Hour)
	require.NoError(t, rl.Allow("c", 0))
	assert.Len(t, rl.clients, 1, "idle clients are swept")
	assert.Equal(t, Usage{}, rl.Usage("a"))
}

func TestRateLimitError_Messages(t *testing.T) {
	rl := &RateLimitError{Window: "minute", Limit: 5, RetryAfter: 1500 * time.Millisecond}
	assert.Contains(t, rl.Error(), "minute")
	assert.Contains(t, rl.Error(), "limit: 5")

	q := &QuotaExceededError{Limit: 10, Used: 8, Resets: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	assert.Contains(t, q.Error(), "used: 8")
	assert.Contains(t, q.Error(), "2026-01-02T00:00:00Z")
}
