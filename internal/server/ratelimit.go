package server

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// RateLimiter bounds job submissions per client with sliding minute and hour
// windows and a daily upload volume.
type RateLimiter struct {
	mu sync.Mutex

	perMinute      int
	perHour        int
	maxBytesPerDay int64

	clients map[string]*clientUsage
	now     func() time.Time
}

// clientUsage is the submission history of one client.
type clientUsage struct {
	submissions []time.Time // within the last hour, oldest first
	day         time.Time   // start of the day bytes is counted for
	bytes       int64
}

// Usage is a snapshot of one client's counters.
type Usage struct {
	LastMinute int
	LastHour   int
	BytesToday int64
}

// NewRateLimiter creates a limiter. A zero limit disables that check.
func NewRateLimiter(perMinute, perHour int, maxBytesPerDay int64) *RateLimiter {
	return &RateLimiter{
		perMinute:      perMinute,
		perHour:        perHour,
		maxBytesPerDay: maxBytesPerDay,
		clients:        make(map[string]*clientUsage),
		now:            time.Now,
	}
}

// Allow records a submission of size bytes for clientID, or returns a
// *RateLimitError or *QuotaExceededError without recording it.
func (rl *RateLimiter) Allow(clientID string, size int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)
	u := rl.clients[clientID]
	if u == nil {
		u = &clientUsage{day: startOfDay(now)}
		rl.clients[clientID] = u
	}
	u.advance(now)

	if rl.perMinute > 0 {
		recent := u.since(now.Add(-time.Minute))
		if len(recent) >= rl.perMinute {
			return &RateLimitError{
				Window:     "minute",
				Limit:      rl.perMinute,
				RetryAfter: recent[0].Add(time.Minute).Sub(now),
			}
		}
	}
	if rl.perHour > 0 && len(u.submissions) >= rl.perHour {
		return &RateLimitError{
			Window:     "hour",
			Limit:      rl.perHour,
			RetryAfter: u.submissions[0].Add(time.Hour).Sub(now),
		}
	}
	if rl.maxBytesPerDay > 0 && u.bytes+size > rl.maxBytesPerDay {
		return &QuotaExceededError{
			Limit:  rl.maxBytesPerDay,
			Used:   u.bytes,
			Resets: u.day.AddDate(0, 0, 1),
		}
	}

	u.submissions = append(u.submissions, now)
	u.bytes += size
	return nil
}

// Usage returns the current counters for clientID.
func (rl *RateLimiter) Usage(clientID string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u, ok := rl.clients[clientID]
	if !ok {
		return Usage{}
	}
	now := rl.now()
	u.advance(now)
	return Usage{
		LastMinute: len(u.since(now.Add(-time.Minute))),
		LastHour:   len(u.submissions),
		BytesToday: u.bytes,
	}
}

// sweep forgets clients with nothing left to count.
func (rl *RateLimiter) sweep(now time.Time) {
	for id, u := range rl.clients {
		u.advance(now)
		if len(u.submissions) == 0 && u.bytes == 0 {
			delete(rl.clients, id)
		}
	}
}

// advance drops submissions older than an hour and rolls the day over.
func (u *clientUsage) advance(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := slices.IndexFunc(u.submissions, func(t time.Time) bool { return t.After(cutoff) })
	if i < 0 {
		u.submissions = u.submissions[:0]
	} else {
		u.submissions = u.submissions[i:]
	}

	if day := startOfDay(now); day.After(u.day) {
		u.day = day
		u.bytes = 0
	}
}

// since returns the submissions after t.
func (u *clientUsage) since(t time.Time) []time.Time {
	i := slices.IndexFunc(u.submissions, func(s time.Time) bool { return s.After(t) })
	if i < 0 {
		return nil
	}
	return u.submissions[i:]
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Window     string        // "minute" or "hour"
	Limit      int           // the limit that was exceeded
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)",
		e.Window, e.Limit, e.RetryAfter.Round(time.Second))
}

// QuotaExceededError represents a daily upload volume violation.
type QuotaExceededError struct {
	Limit  int64     // bytes per day
	Used   int64     // bytes already accepted today
	Resets time.Time // when the quota resets
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily upload quota exceeded (used: %d, limit: %d, resets: %s)",
		e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
