package pipeline

import (
	"maps"
	"sync"
	"time"
)

// DefaultProgressTTL is how long a job's progress stays readable after its
// last update.
const DefaultProgressTTL = time.Hour

const subscriberBuffer = 16

type storedProgress struct {
	progress Progress
	expires  time.Time
}

// ProgressStore keeps the latest progress per job for polling readers and
// pushes updates to subscribers. Entries expire ttl after their last update.
type ProgressStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]storedProgress
	subs    map[string]map[chan Progress]struct{}
	now     func() time.Time
}

// NewProgressStore creates a store. ttl <= 0 uses DefaultProgressTTL.
func NewProgressStore(ttl time.Duration) *ProgressStore {
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	return &ProgressStore{
		ttl:     ttl,
		entries: make(map[string]storedProgress),
		subs:    make(map[string]map[chan Progress]struct{}),
		now:     time.Now,
	}
}

// Report records the latest progress for jobID.
func (s *ProgressStore) Report(jobID string, percent int, stage string, extra map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p := Progress{Percent: percent, Stage: stage, Extra: maps.Clone(extra), UpdatedAt: now}
	s.entries[jobID] = storedProgress{progress: p, expires: now.Add(s.ttl)}
	s.sweep(now)

	for ch := range s.subs[jobID] {
		deliver(ch, p)
	}
}

// Get returns the latest progress for jobID, or PendingProgress when the
// job is unknown or expired.
func (s *ProgressStore) Get(jobID string) Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[jobID]
	if !ok || !s.now().Before(e.expires) {
		return PendingProgress()
	}
	return e.progress
}

// Len returns the number of live entries.
func (s *ProgressStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	now := s.now()
	for _, e := range s.entries {
		if now.Before(e.expires) {
			n++
		}
	}
	return n
}

// Subscribe returns a channel receiving every later update for jobID. A slow
// reader loses intermediate updates, never the latest one. cancel closes the
// channel.
func (s *ProgressStore) Subscribe(jobID string) (<-chan Progress, func()) {
	ch := make(chan Progress, subscriberBuffer)

	s.mu.Lock()
	if s.subs[jobID] == nil {
		s.subs[jobID] = make(map[chan Progress]struct{})
	}
	s.subs[jobID][ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[jobID], ch)
			if len(s.subs[jobID]) == 0 {
				delete(s.subs, jobID)
			}
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// sweep drops expired entries. Caller holds the write lock.
func (s *ProgressStore) sweep(now time.Time) {
	for id, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, id)
		}
	}
}

// deliver sends p, replacing the oldest buffered update when ch is full.
func deliver(ch chan Progress, p Progress) {
	select {
	case ch <- p:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- p:
	default:
	}
}
