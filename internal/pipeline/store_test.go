package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressStore_GetUnknown(t *testing.T) {
	s := NewProgressStore(time.Minute)

	p := s.Get("nope")
	assert.Equal(t, 0, p.Percent)
	assert.Equal(t, StagePending, p.Stage)
}

func TestProgressStore_ReportAndExpire(t *testing.T) {
	s := NewProgressStore(time.Minute)
	now := time.Unix(0, 0)
	s.now = func() time.Time { return now }

	extra := map[string]any{"page": 1}
	s.Report("job", 30, StageRecap, extra)
	extra["page"] = 99 // the store keeps its own copy

	p := s.Get("job")
	assert.Equal(t, 30, p.Percent)
	assert.Equal(t, 1, p.Extra["page"])
	assert.Equal(t, 1, s.Len())

	now = now.Add(59 * time.Second)
	assert.Equal(t, 30, s.Get("job").Percent)

	now = now.Add(time.Second)
	assert.Equal(t, StagePending, s.Get("job").Stage)
	assert.Zero(t, s.Len())

	s.Report("other", 5, StageStarted, nil)
	s.mu.RLock()
	_, kept := s.entries["job"]
	s.mu.RUnlock()
	assert.False(t, kept, "expired entries are swept on write")
}

func TestProgressStore_Subscribe(t *testing.T) {
	s := NewProgressStore(0)
	ch, cancel := s.Subscribe("job")

	s.Report("job", 10, StageStarted, nil)
	s.Report("elsewhere", 50, StageRecap, nil)
	s.Report("job", 100, StageDone, nil)

	first := <-ch
	assert.Equal(t, 10, first.Percent)
	last := <-ch
	assert.True(t, last.Done())

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	// reports after cancel reach nobody
	s.Report("job", 100, StageDone, nil)
}

func TestProgressStore_SlowSubscriberKeepsLatest(t *testing.T) {
	s := NewProgressStore(0)
	ch, cancel := s.Subscribe("job")
	defer cancel()

	for i := 0; i <= subscriberBuffer+5; i++ {
		s.Report("job", i, StageRecap, nil)
	}

	var last Progress
	for len(ch) > 0 {
		last = <-ch
	}
	assert.Equal(t, subscriberBuffer+5, last.Percent)
}

func TestProgressStore_Concurrent(t *testing.T) {
	s := NewProgressStore(0)
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Report("job", i, StageRecap, map[string]any{"i": i})
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = s.Get("job")
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, s.Len())
}
