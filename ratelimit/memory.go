package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps windows in process. It is exact but per-node.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string][]time.Time // ascending
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]time.Time)}
}

var _ Store = (*MemoryStore)(nil)

// Hit implements Store.
func (m *MemoryStore) Hit(_ context.Context, key string, now time.Time, window time.Duration, limit int) (Window, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	evts := m.prune(key, now, window)
	recorded := false
	if limit > 0 && len(evts) < limit {
		// Keep ascending order even if an injected clock went backwards.
		i := sort.Search(len(evts), func(i int) bool { return evts[i].After(now) })
		evts = append(evts, time.Time{})
		copy(evts[i+1:], evts[i:])
		evts[i] = now
		m.events[key] = evts
		recorded = true
	}
	return windowOf(evts), recorded, nil
}

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return windowOf(m.prune(key, now, window)), nil
}

// Reset forgets all events for key.
func (m *MemoryStore) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, key)
}

// prune drops expired events for key. Caller holds mu.
func (m *MemoryStore) prune(key string, now time.Time, window time.Duration) []time.Time {
	evts := m.events[key]
	cutoff := now.Add(-window)
	i := sort.Search(len(evts), func(i int) bool { return evts[i].After(cutoff) })
	if i == len(evts) {
		delete(m.events, key)
		return nil
	}
	if i > 0 {
		evts = append([]time.Time(nil), evts[i:]...)
		m.events[key] = evts
	}
	return evts
}

func windowOf(evts []time.Time) Window {
	if len(evts) == 0 {
		return Window{}
	}
	return Window{Count: len(evts), Oldest: evts[0]}
}
