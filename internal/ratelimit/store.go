package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// CounterStore tracks request timestamps per window key. The in-memory
// implementation is authoritative for a single process; a database-backed
// implementation only approximates the same sliding windows across
// processes and the limiter never depends on it for correctness.
type CounterStore interface {
	// Slide drops entries for key older than windowStart and returns the
	// remaining count plus the oldest remaining timestamp (zero when empty).
	Slide(ctx context.Context, key string, windowStart time.Time) (count int, oldest time.Time, err error)

	// Record appends a request timestamp for key.
	Record(ctx context.Context, key string, ts time.Time) error

	// Sweep drops all entries older than horizon and caps the number of
	// tracked keys, evicting the least recently touched first. Returns the
	// number of keys removed by the cap.
	Sweep(ctx context.Context, horizon time.Time, maxKeys int) (evicted int, err error)

	// Keys reports the number of tracked keys.
	Keys(ctx context.Context) (int, error)
}

// MemoryStore is the default process-local CounterStore.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

func (s *MemoryStore) Slide(_ context.Context, key string, windowStart time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.windows[key]
	idx := 0
	for idx < len(entries) && entries[idx].Before(windowStart) {
		idx++
	}
	if idx > 0 {
		entries = entries[idx:]
		if len(entries) == 0 {
			delete(s.windows, key)
		} else {
			s.windows[key] = entries
		}
	}
	if len(entries) == 0 {
		return 0, time.Time{}, nil
	}
	return len(entries), entries[0], nil
}

func (s *MemoryStore) Record(_ context.Context, key string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[key] = append(s.windows[key], ts)
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, horizon time.Time, maxKeys int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entries := range s.windows {
		idx := 0
		for idx < len(entries) && entries[idx].Before(horizon) {
			idx++
		}
		if idx == len(entries) {
			delete(s.windows, key)
		} else if idx > 0 {
			s.windows[key] = entries[idx:]
		}
	}

	if maxKeys <= 0 || len(s.windows) <= maxKeys {
		return 0, nil
	}

	// Over the cap: evict the keys with the oldest most-recent entry.
	type lastTouched struct {
		key  string
		last time.Time
	}
	touched := make([]lastTouched, 0, len(s.windows))
	for key, entries := range s.windows {
		touched = append(touched, lastTouched{key: key, last: entries[len(entries)-1]})
	}
	sort.Slice(touched, func(i, j int) bool { return touched[i].last.Before(touched[j].last) })

	evicted := 0
	for _, lt := range touched {
		if len(s.windows) <= maxKeys {
			break
		}
		delete(s.windows, lt.key)
		evicted++
	}
	return evicted, nil
}

func (s *MemoryStore) Keys(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows), nil
}
