package throttle

import (
	"context"
	"sync"
	"time"
)

var _ Counter = (*MemoryCounter)(nil)

type memoryEntry struct {
	count int64
	timer *time.Timer
}

// MemoryCounter keeps counts in a mutex-guarded map. Each key gets a
// time.AfterFunc that deletes it when its window ends.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{entries: make(map[string]*memoryEntry)}
}

func (m *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		e.count++
		return e.count, nil
	}

	e := &memoryEntry{count: 1}
	e.timer = time.AfterFunc(window, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// A Close followed by new traffic may have replaced the entry.
		if m.entries[key] == e {
			delete(m.entries, key)
		}
	})
	m.entries[key] = e
	return 1, nil
}

// Len returns the number of live keys.
func (m *MemoryCounter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops every pending expiry timer and forgets all counts.
func (m *MemoryCounter) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		e.timer.Stop()
		delete(m.entries, key)
	}
}
