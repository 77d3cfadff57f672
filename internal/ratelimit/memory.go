package ratelimit

import (
	"context"
	"sync"
	"time"
)

// windowEntry is one fixed counting window for a single key.
type windowEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounter is an in-process Counter for single-instance deployments.
// Expired windows are replaced on access; a background sweeper reclaims
// windows for keys that stop receiving traffic.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemoryCounter creates an empty in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		entries: make(map[string]*windowEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

// Incr implements Counter.
func (m *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		e = &windowEntry{expiresAt: now.Add(window)}
		m.entries[key] = e
	}
	e.count++
	return e.count, nil
}

// StartSweeper evicts expired windows every interval until Stop is called.
// Incr already replaces expired entries on access, so the sweeper only has
// to reclaim memory for keys that went quiet.
func (m *MemoryCounter) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweeper goroutine. Safe to call more than once, and
// safe to call even if StartSweeper never ran.
func (m *MemoryCounter) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *MemoryCounter) sweep() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, key)
		}
	}
}
