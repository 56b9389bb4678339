package store

import (
	"context"
	"maps"
	"sync"
	"time"
)

type memoryEntry struct {
	rec     Record
	expires time.Time
	seq     uint64
}

// Memory keeps records in process. Suitable for a single portal instance and
// for tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	seq     uint64
	ttl     time.Duration
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{entries: map[string]memoryEntry{}, ttl: ttl, now: time.Now}
}

func (m *Memory) Put(_ context.Context, key string, rec Record) error {
	entry := memoryEntry{rec: maps.Clone(rec)}
	if m.ttl > 0 {
		entry.expires = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.seq++
	entry.seq = m.seq
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (Record, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expires.IsZero() && !m.now().Before(entry.expires) {
		// A Put may have replaced the entry since it was read.
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && cur.seq == entry.seq {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	return maps.Clone(entry.rec), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
