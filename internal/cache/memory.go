package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value  string
	expiry time.Time // zero: never
}

// Memory is an in-process SessionCache. Entries are lost on restart.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type MemoryOption func(*Memory)

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Put(_ context.Context, userID int64, token string, ttl time.Duration) error {
	entry := memoryEntry{value: token}
	if ttl > 0 {
		entry.expiry = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[SessionKey(userID)] = entry
	m.mu.Unlock()
	return nil
}

// Get evicts an expired entry at read time and reports it as absent.
func (m *Memory) Get(_ context.Context, userID int64) (string, bool, error) {
	key := SessionKey(userID)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !entry.expiry.IsZero() && m.now().After(entry.expiry) {
		delete(m.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (m *Memory) Delete(_ context.Context, userID int64) error {
	m.mu.Lock()
	delete(m.entries, SessionKey(userID))
	m.mu.Unlock()
	return nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

// Len counts stored entries, including expired ones not yet read.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Close() error {
	return nil
}
