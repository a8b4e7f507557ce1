package lease

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memEntry struct {
	token   string
	expires time.Time
}

// MemoryLocker is an in-process Locker for single-node deployments.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{entries: make(map[string]memEntry), now: time.Now}
}

func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.expires) {
		return nil, fmt.Errorf("%s: %w", key, ErrBusy)
	}

	token := newToken()
	m.entries[key] = memEntry{token: token, expires: now.Add(ttl)}
	return &Lease{Key: key, Token: token, TTL: ttl, b: m}, nil
}

func (m *MemoryLocker) renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok || e.token != token || !now.Before(e.expires) {
		return false, nil
	}
	e.expires = now.Add(ttl)
	m.entries[key] = e
	return true, nil
}

func (m *MemoryLocker) release(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && e.token == token {
		delete(m.entries, key)
	}
	return nil
}
