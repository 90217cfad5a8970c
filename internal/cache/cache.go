// Package cache holds remote catalog listings and documents for a bounded
// time so the upstream backend is not hit on every request.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/workflowshelf/workflowshelf/internal/metrics"
)

// DefaultTTL is used when no TTL is configured.
const DefaultTTL = time.Hour

// Cache is a TTL key-value cache. Get reports false on a miss or an expired
// entry. Clear drops every entry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Clear(ctx context.Context) error
}

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process Cache.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
}

// NewMemory creates an in-memory cache with the given TTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Get returns the cached value for key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if ok && m.now().After(e.expires) {
		m.mu.Lock()
		if cur, still := m.entries[key]; still && !m.now().Before(cur.expires) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		ok = false
	}

	metrics.RecordCacheLookup(ok)
	if !ok {
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key until the TTL elapses.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{value: value, expires: m.now().Add(m.ttl)}
	return nil
}

// Clear drops every entry.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]entry)
	metrics.RecordCachePurge()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
