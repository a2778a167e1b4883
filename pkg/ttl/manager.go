// Package ttl provides a generic idle-expiry registry: entries are
// registered, refreshed by heartbeat, and evicted once they have been
// idle longer than a configured timeout. Used for the federation
// server's typing-notification EDU state, where a room/user typing
// indicator expires if not refreshed before a deadline.
package ttl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/armorclaw/matrixcore/pkg/logger"
)

// Entry tracks one registered item's activity window.
type Entry[T any] struct {
	Key        string
	Value      T
	LastActive time.Time
	CreatedAt  time.Time
}

// EvictFunc is invoked for each entry that has gone idle longer than
// the manager's timeout. Eviction is best-effort: an error is logged
// but does not block removal from the registry.
type EvictFunc[T any] func(key string, value T) error

// Manager tracks idle-expiring entries and evicts them on a background
// sweep.
type Manager[T any] struct {
	idleTimeout   time.Duration
	checkInterval time.Duration
	entries       map[string]*Entry[T]
	mu            sync.RWMutex
	evict         EvictFunc[T]
	ctx           context.Context
	cancel        context.CancelFunc
	log           *logger.Logger
}

// NewManager creates a Manager that evicts entries idle for longer than
// idleTimeout, checking at checkInterval. If evict is nil, idle entries
// are dropped silently.
func NewManager[T any](idleTimeout, checkInterval time.Duration, evict EvictFunc[T]) *Manager[T] {
	ctx, cancel := context.WithCancel(context.Background())
	if evict == nil {
		evict = func(string, T) error { return nil }
	}
	return &Manager[T]{
		idleTimeout:   idleTimeout,
		checkInterval: checkInterval,
		entries:       make(map[string]*Entry[T]),
		evict:         evict,
		ctx:           ctx,
		cancel:        cancel,
		log:           logger.Global(),
	}
}

// Register adds or replaces an entry, resetting its idle clock.
func (m *Manager[T]) Register(key string, value T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if existing, ok := m.entries[key]; ok {
		existing.Value = value
		existing.LastActive = now
		return
	}
	m.entries[key] = &Entry[T]{Key: key, Value: value, LastActive: now, CreatedAt: now}
}

// Unregister removes an entry without invoking the evict callback.
func (m *Manager[T]) Unregister(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Heartbeat refreshes an entry's idle clock.
func (m *Manager[T]) Heartbeat(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return fmt.Errorf("ttl: entry not registered: %s", key)
	}
	entry.LastActive = time.Now()
	return nil
}

// Get returns a copy of the entry's current state.
func (m *Manager[T]) Get(key string) (Entry[T], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok {
		var zero Entry[T]
		return zero, fmt.Errorf("ttl: entry not registered: %s", key)
	}
	return *entry, nil
}

// Count returns the number of tracked entries.
func (m *Manager[T]) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Keys returns all currently tracked keys.
func (m *Manager[T]) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

// Start begins the background eviction sweep.
func (m *Manager[T]) Start() {
	go m.sweepLoop()
}

// Stop halts the background sweep. Registered entries are left intact.
func (m *Manager[T]) Stop() {
	m.cancel()
}

func (m *Manager[T]) sweepLoop() {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager[T]) sweep() {
	now := time.Now()

	m.mu.Lock()
	var expired []*Entry[T]
	for key, entry := range m.entries {
		if now.Sub(entry.LastActive) > m.idleTimeout {
			expired = append(expired, entry)
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()

	for _, entry := range expired {
		if err := m.evict(entry.Key, entry.Value); err != nil {
			m.log.Warn("ttl eviction callback failed", "key", entry.Key, "error", err)
		}
	}
}

// ForceExpire immediately evicts an entry regardless of idle time.
func (m *Manager[T]) ForceExpire(key string) error {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if ok {
		delete(m.entries, key)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("ttl: entry not registered: %s", key)
	}
	return m.evict(entry.Key, entry.Value)
}
