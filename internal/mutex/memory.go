package mutex

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Locker for single-binary runs and tests.
type Memory struct {
	mu    sync.Mutex
	held  map[string]struct{}
	every time.Duration
}

// NewMemory returns an empty Memory locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{}), every: 5 * time.Millisecond}
}

func (m *Memory) Acquire(ctx context.Context, key string, wait time.Duration) (bool, error) {
	return poll(ctx, wait, m.every, func() (bool, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, busy := m.held[key]; busy {
			return false, nil
		}
		m.held[key] = struct{}{}
		return true, nil
	})
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.held, key)
	m.mu.Unlock()
	return nil
}

// Extend reports whether key is held; memory leases never expire.
func (m *Memory) Extend(_ context.Context, key string) (bool, error) {
	return m.Held(key), nil
}

// Held reports whether key is currently taken.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}
