// internal/cache/memory.go
//
// In-process Store backed by a bounded LRU.
//
// Context
// -------
// Single-process sweeps and tests do not need Redis.  Entries live in a
// least-recently-used list so a long-running process cannot grow without
// bound; losing a checksum entry only costs one extra sync of that list.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Memory is safe for concurrent use.  Construct with NewMemory.
type Memory struct {
	mu   sync.Mutex
	cap  int
	ll   *list.List
	dict map[string]*list.Element
	now  func() time.Time
}

type item struct {
	key     string
	val     []byte
	expires time.Time // zero: no expiry
}

// NewMemory returns a Memory holding at most capacity entries.  Panics on
// capacity < 1.
func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		panic("cache: capacity must be ≥1")
	}
	return &Memory{
		cap:  capacity,
		ll:   list.New(),
		dict: make(map[string]*list.Element, capacity),
		now:  time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ele, hit := m.dict[key]
	if !hit {
		return nil, false, nil
	}
	it := ele.Value.(*item)
	if !it.expires.IsZero() && m.now().After(it.expires) {
		m.ll.Remove(ele)
		delete(m.dict, key)
		return nil, false, nil
	}
	m.ll.MoveToFront(ele)
	return clone(it.val), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	it := &item{key: key, val: clone(value)}
	if ttl > 0 {
		it.expires = m.now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ele, hit := m.dict[key]; hit {
		ele.Value = it
		m.ll.MoveToFront(ele)
		return nil
	}
	m.dict[key] = m.ll.PushFront(it)
	if m.ll.Len() > m.cap {
		last := m.ll.Back()
		m.ll.Remove(last)
		delete(m.dict, last.Value.(*item).key)
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	if ele, hit := m.dict[key]; hit {
		m.ll.Remove(ele)
		delete(m.dict, key)
	}
	m.mu.Unlock()
	return nil
}

// Len reports current size.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
