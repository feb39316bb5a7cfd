package cache

import (
	"container/list"
	"sync"
	"time"
)

// Memory is a byte-bounded LRU.
type Memory struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	entries  map[string]*list.Element
	order    *list.List // front is most recent
	stats    Stats
}

type memEntry struct {
	key    string
	value  []byte
	stored time.Time
}

// NewMemory returns an LRU holding at most capacity bytes.
func NewMemory(capacity int64) *Memory {
	return &Memory{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the value for key and marks it recently used.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		m.stats.Misses++
		return nil, false
	}
	m.order.MoveToFront(el)
	m.stats.Hits++
	return el.Value.(*memEntry).value, true
}

// Put stores value, evicting the least recently used entries to make room.
func (m *Memory) Put(key string, value []byte) error {
	n := int64(len(value))
	m.mu.Lock()
	defer m.mu.Unlock()

	if n > m.capacity {
		return ErrItemTooLarge
	}
	if el, ok := m.entries[key]; ok {
		m.removeLocked(el)
	}
	for m.size+n > m.capacity {
		m.evictLocked()
	}
	m.entries[key] = m.order.PushFront(&memEntry{key: key, value: value, stored: time.Now()})
	m.size += n
	return nil
}

// Delete removes key if present.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[key]; ok {
		m.removeLocked(el)
	}
}

// Contains reports presence without touching recency.
func (m *Memory) Contains(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

// Clear drops every entry. Counters are kept.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.entries)
	m.order.Init()
	m.size = 0
}

// Prune drops entries stored before now-maxAge and returns how many.
func (m *Memory) Prune(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	n := 0
	for el := m.order.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*memEntry).stored.Before(cutoff) {
			m.removeLocked(el)
			n++
		}
		el = prev
	}
	return n
}

// Stats returns a snapshot of the counters.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Capacity = m.capacity
	s.Size = m.size
	s.Items = int64(len(m.entries))
	return s
}

func (m *Memory) evictLocked() {
	if el := m.order.Back(); el != nil {
		m.removeLocked(el)
		m.stats.Evictions++
	}
}

func (m *Memory) removeLocked(el *list.Element) {
	e := m.order.Remove(el).(*memEntry)
	delete(m.entries, e.key)
	m.size -= int64(len(e.value))
}
