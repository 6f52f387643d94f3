package registry

import "sync"

// SyncMap is a map guarded by a single RWMutex. The lock is held only for the
// duration of each call.
type SyncMap[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]V
}

func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{data: make(map[K]V)}
}

func (m *SyncMap[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[key]
	return val, ok
}

func (m *SyncMap[K, V]) Set(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

// Insert stores value only if key is absent and reports whether it did.
func (m *SyncMap[K, V]) Insert(key K, value V) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[key]; exists {
		return false
	}
	m.data[key] = value
	return true
}

// Delete removes key and reports whether it was present.
func (m *SyncMap[K, V]) Delete(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[key]; !exists {
		return false
	}
	delete(m.data, key)
	return true
}

func (m *SyncMap[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Range calls f on a snapshot of the entries, so f may call back into the map.
func (m *SyncMap[K, V]) Range(f func(key K, value V) bool) {
	m.mu.RLock()
	keys := make([]K, 0, len(m.data))
	values := make([]V, 0, len(m.data))
	for k, v := range m.data {
		keys = append(keys, k)
		values = append(values, v)
	}
	m.mu.RUnlock()

	for i := range keys {
		if !f(keys[i], values[i]) {
			return
		}
	}
}
