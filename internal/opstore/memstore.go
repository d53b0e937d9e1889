package opstore

import (
	"strings"
	"sync"

	"github.com/google/btree"
)

// MemStore is the in-memory Store used by all operators. Backed by a
// B-tree so prefix scans walk keys in order without copying the map.
type MemStore struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[Entry]
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		tree: btree.NewG(8, func(a, b Entry) bool {
			return a.Key < b.Key
		}),
	}
}

// Set inserts or replaces the value under key.
func (m *MemStore) Set(key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.ReplaceOrInsert(Entry{Key: key, Value: value})
}

// Get returns the value under key.
func (m *MemStore) Get(key string) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.tree.Get(Entry{Key: key})
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// Del removes the entry under key, if present.
func (m *MemStore) Del(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Delete(Entry{Key: key})
}

// Scan walks entries with the given key prefix in ascending key order.
func (m *MemStore) Scan(prefix string, fn func(Entry) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.tree.AscendGreaterOrEqual(Entry{Key: prefix}, func(e Entry) bool {
		if !strings.HasPrefix(e.Key, prefix) {
			return false
		}
		return fn(e)
	})
}

// Len reports the number of stored entries.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Len()
}

// Clear drops all entries. Called when the owning operator is destroyed.
func (m *MemStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Clear(false)
}
