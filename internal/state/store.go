package state

import (
	"bytes"
	"sort"
	"sync"
)

// Store is the persistent key/value space owned by the engine. The ledger,
// the registry and the vault each keep their records under their own key
// prefix and only ever touch the store through their own operations.
//
// Get returns nil for a missing key. Iterate visits keys with the given
// prefix in ascending byte order; fn returning false stops the walk.
type Store interface {
	Get(key []byte) []byte
	Put(key, value []byte)
	Delete(key []byte)
	Iterate(prefix []byte, fn func(key, value []byte) bool)
}

// MemoryStore is the in-memory Store. Mutations are serialized by the engine;
// the RWMutex only protects concurrent readers (query API, snapshots).
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

func (s *MemoryStore) Get(key []byte) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil
	}
	return bytes.Clone(v)
}

func (s *MemoryStore) Put(key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = bytes.Clone(value)
}

func (s *MemoryStore) Delete(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
}

func (s *MemoryStore) Iterate(prefix []byte, fn func(key, value []byte) bool) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = bytes.Clone(s.data[k])
	}
	s.mu.RUnlock()

	for i, k := range keys {
		if !fn([]byte(k), values[i]) {
			return
		}
	}
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Snapshot returns a copy of all entries (for persistence and state hashing).
func (s *MemoryStore) Snapshot() map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.data))
	for k, v := range s.data {
		out[k] = bytes.Clone(v)
	}
	return out
}

// Restore replaces the store contents with entries.
func (s *MemoryStore) Restore(entries map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]byte, len(entries))
	for k, v := range entries {
		s.data[k] = bytes.Clone(v)
	}
}
