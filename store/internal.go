// Package store implements the two value-store tiers of spec.md §3/§4.G: a
// Key maps to a *set* of values (bulletin-board semantics — multiple
// callers may bind distinct values under the same key), held in the
// owner's Internal tier (republished indefinitely) and the External tier
// (accepted on behalf of other owners, expiring after a TTL).
package store

import (
	"sync"

	"github.com/nomoreweirdmachines/bulletinboard-dht/kbucket"
)

// Internal holds values this node owns and is responsible for
// republishing (spec.md §4.G, §4.H's republisher). Values are deduplicated
// per key; entries never expire on their own, only Remove/RemoveKey drops
// them.
type Internal struct {
	mu     sync.RWMutex
	values map[kbucket.ID]map[string][]byte
}

// NewInternal constructs an empty Internal store.
func NewInternal() *Internal {
	return &Internal{values: make(map[kbucket.ID]map[string][]byte)}
}

// Put adds value to key's set, coalescing if already present.
func (s *Internal) Put(key kbucket.ID, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.values[key]
	if !ok {
		set = make(map[string][]byte)
		s.values[key] = set
	}
	set[string(value)] = value
}

// Get returns every value currently bound to key, nil if none.
func (s *Internal) Get(key kbucket.ID) [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.values[key]
	if !ok {
		return nil
	}
	out := make([][]byte, 0, len(set))
	for _, v := range set {
		out = append(out, v)
	}
	return out
}

// Contains reports whether key currently has value bound to it — the
// republisher's self-poll check (spec.md §4.H).
func (s *Internal) Contains(key kbucket.ID, value []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.values[key]
	if !ok {
		return false
	}
	_, ok = set[string(value)]
	return ok
}

// Remove drops a single value from key's set, reporting whether it was
// present. The key itself is dropped once its set empties.
func (s *Internal) Remove(key kbucket.ID, value []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.values[key]
	if !ok {
		return false
	}
	if _, ok := set[string(value)]; !ok {
		return false
	}
	delete(set, string(value))
	if len(set) == 0 {
		delete(s.values, key)
	}
	return true
}

// RemoveKey drops every value bound to key, reporting whether any existed.
func (s *Internal) RemoveKey(key kbucket.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return false
	}
	delete(s.values, key)
	return true
}

// Keys returns every key currently owning at least one value.
func (s *Internal) Keys() []kbucket.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]kbucket.ID, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	return out
}
