package store

import (
	"sync"
	"time"

	"github.com/nomoreweirdmachines/bulletinboard-dht/kbucket"
)

// DefaultExternalTTL is how long a value accepted on another node's behalf
// survives without being refreshed by a fresh Store (spec.md §6).
const DefaultExternalTTL = 15 * time.Minute

// External holds values accepted via inbound Store messages for keys this
// node does not own (spec.md §3/§4.G): `Key → list of (value, expiry)`, an
// entry forgotten once its expiry passes. Each Store resets only that
// value's own expiry, not the whole key's other values.
type External struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[kbucket.ID]map[string]externalValue
}

type externalValue struct {
	value   []byte
	expires time.Time
}

// NewExternal constructs an empty External store with the given TTL (use
// DefaultExternalTTL unless a test needs a shorter one).
func NewExternal(ttl time.Duration) *External {
	if ttl <= 0 {
		ttl = DefaultExternalTTL
	}
	return &External{ttl: ttl, entries: make(map[kbucket.ID]map[string]externalValue)}
}

// Put (re)stores value under key, resetting its expiry to now+ttl.
func (s *External) Put(key kbucket.ID, value []byte, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.entries[key]
	if !ok {
		set = make(map[string]externalValue)
		s.entries[key] = set
	}
	set[string(value)] = externalValue{value: value, expires: now.Add(s.ttl)}
}

// Get returns every non-expired value bound to key as of now.
func (s *External) Get(key kbucket.ID, now time.Time) [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.entries[key]
	if !ok {
		return nil
	}
	var out [][]byte
	for _, ev := range set {
		if !now.After(ev.expires) {
			out = append(out, ev.value)
		}
	}
	return out
}

// Sweep drops every value expired as of now, compacting empty keys and
// returning how many values were reaped. Intended to run alongside the
// republisher's periodic tick.
func (s *External) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, set := range s.entries {
		for v, ev := range set {
			if now.After(ev.expires) {
				delete(set, v)
				n++
			}
		}
		if len(set) == 0 {
			delete(s.entries, key)
		}
	}
	return n
}

// Len reports the current total value count across all keys, expired or
// not (used by tests).
func (s *External) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, set := range s.entries {
		n += len(set)
	}
	return n
}
