// Package cache provides bounded caches whose entries are only valid while
// the modification time of the thing they describe is unchanged.
package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry[V any] struct {
	value   V
	modTime time.Time
}

// Store is a size-bounded LRU keyed by K. Every entry remembers the
// modification time it was built from; a lookup with a different
// modification time misses and evicts the stale entry.
// Safe for concurrent use.
type Store[K comparable, V any] struct {
	lru *lru.Cache[K, entry[V]]
}

// New creates a Store holding at most size entries.
func New[K comparable, V any](size int) (*Store[K, V], error) {
	c, err := lru.New[K, entry[V]](size)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	return &Store[K, V]{lru: c}, nil
}

// Get returns the value for key if it was stored with exactly modTime.
func (s *Store[K, V]) Get(key K, modTime time.Time) (V, bool) {
	e, ok := s.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if !e.modTime.Equal(modTime) {
		s.lru.Remove(key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value for key, stamped with modTime.
func (s *Store[K, V]) Put(key K, modTime time.Time, value V) {
	s.lru.Add(key, entry[V]{value: value, modTime: modTime})
}

// Remove drops the entry for key, if any.
func (s *Store[K, V]) Remove(key K) {
	s.lru.Remove(key)
}

// RemoveFunc drops every entry whose key satisfies match.
func (s *Store[K, V]) RemoveFunc(match func(K) bool) int {
	n := 0
	for _, k := range s.lru.Keys() {
		if match(k) {
			if s.lru.Remove(k) {
				n++
			}
		}
	}
	return n
}

// Len returns the number of cached entries.
func (s *Store[K, V]) Len() int {
	return s.lru.Len()
}

// Purge drops all entries.
func (s *Store[K, V]) Purge() {
	s.lru.Purge()
}
