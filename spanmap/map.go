// Package spanmap provides hash maps keyed by borrowed slices. Lookups hash
// and compare the caller's slice in place; a key is copied only when a new
// entry is stored.
package spanmap

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
)

var (
	ErrKeyNotFound = errors.New("spanmap: key not found")

	// ErrConcurrentUse is raised with panic when a collision chain loops or
	// per-stripe bookkeeping goes negative. Both mean the map was mutated
	// without the required synchronization and its state can't be trusted.
	ErrConcurrentUse = errors.New("spanmap: concurrent operations not supported")

	// ErrModified is raised with panic when a map changes while All is
	// iterating over it.
	ErrModified = errors.New("spanmap: map modified during iteration")
)

// next values below this mark the entry as part of the free list
const startOfFreeList = -3

type entry[K Symbol, V any] struct {
	hash uint64
	// next is the index of the following entry in the chain, -1 at the end
	// of a chain, or startOfFreeList-i for a free slot whose successor on
	// the free list is i.
	next  int
	key   []K
	value V
}

// Map is a chained hash table keyed by []K. Entries live in a single slice
// and chains link them by index, so the table holds no per-entry heap nodes.
//
// Map is safe for any number of concurrent readers alongside a single
// writer. Concurrent writers must be serialized by the caller. The zero
// value is an empty map ready to use.
type Map[K Symbol, V any] struct {
	mu sync.RWMutex

	// buckets hold 1-based indexes into entries; 0 is an empty bucket
	buckets []int
	entries []entry[K, V]

	count     int
	freeList  int
	freeCount int
	version   uint64
}

// New returns a map with room for at least capacity entries.
func New[K Symbol, V any](capacity int) *Map[K, V] {
	m := &Map[K, V]{freeList: -1}
	if capacity > 0 {
		m.initialize(capacity)
	}

	return m
}

func (m *Map[K, V]) initialize(capacity int) int {
	size := getPrime(capacity)
	m.buckets = make([]int, size)
	m.entries = make([]entry[K, V], size)
	m.freeList = -1
	return size
}

func (m *Map[K, V]) bucket(h uint64) *int {
	return &m.buckets[h%uint64(len(m.buckets))]
}

// find returns the index of key in entries or -1. Callers hold m.mu.
func (m *Map[K, V]) find(key []K) int {
	if m.buckets == nil {
		return -1
	}

	h := hash(key)
	entries := m.entries
	i := *m.bucket(h) - 1
	for collisions := 0; uint(i) < uint(len(entries)); {
		if e := &entries[i]; e.hash == h && slices.Equal(e.key, key) {
			return i
		}

		i = entries[i].next
		collisions++
		if collisions > len(entries) {
			panic(ErrConcurrentUse)
		}
	}

	return -1
}

// Get returns the value stored for key.
func (m *Map[K, V]) Get(key []K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if i := m.find(key); i >= 0 {
		return m.entries[i].value, true
	}

	var zero V
	return zero, false
}

// Value is like Get but reports a missing key as ErrKeyNotFound.
func (m *Map[K, V]) Value(key []K) (V, error) {
	v, ok := m.Get(key)
	if !ok {
		return v, fmt.Errorf("%w: %v", ErrKeyNotFound, key)
	}

	return v, nil
}

func (m *Map[K, V]) Contains(key []K) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores value under key, replacing any existing value. key is copied
// only if it is not already present.
func (m *Map[K, V]) Set(key []K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insert(key, value)
}

func (m *Map[K, V]) insert(key []K, value V) {
	if m.buckets == nil {
		m.initialize(0)
	}

	h := hash(key)
	bucket := m.bucket(h)
	i := *bucket - 1
	for collisions := 0; uint(i) < uint(len(m.entries)); {
		e := &m.entries[i]
		if e.hash == h && slices.Equal(e.key, key) {
			e.value = value
			return
		}

		i = e.next
		collisions++
		if collisions > len(m.entries) {
			panic(ErrConcurrentUse)
		}
	}

	var index int
	if m.freeCount > 0 {
		index = m.freeList
		m.freeList = startOfFreeList - m.entries[index].next
		m.freeCount--
	} else {
		if m.count == len(m.entries) {
			m.resize(expandPrime(m.count))
			bucket = m.bucket(h)
		}

		index = m.count
		m.count++
	}

	m.entries[index] = entry[K, V]{
		hash:  h,
		next:  *bucket - 1,
		key:   slices.Clone(key),
		value: value,
	}
	*bucket = index + 1
	m.version++
}

func (m *Map[K, V]) resize(size int) {
	entries := make([]entry[K, V], size)
	copy(entries, m.entries[:m.count])

	m.buckets = make([]int, size)
	m.entries = entries
	for i := range m.count {
		if entries[i].next >= -1 {
			bucket := m.bucket(entries[i].hash)
			entries[i].next = *bucket - 1
			*bucket = i + 1
		}
	}
}

// Delete removes key and reports whether it was present. The freed slot is
// reused by a later insert.
func (m *Map[K, V]) Delete(key []K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.buckets == nil {
		return false
	}

	h := hash(key)
	bucket := m.bucket(h)
	last := -1
	i := *bucket - 1
	for collisions := 0; i >= 0; {
		e := &m.entries[i]
		if e.hash == h && slices.Equal(e.key, key) {
			if last < 0 {
				*bucket = e.next + 1
			} else {
				m.entries[last].next = e.next
			}

			*e = entry[K, V]{next: startOfFreeList - m.freeList}
			m.freeList = i
			m.freeCount++
			m.version++
			return true
		}

		last = i
		i = e.next
		collisions++
		if collisions > len(m.entries) {
			panic(ErrConcurrentUse)
		}
	}

	return false
}

// Len returns the number of live entries.
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count - m.freeCount
}

// Cap returns the number of entries the map holds before it must grow.
func (m *Map[K, V]) Cap() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Clear removes all entries but keeps the allocated storage.
func (m *Map[K, V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count > 0 {
		clear(m.buckets)
		clear(m.entries[:m.count])
		m.count = 0
		m.freeList = -1
		m.freeCount = 0
		m.version++
	}
}

// EnsureCapacity grows the map so it holds at least capacity entries
// without resizing and returns the resulting capacity.
func (m *Map[K, V]) EnsureCapacity(capacity int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) >= capacity {
		return len(m.entries)
	}

	m.version++
	if m.buckets == nil {
		return m.initialize(capacity)
	}

	size := getPrime(capacity)
	m.resize(size)
	return size
}

// TrimExcess shrinks storage to fit the live entries, compacting away any
// free slots.
func (m *Map[K, V]) TrimExcess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := getPrime(m.count - m.freeCount)
	if size >= len(m.entries) {
		return
	}

	old, count := m.entries, m.count
	m.version++
	m.initialize(size)

	n := 0
	for i := range count {
		if old[i].next >= -1 {
			e := &m.entries[n]
			*e = old[i]
			bucket := m.bucket(e.hash)
			e.next = *bucket - 1
			*bucket = n + 1
			n++
		}
	}

	m.count = n
	m.freeCount = 0
}

// All iterates over the live entries in slot order. The yielded key is owned
// by the map and must not be modified. The map may be read while iterating
// but any insert or delete panics the iteration with ErrModified.
func (m *Map[K, V]) All() iter.Seq2[[]K, V] {
	return func(yield func([]K, V) bool) {
		m.mu.RLock()
		version := m.version
		m.mu.RUnlock()

		for i := 0; ; i++ {
			m.mu.RLock()
			if m.version != version {
				m.mu.RUnlock()
				panic(ErrModified)
			}

			if i >= m.count {
				m.mu.RUnlock()
				return
			}

			e := m.entries[i]
			m.mu.RUnlock()

			if e.next >= -1 && !yield(e.key, e.value) {
				return
			}
		}
	}
}
