package spanmap

import (
	"fmt"
	"iter"
	"math"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
)

const (
	defaultCapacity = 31
	maxLockNumber   = 1024
)

type node[K Symbol, V any] struct {
	key   []K
	value V
	hash  uint64
	next  atomic.Pointer[node[K, V]]
}

func newNode[K Symbol, V any](key []K, value V, h uint64, next *node[K, V]) *node[K, V] {
	n := &node[K, V]{key: key, value: value, hash: h}
	n.next.Store(next)
	return n
}

// tables is one generation of the map. It is never resized in place: a
// resize builds a new generation and publishes it with a single store.
type tables[K Symbol, V any] struct {
	buckets []atomic.Pointer[node[K, V]]

	// locks[i] guards every bucket b with b%len(locks) == i. Generations
	// share their lock prefix, so locks[0] is the same mutex for all of them.
	locks []*sync.Mutex

	// counts[i] is the number of entries under locks[i]
	counts []atomic.Int64
}

func newTables[K Symbol, V any](size int, locks []*sync.Mutex) *tables[K, V] {
	return &tables[K, V]{
		buckets: make([]atomic.Pointer[node[K, V]], size),
		locks:   locks,
		counts:  make([]atomic.Int64, len(locks)),
	}
}

func (t *tables[K, V]) bucket(h uint64) (*atomic.Pointer[node[K, V]], int) {
	b := h % uint64(len(t.buckets))
	return &t.buckets[b], int(b % uint64(len(t.locks)))
}

func (t *tables[K, V]) count() int {
	var n int64
	for i := range t.counts {
		n += t.counts[i].Load()
	}

	return int(n)
}

// ConcurrentMap is a lock-striped hash map keyed by []K, safe for any number
// of concurrent readers and writers. Reads never block. Writes lock only the
// stripe that owns the key's bucket.
type ConcurrentMap[K Symbol, V any] struct {
	tables atomic.Pointer[tables[K, V]]

	// budget is the per-stripe entry count that triggers a resize
	budget    atomic.Int64
	growLocks bool
}

// NewConcurrent returns a map with the given number of lock stripes and
// initial capacity. A concurrency of zero or less starts with one stripe per
// GOMAXPROCS and lets the stripe count double on resize up to 1024.
func NewConcurrent[K Symbol, V any](concurrency, capacity int) *ConcurrentMap[K, V] {
	growLocks := false
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
		growLocks = true
	}

	if capacity <= 0 {
		capacity = defaultCapacity
	}

	capacity = getPrime(max(capacity, concurrency))

	locks := make([]*sync.Mutex, concurrency)
	for i := range locks {
		locks[i] = &sync.Mutex{}
	}

	m := &ConcurrentMap[K, V]{growLocks: growLocks}
	m.tables.Store(newTables[K, V](capacity, locks))
	m.budget.Store(int64(max(1, capacity/concurrency)))
	return m
}

// Get returns the value stored for key. It takes no locks and observes the
// most recently published generation.
func (m *ConcurrentMap[K, V]) Get(key []K) (V, bool) {
	h := hash(key)
	bucket, _ := m.tables.Load().bucket(h)
	for n := bucket.Load(); n != nil; n = n.next.Load() {
		if n.hash == h && slices.Equal(n.key, key) {
			return n.value, true
		}
	}

	var zero V
	return zero, false
}

// Value is like Get but reports a missing key as ErrKeyNotFound.
func (m *ConcurrentMap[K, V]) Value(key []K) (V, error) {
	v, ok := m.Get(key)
	if !ok {
		return v, fmt.Errorf("%w: %v", ErrKeyNotFound, key)
	}

	return v, nil
}

func (m *ConcurrentMap[K, V]) Contains(key []K) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores value under key, replacing any existing value.
func (m *ConcurrentMap[K, V]) Set(key []K, value V) {
	m.add(key, value, true)
}

// TryAdd stores value only if key is absent and reports whether it did.
func (m *ConcurrentMap[K, V]) TryAdd(key []K, value V) bool {
	return m.add(key, value, false)
}

func (m *ConcurrentMap[K, V]) add(key []K, value V, update bool) bool {
	h := hash(key)
	t := m.tables.Load()
	for {
		bucket, lockNo := t.bucket(h)
		lock := t.locks[lockNo]
		lock.Lock()

		// a resize published a new generation after we picked the stripe
		if current := m.tables.Load(); current != t {
			lock.Unlock()
			t = current
			continue
		}

		added, full := m.addLocked(t, bucket, lockNo, h, key, value, update)
		lock.Unlock()

		if full {
			m.grow(t)
		}

		return added
	}
}

func (m *ConcurrentMap[K, V]) addLocked(t *tables[K, V], bucket *atomic.Pointer[node[K, V]], lockNo int, h uint64, key []K, value V, update bool) (added, full bool) {
	var prev *node[K, V]
	for n := bucket.Load(); n != nil; n = n.next.Load() {
		if n.hash == h && slices.Equal(n.key, key) {
			if update {
				// replace rather than mutate so lock-free readers never see a torn value
				replacement := newNode(n.key, value, h, n.next.Load())
				if prev == nil {
					bucket.Store(replacement)
				} else {
					prev.next.Store(replacement)
				}
			}

			return false, false
		}

		prev = n
	}

	bucket.Store(newNode(slices.Clone(key), value, h, bucket.Load()))
	return true, t.counts[lockNo].Add(1) > m.budget.Load()
}

// Delete removes key and returns its value.
func (m *ConcurrentMap[K, V]) Delete(key []K) (V, bool) {
	h := hash(key)
	t := m.tables.Load()
	for {
		bucket, lockNo := t.bucket(h)
		lock := t.locks[lockNo]
		lock.Lock()

		if current := m.tables.Load(); current != t {
			lock.Unlock()
			t = current
			continue
		}

		v, ok := t.deleteLocked(bucket, lockNo, h, key)
		lock.Unlock()
		return v, ok
	}
}

func (t *tables[K, V]) deleteLocked(bucket *atomic.Pointer[node[K, V]], lockNo int, h uint64, key []K) (V, bool) {
	var prev *node[K, V]
	for n := bucket.Load(); n != nil; n = n.next.Load() {
		if n.hash == h && slices.Equal(n.key, key) {
			if prev == nil {
				bucket.Store(n.next.Load())
			} else {
				prev.next.Store(n.next.Load())
			}

			if t.counts[lockNo].Add(-1) < 0 {
				panic(ErrConcurrentUse)
			}

			return n.value, true
		}

		prev = n
	}

	var zero V
	return zero, false
}

// grow replaces t with a larger generation, or raises the stripe budget when
// t is sparse enough that the hash distribution, not the size, is to blame.
func (m *ConcurrentMap[K, V]) grow(t *tables[K, V]) {
	// locks[0] is shared by every generation and serializes resizers
	t.locks[0].Lock()
	acquired := 1
	defer func() {
		for _, lock := range t.locks[:acquired] {
			lock.Unlock()
		}
	}()

	if m.tables.Load() != t {
		return
	}

	if t.count() < len(t.buckets)/4 {
		budget := m.budget.Load()
		if budget > math.MaxInt64/2 {
			m.budget.Store(math.MaxInt64)
		} else {
			m.budget.Store(2 * budget)
		}
		return
	}

	size := expandPrime(len(t.buckets))
	locks := t.locks
	if m.growLocks && len(locks) < maxLockNumber {
		locks = make([]*sync.Mutex, 2*len(t.locks))
		copy(locks, t.locks)
		for i := len(t.locks); i < len(locks); i++ {
			locks[i] = &sync.Mutex{}
		}
	}

	next := newTables[K, V](size, locks)

	for _, lock := range t.locks[1:] {
		lock.Lock()
		acquired++
	}

	for i := range t.buckets {
		for n := t.buckets[i].Load(); n != nil; n = n.next.Load() {
			bucket, lockNo := next.bucket(n.hash)
			// fresh nodes keep the old generation's chains intact for readers still walking them
			bucket.Store(newNode(n.key, n.value, n.hash, bucket.Load()))
			next.counts[lockNo].Add(1)
		}
	}

	if size == maxPrimeArrayLength {
		m.budget.Store(math.MaxInt64)
	} else {
		m.budget.Store(int64(max(1, size/len(locks))))
	}

	m.tables.Store(next)
}

// lockAll acquires every stripe of the current generation in ascending
// order. Holding locks[0] keeps resizers out, so the generation returned
// stays current until release is called.
func (m *ConcurrentMap[K, V]) lockAll() (t *tables[K, V], release func()) {
	m.tables.Load().locks[0].Lock()
	t = m.tables.Load()
	for _, lock := range t.locks[1:] {
		lock.Lock()
	}

	return t, func() {
		for _, lock := range t.locks {
			lock.Unlock()
		}
	}
}

// Len returns the number of entries. It briefly holds every stripe.
func (m *ConcurrentMap[K, V]) Len() int {
	t, release := m.lockAll()
	defer release()
	return t.count()
}

// Clear removes all entries and shrinks the map to its default size.
func (m *ConcurrentMap[K, V]) Clear() {
	t, release := m.lockAll()
	defer release()

	if t.count() == 0 {
		return
	}

	next := newTables[K, V](getPrime(defaultCapacity), t.locks)
	m.tables.Store(next)
	m.budget.Store(int64(max(1, len(next.buckets)/len(next.locks))))
}

// Pair is a key and value copied out of a map.
type Pair[K Symbol, V any] struct {
	Key   []K
	Value V
}

// Snapshot returns a consistent copy of every entry, holding all stripes
// while it is taken.
func (m *ConcurrentMap[K, V]) Snapshot() []Pair[K, V] {
	t, release := m.lockAll()
	defer release()

	pairs := make([]Pair[K, V], 0, t.count())
	for i := range t.buckets {
		for n := t.buckets[i].Load(); n != nil; n = n.next.Load() {
			pairs = append(pairs, Pair[K, V]{Key: slices.Clone(n.key), Value: n.value})
		}
	}

	return pairs
}

// All iterates without locking. It never fails under concurrent writes but
// may or may not observe entries added or removed while it runs.
func (m *ConcurrentMap[K, V]) All() iter.Seq2[[]K, V] {
	return func(yield func([]K, V) bool) {
		t := m.tables.Load()
		for i := range t.buckets {
			for n := t.buckets[i].Load(); n != nil; n = n.next.Load() {
				if !yield(n.key, n.value) {
					return
				}
			}
		}
	}
}

// Stripes returns the current number of lock stripes.
func (m *ConcurrentMap[K, V]) Stripes() int {
	return len(m.tables.Load().locks)
}
