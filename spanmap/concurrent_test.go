package spanmap

import (
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestConcurrentMapBasic(t *testing.T) {
	m := NewConcurrent[rune, string](4, 0)

	key := []rune("merge")
	require.True(t, m.TryAdd(key, "a"))
	require.False(t, m.TryAdd([]rune("merge"), "b"))

	key[0] = 'x'
	v, ok := m.Get([]rune("merge"))
	require.True(t, ok)
	require.Equal(t, "a", v)

	m.Set([]rune("merge"), "c")
	v, err := m.Value([]rune("merge"))
	require.NoError(t, err)
	require.Equal(t, "c", v)
	require.Equal(t, 1, m.Len())

	_, err = m.Value([]rune("absent"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	v, ok = m.Delete([]rune("merge"))
	require.True(t, ok)
	require.Equal(t, "c", v)
	require.False(t, m.Contains([]rune("merge")))
	require.Zero(t, m.Len())

	_, ok = m.Delete([]rune("merge"))
	require.False(t, ok)
}

func TestConcurrentMapResize(t *testing.T) {
	m := NewConcurrent[byte, int](2, 7)
	initial := len(m.tables.Load().buckets)

	const n = 2000
	for i := range n {
		m.Set([]byte(fmt.Sprintf("k%d", i)), i)
	}

	require.Equal(t, n, m.Len())
	require.Greater(t, len(m.tables.Load().buckets), initial)
	// an explicit concurrency level pins the stripe count
	require.Equal(t, 2, m.Stripes())

	for i := range n {
		v, ok := m.Get([]byte(fmt.Sprintf("k%d", i)))
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestConcurrentMapGrowLocks(t *testing.T) {
	m := NewConcurrent[byte, int](0, 0)
	stripes := m.Stripes()
	first := m.tables.Load().locks[0]

	for i := range 10000 {
		m.Set([]byte(fmt.Sprintf("k%d", i)), i)
	}

	require.Greater(t, m.Stripes(), stripes)
	require.LessOrEqual(t, m.Stripes(), maxLockNumber)
	require.Equal(t, 10000, m.Len())

	// every generation keeps the first lock 0
	require.Same(t, first, m.tables.Load().locks[0])
}

func TestConcurrentMapBudgetDoubling(t *testing.T) {
	m := NewConcurrent[byte, int](1, 131)
	budget := m.budget.Load()
	size := len(m.tables.Load().buckets)

	// a sparse table that trips the budget has its budget doubled instead of growing
	m.budget.Store(1)
	m.Set([]byte("a"), 1)
	m.Set([]byte("b"), 2)

	require.Equal(t, size, len(m.tables.Load().buckets))
	require.Equal(t, int64(2), m.budget.Load())
	require.NotEqual(t, budget, m.budget.Load())
}

func TestConcurrentMapClear(t *testing.T) {
	m := NewConcurrent[byte, int](4, 0)
	for i := range 500 {
		m.Set([]byte{byte(i), byte(i >> 8)}, i)
	}

	m.Clear()
	require.Zero(t, m.Len())
	require.Equal(t, 37, len(m.tables.Load().buckets))

	m.Set([]byte("x"), 1)
	require.Equal(t, 1, m.Len())
}

func TestConcurrentMapSnapshot(t *testing.T) {
	m := NewConcurrent[byte, int](4, 0)
	for _, k := range []string{"a", "b", "c"} {
		m.Set([]byte(k), int(k[0]))
	}

	pairs := m.Snapshot()
	var keys []string
	for _, p := range pairs {
		keys = append(keys, string(p.Key))
		require.Equal(t, int(p.Key[0]), p.Value)
	}
	slices.Sort(keys)
	require.Equal(t, []string{"a", "b", "c"}, keys)

	var seen int
	for range m.All() {
		seen++
	}
	require.Equal(t, 3, seen)
}

func TestConcurrentMapCorruptCount(t *testing.T) {
	m := NewConcurrent[byte, int](1, 0)
	m.Set([]byte("a"), 1)
	m.tables.Load().counts[0].Store(0)

	require.PanicsWithValue(t, ErrConcurrentUse, func() {
		m.Delete([]byte("a"))
	})
}

func TestConcurrentMapStress(t *testing.T) {
	for _, workers := range []int{1, 2, 4, 8, 16} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			for range 3 {
				m := NewConcurrent[rune, int](0, 0)

				const perWorker = 1000
				var g errgroup.Group
				for w := range workers {
					g.Go(func() error {
						for i := range perWorker {
							key := []rune(fmt.Sprintf("w%d-%d", w, i))
							m.Set(key, i)
							if v, ok := m.Get(key); !ok || v != i {
								return fmt.Errorf("lost %s", string(key))
							}

							// every third key is removed again
							if i%3 == 0 {
								if _, ok := m.Delete(key); !ok {
									return fmt.Errorf("missing %s", string(key))
								}
							}
						}
						return nil
					})
				}

				// a lock-free reader runs alongside the writers
				g.Go(func() error {
					for range 50 {
						for k, v := range m.All() {
							if !strings.HasPrefix(string(k), "w") || v < 0 {
								return fmt.Errorf("bad entry %s=%d", string(k), v)
							}
						}
					}
					return nil
				})

				require.NoError(t, g.Wait())

				surviving := perWorker - (perWorker+2)/3
				assert.Equal(t, workers*surviving, m.Len())
				assert.Len(t, m.Snapshot(), workers*surviving)
			}
		})
	}
}

func TestConcurrentMapSharedKeys(t *testing.T) {
	m := NewConcurrent[byte, int](0, 0)

	var g errgroup.Group
	for w := range 8 {
		g.Go(func() error {
			for i := range 500 {
				m.Set([]byte(fmt.Sprint(i)), w)
			}
			return nil
		})
	}

	require.NoError(t, g.Wait())
	require.Equal(t, 500, m.Len())
}

func BenchmarkConcurrentMapGet(b *testing.B) {
	m := NewConcurrent[rune, int](0, 0)
	for i := range 10000 {
		m.Set([]rune(fmt.Sprintf("token%d", i)), i)
	}

	key := []rune("token4242")
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Get(key)
		}
	})
}
