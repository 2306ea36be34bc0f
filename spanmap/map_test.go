package spanmap

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapBorrowedKeys(t *testing.T) {
	m := New[rune, int](0)

	key := []rune("hello")
	m.Set(key, 1)

	// mutating the caller's slice must not affect the stored key
	key[0] = 'j'
	_, ok := m.Get(key)
	require.False(t, ok)

	v, ok := m.Get([]rune("hello"))
	require.True(t, ok)
	require.Equal(t, 1, v)

	// distinct backing arrays with equal content hit the same entry
	text := []rune("say hello there")
	v, ok = m.Get(text[4:9])
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestMapUpsert(t *testing.T) {
	m := New[byte, string](4)
	m.Set([]byte("k"), "a")
	m.Set([]byte("k"), "b")

	require.Equal(t, 1, m.Len())
	v, err := m.Value([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "b", v)
}

func TestMapValueNotFound(t *testing.T) {
	var m Map[byte, int]
	_, err := m.Value([]byte("missing"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	_, ok := m.Get(nil)
	require.False(t, ok)
	require.False(t, m.Delete([]byte("missing")))
}

func TestMapZeroValue(t *testing.T) {
	var m Map[rune, int]
	m.Set([]rune("a"), 1)
	require.True(t, m.Delete([]rune("a")))
	m.Set([]rune("b"), 2)
	require.Equal(t, 1, m.Len())
	require.True(t, m.Contains([]rune("b")))
}

func TestMapGrowth(t *testing.T) {
	m := New[byte, int](0)
	const n = 5000
	for i := range n {
		m.Set([]byte(fmt.Sprintf("key-%d", i)), i)
	}

	require.Equal(t, n, m.Len())
	require.GreaterOrEqual(t, m.Cap(), n)
	require.True(t, isPrime(m.Cap()))

	for i := range n {
		v, ok := m.Get([]byte(fmt.Sprintf("key-%d", i)))
		require.True(t, ok, i)
		require.Equal(t, i, v)
	}
}

func TestMapFreeListReuse(t *testing.T) {
	m := New[byte, int](10)
	for i := range 10 {
		m.Set([]byte{byte(i)}, i)
	}

	capacity := m.Cap()
	for i := 0; i < 10; i += 2 {
		require.True(t, m.Delete([]byte{byte(i)}))
	}
	require.Equal(t, 5, m.Len())

	// deleted slots are reused before the table grows
	for i := 10; i < 15; i++ {
		m.Set([]byte{byte(i)}, i)
	}
	require.Equal(t, 10, m.Len())
	require.Equal(t, capacity, m.Cap())

	for i := range 15 {
		_, ok := m.Get([]byte{byte(i)})
		assert.Equal(t, i%2 == 1 || i >= 10, ok, i)
	}
}

func TestMapDeleteChain(t *testing.T) {
	// a tiny table forces long chains; delete from the head, middle and tail
	m := New[byte, int](3)
	keys := []string{"a", "b", "c", "d", "e", "f", "g"}
	for i, k := range keys {
		m.Set([]byte(k), i)
	}

	for _, k := range []string{"d", "a", "g"} {
		require.True(t, m.Delete([]byte(k)))
		require.False(t, m.Contains([]byte(k)))
	}

	var got []string
	for k := range m.All() {
		got = append(got, string(k))
	}
	slices.Sort(got)
	require.Equal(t, []string{"b", "c", "e", "f"}, got)
}

func TestMapClear(t *testing.T) {
	m := New[byte, int](0)
	for i := range 100 {
		m.Set([]byte{byte(i)}, i)
	}

	capacity := m.Cap()
	m.Clear()
	require.Zero(t, m.Len())
	require.Equal(t, capacity, m.Cap())
	require.False(t, m.Contains([]byte{1}))

	m.Set([]byte{1}, 1)
	require.Equal(t, 1, m.Len())
}

func TestMapEnsureCapacityAndTrim(t *testing.T) {
	m := New[byte, int](0)
	require.Equal(t, 1103, m.EnsureCapacity(1000))
	require.Equal(t, 1103, m.EnsureCapacity(10))

	for i := range 20 {
		m.Set([]byte{byte(i)}, i)
	}
	for i := range 15 {
		m.Delete([]byte{byte(i)})
	}

	m.TrimExcess()
	require.Equal(t, 7, m.Cap())
	require.Equal(t, 5, m.Len())
	for i := 15; i < 20; i++ {
		v, ok := m.Get([]byte{byte(i)})
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestMapAllModified(t *testing.T) {
	m := New[byte, int](0)
	m.Set([]byte("a"), 1)
	m.Set([]byte("b"), 2)

	require.PanicsWithValue(t, ErrModified, func() {
		for range m.All() {
			m.Set([]byte("c"), 3)
		}
	})

	// overwriting a value is not a structural change
	require.NotPanics(t, func() {
		for k, v := range m.All() {
			m.Set(k, v+1)
		}
	})
}

func TestMapCorruptChain(t *testing.T) {
	m := New[byte, int](0)
	m.Set([]byte("a"), 1)

	// simulate a torn concurrent write that linked an entry to itself
	i := m.find([]byte("a"))
	m.entries[i].next = i
	m.entries[i].hash ^= 1

	require.PanicsWithValue(t, ErrConcurrentUse, func() {
		m.Get([]byte("a"))
	})
}

func TestMapReadersWithWriter(t *testing.T) {
	m := New[byte, int](0)
	keys := make([][]byte, 256)
	for i := range keys {
		keys[i] = []byte(strings.Repeat("x", i%7) + fmt.Sprint(i))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i, k := range keys {
			m.Set(k, i)
		}
	}()

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, k := range keys {
				if v, ok := m.Get(k); ok {
					assert.Equal(t, k, keys[v])
				}
			}
		}()
	}

	wg.Wait()
	require.Equal(t, len(keys), m.Len())
}

func TestPrimes(t *testing.T) {
	require.Equal(t, 3, getPrime(0))
	require.Equal(t, 37, getPrime(31))
	require.Equal(t, 7199369, getPrime(7199369))

	p := getPrime(7199370)
	require.Greater(t, p, 7199369)
	require.True(t, isPrime(p))
	require.NotZero(t, (p-1)%hashPrime)

	require.Equal(t, 7, expandPrime(3))
	require.Equal(t, maxPrimeArrayLength, expandPrime(maxPrimeArrayLength-2))
}

func BenchmarkMapGet(b *testing.B) {
	m := New[rune, int](0)
	for i := range 10000 {
		m.Set([]rune(fmt.Sprintf("token%d", i)), i)
	}

	key := []rune("token4242")
	b.ReportAllocs()
	b.ResetTimer()
	for range b.N {
		m.Get(key)
	}
}
