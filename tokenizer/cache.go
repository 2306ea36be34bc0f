package tokenizer

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jmorganca/bpetok/spanmap"
)

// mergeCache remembers the merge result of each distinct byte-encoded
// segment. Cached slices are shared and must not be modified.
type mergeCache interface {
	Get(token []rune) ([]string, bool)
	Set(token []rune, pieces []string)
	Len() int
	Clear()
}

var (
	_ mergeCache = (*spanmap.Map[rune, []string])(nil)
	_ mergeCache = (*concurrentCache)(nil)
	_ mergeCache = (*lruCache)(nil)
)

type concurrentCache struct {
	*spanmap.ConcurrentMap[rune, []string]
}

// Set keeps the first result stored for a token. Racing encoders compute
// identical pieces so either one is correct.
func (c concurrentCache) Set(token []rune, pieces []string) {
	c.TryAdd(token, pieces)
}

// lruCache bounds the number of cached segments, evicting the least
// recently used. It is safe for concurrent use.
type lruCache struct {
	c *lru.Cache[string, []string]
}

func newLRUCache(size int) (*lruCache, error) {
	c, err := lru.New[string, []string](size)
	if err != nil {
		return nil, err
	}

	return &lruCache{c: c}, nil
}

func (l *lruCache) Get(token []rune) ([]string, bool) {
	return l.c.Get(string(token))
}

func (l *lruCache) Set(token []rune, pieces []string) {
	l.c.Add(string(token), pieces)
}

func (l *lruCache) Len() int {
	return l.c.Len()
}

func (l *lruCache) Clear() {
	l.c.Purge()
}
