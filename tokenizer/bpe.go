package tokenizer

import (
	"cmp"
	"math"
	"slices"

	heap "github.com/emirpasic/gods/v2/trees/binaryheap"
)

// segments at least this long are merged with a priority queue instead of
// rescanning every pair after each merge
const heapMergeThreshold = 64

type mergeEngine struct {
	vocab *Vocabulary
	cache mergeCache
}

// merge splits a byte-encoded segment into its BPE pieces. Results are
// cached by content and the returned slice is shared with the cache.
func (e *mergeEngine) merge(token []rune) []string {
	if len(token) == 0 {
		return []string{}
	}

	if pieces, ok := e.cache.Get(token); ok {
		return pieces
	}

	var pieces []string
	switch {
	case len(token) == 1:
		pieces = []string{symbol(token[0])}
	case len(token) >= heapMergeThreshold:
		pieces = e.mergeHeap(token)
	default:
		pieces = e.mergeLinear(token)
	}

	e.cache.Set(token, pieces)
	return pieces
}

// mergeLinear repeatedly finds the lowest ranked adjacent pair, the first
// one on ties, and merges every non-overlapping occurrence of it from left
// to right.
func (e *mergeEngine) mergeLinear(token []rune) []string {
	buf := stringPool.get(len(token))
	defer stringPool.put(buf)

	syms := *buf
	for _, r := range token {
		syms = append(syms, symbol(r))
	}

	for len(syms) > 1 {
		best, rank := -1, math.MaxInt
		for i := range len(syms) - 1 {
			if r := e.vocab.Merge(syms[i], syms[i+1]); r >= 0 && r < rank {
				best, rank = i, r
			}
		}

		if best < 0 {
			break
		}

		left, right := syms[best], syms[best+1]
		merged := left + right

		// nothing before best matches, so rewrite in place from there
		w := best
		for i := best; i < len(syms); {
			if i+1 < len(syms) && syms[i] == left && syms[i+1] == right {
				syms[w] = merged
				i += 2
			} else {
				syms[w] = syms[i]
				i++
			}
			w++
		}

		clear(syms[w:])
		syms = syms[:w]
	}

	*buf = syms
	return slices.Clone(syms)
}

// candidate is an adjacent pair queued for merging. It goes stale once
// either side takes part in another merge.
type candidate struct {
	rank        int
	pos         int
	left, right string
}

// mergeHeap produces the same pieces as mergeLinear. All candidates of the
// lowest rank are applied in position order before any pair they create is
// queued, since a new pair may outrank the rest of the generation.
func (e *mergeEngine) mergeHeap(token []rune) []string {
	n := len(token)
	syms := make([]string, n)
	prev := make([]int, n)
	next := make([]int, n)
	for i, r := range token {
		syms[i] = symbol(r)
		prev[i] = i - 1
		next[i] = i + 1
	}

	pairs := heap.NewWith(func(a, b *candidate) int {
		if c := cmp.Compare(a.rank, b.rank); c != 0 {
			return c
		}

		return cmp.Compare(a.pos, b.pos)
	})

	push := func(a, b int) {
		if a < 0 || b >= n {
			return
		}

		if rank := e.vocab.Merge(syms[a], syms[b]); rank >= 0 {
			pairs.Push(&candidate{rank: rank, pos: a, left: syms[a], right: syms[b]})
		}
	}

	valid := func(c *candidate) bool {
		return syms[c.pos] == c.left && next[c.pos] < n && syms[next[c.pos]] == c.right
	}

	apply := func(c *candidate) {
		r := next[c.pos]
		syms[c.pos] = c.left + c.right
		syms[r] = ""
		next[c.pos] = next[r]
		if next[r] < n {
			prev[next[r]] = c.pos
		}
	}

	for i := range n - 1 {
		push(i, i+1)
	}

	merged := intPool.get(n)
	defer intPool.put(merged)

	for !pairs.Empty() {
		c, _ := pairs.Pop()
		if !valid(c) {
			continue
		}

		apply(c)
		*merged = append((*merged)[:0], c.pos)

		for {
			top, ok := pairs.Peek()
			if !ok || top.rank != c.rank {
				break
			}

			pairs.Pop()
			if valid(top) {
				apply(top)
				*merged = append(*merged, top.pos)
			}
		}

		for _, pos := range *merged {
			push(prev[pos], pos)
			push(pos, next[pos])
		}
	}

	pieces := make([]string, 0, n)
	for i := 0; i < n; i = next[i] {
		pieces = append(pieces, syms[i])
	}

	return pieces
}
