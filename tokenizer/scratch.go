package tokenizer

import "sync"

// maxScratch is the largest capacity returned to a pool. Bigger buffers
// are left for the garbage collector so one huge input can't pin memory.
const maxScratch = 1 << 16

// scratch is a pool of reusable slices. get returns an empty slice; callers
// defer put on the same pointer so the possibly regrown slice is recycled.
type scratch[T any] struct {
	pool sync.Pool
}

func (s *scratch[T]) get(n int) *[]T {
	if p, ok := s.pool.Get().(*[]T); ok {
		if cap(*p) >= n {
			*p = (*p)[:0]
			return p
		}

		s.pool.Put(p)
	}

	b := make([]T, 0, max(n, 64))
	return &b
}

func (s *scratch[T]) put(p *[]T) {
	if cap(*p) > maxScratch {
		return
	}

	clear(*p)
	*p = (*p)[:0]
	s.pool.Put(p)
}

var (
	bytePool   scratch[byte]
	runePool   scratch[rune]
	stringPool scratch[string]
	rangePool  scratch[Range]
	intPool    scratch[int]
)
