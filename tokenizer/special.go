package tokenizer

import (
	"github.com/jmorganca/bpetok/spanmap"
)

// Range is a half-open byte range of the input. Special ranges cover
// exactly one special token.
type Range struct {
	Start, End int
	Special    bool
}

// Splitter separates special tokens from the surrounding text in a single
// left-to-right pass.
type Splitter struct {
	ids    *spanmap.Map[byte, int32]
	first  [256]bool
	maxLen int
}

// NewSplitter indexes tokens by text. Empty texts are ignored. When two ids
// share a text the lower id wins.
func NewSplitter(tokens map[int32]string) *Splitter {
	s := Splitter{ids: spanmap.New[byte, int32](len(tokens))}
	for id, text := range tokens {
		if text == "" {
			continue
		}

		key := spanmap.Bytes(text)
		if prev, ok := s.ids.Get(key); ok && prev < id {
			continue
		}

		s.ids.Set(key, id)
		s.first[text[0]] = true
		s.maxLen = max(s.maxLen, len(text))
	}

	return &s
}

// ID returns the id of a special token.
func (s *Splitter) ID(text string) (int32, bool) {
	return s.ids.Get(spanmap.Bytes(text))
}

func (s *Splitter) Len() int {
	return s.ids.Len()
}

// Split returns the plain and special ranges of text in order.
func (s *Splitter) Split(text string) []Range {
	return s.AppendSplit(nil, text)
}

// AppendSplit is like Split but appends to dst. At each position the
// longest registered token wins, so a token that prefixes a longer one is
// never matched short.
func (s *Splitter) AppendSplit(dst []Range, text string) []Range {
	start := 0
	for i := 0; i < len(text); {
		n := s.match(text, i)
		if n == 0 {
			i++
			continue
		}

		if i > start {
			dst = append(dst, Range{Start: start, End: i})
		}

		dst = append(dst, Range{Start: i, End: i + n, Special: true})
		i += n
		start = i
	}

	if start < len(text) {
		dst = append(dst, Range{Start: start, End: len(text)})
	}

	return dst
}

// match returns the length of the longest special token at text[i:], or 0.
func (s *Splitter) match(text string, i int) int {
	if !s.first[text[i]] {
		return 0
	}

	for n := min(s.maxLen, len(text)-i); n > 0; n-- {
		if s.ids.Contains(spanmap.Bytes(text[i : i+n])) {
			return n
		}
	}

	return 0
}
