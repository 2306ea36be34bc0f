package tokenizer

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// pair is an ordered pair of adjacent symbols
type pair struct {
	left, right string
}

// Vocabulary holds the immutable tables a tokenizer is built from: token
// strings by id, merge ranks and special tokens.
type Vocabulary struct {
	values []string
	ids    map[string]int32
	ranks  map[pair]int
	merges int

	special  map[int32][]byte
	splitter *Splitter
}

// NewVocabulary validates and indexes the loader's output. values maps each
// byte-level token string to its id and the ids must be exactly 0..len-1.
// merges are "left right" lines whose index is their rank. special maps
// ids to the raw text of special tokens; those ids need not be in values.
func NewVocabulary(values map[string]int32, merges []string, special map[int32]string) (*Vocabulary, error) {
	v := Vocabulary{
		values:  make([]string, len(values)),
		ids:     make(map[string]int32, len(values)),
		ranks:   make(map[pair]int, len(merges)),
		special: make(map[int32][]byte, len(special)),
	}

	seen := make([]bool, len(values))
	for value, id := range values {
		if id < 0 || int(id) >= len(values) {
			return nil, fmt.Errorf("%w: token %q has id %d outside [0, %d)", ErrInvalidConfig, value, id, len(values))
		}

		if seen[id] {
			return nil, fmt.Errorf("%w: id %d is assigned to %q and %q", ErrInvalidConfig, id, v.values[id], value)
		}

		seen[id] = true
		v.values[id] = value
		v.ids[value] = id
	}

	for i, line := range merges {
		if strings.HasPrefix(line, "#version") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			slog.Debug("skipping malformed merge", "line", i, "merge", line)
			continue
		}

		p := pair{fields[0], fields[1]}
		if _, ok := v.ranks[p]; ok {
			continue
		}

		v.ranks[p] = i
		v.merges++
	}

	for id, text := range special {
		v.special[id] = []byte(text)
	}

	v.splitter = NewSplitter(special)
	return &v, nil
}

// Encode returns the id of a byte-level token string, or -1.
func (v *Vocabulary) Encode(s string) int32 {
	if id, ok := v.ids[s]; ok {
		return id
	}

	return -1
}

// Decode returns the byte-level token string for id.
func (v *Vocabulary) Decode(id int32) (string, bool) {
	if id < 0 || int(id) >= len(v.values) {
		return "", false
	}

	return v.values[id], true
}

// Merge returns the rank of merging left and right, or -1.
func (v *Vocabulary) Merge(left, right string) int {
	if rank, ok := v.ranks[pair{left, right}]; ok {
		return rank
	}

	return -1
}

// Special returns the raw text of a special token id.
func (v *Vocabulary) Special(id int32) ([]byte, bool) {
	b, ok := v.special[id]
	return b, ok
}

// SpecialVocabulary returns the special token texts ordered by id.
func (v *Vocabulary) SpecialVocabulary() []string {
	ids := make([]int32, 0, len(v.special))
	for id := range v.special {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	special := make([]string, len(ids))
	for i, id := range ids {
		special[i] = string(v.special[id])
	}

	return special
}

// Size is the number of regular tokens.
func (v *Vocabulary) Size() int {
	return len(v.values)
}

// Merges is the number of distinct merge rules.
func (v *Vocabulary) Merges() int {
	return v.merges
}
