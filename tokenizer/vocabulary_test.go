package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewVocabularyValidation(t *testing.T) {
	cases := []struct {
		name   string
		values map[string]int32
	}{
		{"id out of range", map[string]int32{"a": 0, "b": 2}},
		{"negative id", map[string]int32{"a": -1}},
		{"duplicate id", map[string]int32{"a": 0, "b": 0}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVocabulary(tt.values, nil, nil)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestVocabularyLookups(t *testing.T) {
	v, err := NewVocabulary(
		map[string]int32{"a": 0, "b": 1, "ab": 2},
		[]string{"#version: 0.2", "a b", "broken", "a b", "", "b a"},
		map[int32]string{10: "<|endoftext|>", 3: "<pad>"},
	)
	require.NoError(t, err)

	require.Equal(t, 3, v.Size())
	require.Equal(t, int32(2), v.Encode("ab"))
	require.Equal(t, int32(-1), v.Encode("ba"))

	s, ok := v.Decode(1)
	require.True(t, ok)
	require.Equal(t, "b", s)

	_, ok = v.Decode(3)
	require.False(t, ok)
	_, ok = v.Decode(-1)
	require.False(t, ok)

	// header and malformed lines still consume a rank; duplicates keep the first
	require.Equal(t, 1, v.Merge("a", "b"))
	require.Equal(t, 5, v.Merge("b", "a"))
	require.Equal(t, -1, v.Merge("ab", "a"))
	require.Equal(t, 2, v.Merges())

	raw, ok := v.Special(10)
	require.True(t, ok)
	require.Equal(t, []byte("<|endoftext|>"), raw)
	_, ok = v.Special(0)
	require.False(t, ok)

	require.Equal(t, []string{"<pad>", "<|endoftext|>"}, v.SpecialVocabulary())
}
