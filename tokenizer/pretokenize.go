package tokenizer

import (
	"fmt"
	"iter"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/jmorganca/bpetok/envconfig"
)

// Segmentation patterns of the common byte-level vocabularies.
const (
	PatternGPT2   = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`
	PatternCL100K = `(?i:'s|'t|'re|'ve|'m|'ll|'d)|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+(?!\S)|\s+`
	PatternO200K  = `[^\r\n\p{L}\p{N}]?[\p{Lu}\p{Lt}\p{Lm}\p{Lo}\p{M}]*[\p{Ll}\p{Lm}\p{Lo}\p{M}]+(?i:'s|'t|'re|'ve|'m|'ll|'d)?|[^\r\n\p{L}\p{N}]?[\p{Lu}\p{Lt}\p{Lm}\p{Lo}\p{M}]+[\p{Ll}\p{Lm}\p{Lo}\p{M}]*(?i:'s|'t|'re|'ve|'m|'ll|'d)?|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n/]*|\s*[\r\n]+|\s+(?!\S)|\s+`
)

// Preset returns the pattern registered under name.
func Preset(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "gpt2", "r50k":
		return PatternGPT2, true
	case "cl100k", "cl100k_base":
		return PatternCL100K, true
	case "o200k", "o200k_base":
		return PatternO200K, true
	default:
		return "", false
	}
}

// DefaultPattern resolves BPETOK_PATTERN, which may name a preset or hold a
// pattern. It falls back to PatternCL100K when unset.
func DefaultPattern() string {
	if envconfig.Pattern == "" {
		return PatternCL100K
	}

	if p, ok := Preset(envconfig.Pattern); ok {
		return p
	}

	return envconfig.Pattern
}

// Pretokenizer cuts text into the segments that are merged independently.
type Pretokenizer struct {
	re *regexp2.Regexp
}

func NewPretokenizer(pattern string) (*Pretokenizer, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("%w: empty segmentation pattern", ErrInvalidConfig)
	}

	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("%w: segmentation pattern: %w", ErrInvalidConfig, err)
	}

	return &Pretokenizer{re: re}, nil
}

func (p *Pretokenizer) String() string {
	return p.re.String()
}

// Split yields every match of the pattern in text as a subslice of text.
// Text between matches is not yielded.
func (p *Pretokenizer) Split(text []rune) iter.Seq[[]rune] {
	return func(yield func([]rune) bool) {
		for start, end := range p.Matches(text) {
			if !yield(text[start:end]) {
				return
			}
		}
	}
}

// Matches yields the rune offsets of every non-empty match in text.
func (p *Pretokenizer) Matches(text []rune) iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		m, _ := p.re.FindRunesMatch(text)
		for m != nil {
			if m.Length > 0 {
				if !yield(m.Index, m.Index+m.Length) {
					return
				}
			}

			m, _ = p.re.FindNextMatch(m)
		}
	}
}
