// Package tokenizer implements byte-level byte pair encoding: text is split
// around special tokens, segmented by a pattern, mapped to printable
// placeholder runes byte by byte and merged by rank into vocabulary pieces.
package tokenizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/unicode"

	"github.com/jmorganca/bpetok/envconfig"
	"github.com/jmorganca/bpetok/logutil"
	"github.com/jmorganca/bpetok/spanmap"
)

var (
	ErrInvalidConfig = errors.New("tokenizer: invalid configuration")
	ErrNotShared     = errors.New("tokenizer: instance is not shared")
)

type options struct {
	shared      bool
	cacheSize   int
	concurrency int
	unknown     int32
}

type Option func(*options)

// WithShared backs the merge cache with a concurrent map so the tokenizer
// can be used from many goroutines at once.
func WithShared(shared bool) Option {
	return func(o *options) {
		o.shared = shared
	}
}

// WithCacheSize bounds the merge cache to n segments. Zero means unbounded.
// A bounded cache is safe for concurrent use.
func WithCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// WithConcurrency sets the number of lock stripes of the shared cache.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// WithUnknownToken encodes pieces missing from the vocabulary as id instead
// of dropping them.
func WithUnknownToken(id int32) Option {
	return func(o *options) {
		o.unknown = id
	}
}

// Tokenizer converts between text and token ids. Unless it was created
// with WithShared or a bounded cache, Encode must not be called from more
// than one goroutine at a time.
type Tokenizer struct {
	vocab   *Vocabulary
	codec   *Codec
	pre     *Pretokenizer
	engine  mergeEngine
	unknown int32
	shared  bool
}

func New(vocab *Vocabulary, pattern string, opts ...Option) (*Tokenizer, error) {
	if vocab == nil {
		return nil, fmt.Errorf("%w: missing vocabulary", ErrInvalidConfig)
	}

	o := options{
		shared:      envconfig.Shared,
		cacheSize:   envconfig.CacheSize,
		concurrency: envconfig.Concurrency,
		unknown:     -1,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.cacheSize < 0 {
		return nil, fmt.Errorf("%w: cache size %d must be zero or greater", ErrInvalidConfig, o.cacheSize)
	}

	if o.concurrency < 0 {
		return nil, fmt.Errorf("%w: concurrency %d must be zero or greater", ErrInvalidConfig, o.concurrency)
	}

	if o.unknown != -1 {
		if _, ok := vocab.Decode(o.unknown); !ok {
			return nil, fmt.Errorf("%w: unknown token id %d is not in the vocabulary", ErrInvalidConfig, o.unknown)
		}
	}

	pre, err := NewPretokenizer(pattern)
	if err != nil {
		return nil, err
	}

	var cache mergeCache
	switch {
	case o.cacheSize > 0:
		cache, err = newLRUCache(o.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	case o.shared:
		cache = concurrentCache{spanmap.NewConcurrent[rune, []string](o.concurrency, 0)}
	default:
		cache = spanmap.New[rune, []string](0)
	}

	slog.Debug("tokenizer",
		"vocab", vocab.Size(),
		"merges", vocab.Merges(),
		"special", vocab.splitter.Len(),
		"shared", o.shared,
		"cache", o.cacheSize,
		"unknown", o.unknown)

	return &Tokenizer{
		vocab:   vocab,
		codec:   BuildCodec(),
		pre:     pre,
		engine:  mergeEngine{vocab: vocab, cache: cache},
		unknown: o.unknown,
		shared:  o.shared || o.cacheSize > 0,
	}, nil
}

func (t *Tokenizer) Vocabulary() *Vocabulary {
	return t.vocab
}

func (t *Tokenizer) VocabSize() int {
	return t.vocab.Size()
}

// Encode returns the ids of text. With handleSpecial, registered special
// tokens are emitted as their own ids and never split; otherwise they are
// encoded like any other text. Pieces missing from the vocabulary are
// dropped unless an unknown token was configured.
func (t *Tokenizer) Encode(text string, handleSpecial bool) []int32 {
	ranges := rangePool.get(8)
	defer rangePool.put(ranges)

	switch {
	case handleSpecial:
		*ranges = t.vocab.splitter.AppendSplit(*ranges, text)
	case text != "":
		*ranges = append(*ranges, Range{Start: 0, End: len(text)})
	}

	ids := make([]int32, 0, len(text)/4)
	for _, r := range *ranges {
		s := text[r.Start:r.End]
		if r.Special {
			if id, ok := t.vocab.splitter.ID(s); ok {
				ids = append(ids, id)
			}
			continue
		}

		ids = t.encodePlain(ids, s)
	}

	logutil.Trace("encoded", "string", text, "ids", logutil.Lazy[[]int32]{V: ids})
	return ids
}

func (t *Tokenizer) encodePlain(ids []int32, s string) []int32 {
	text := runePool.get(len(s))
	defer runePool.put(text)

	// offsets[i] is the byte offset of rune i so matches map back onto s
	// without re-encoding, which keeps invalid UTF-8 bytes intact
	offsets := intPool.get(len(s) + 1)
	defer intPool.put(offsets)

	for i, r := range s {
		*text = append(*text, r)
		*offsets = append(*offsets, i)
	}
	*offsets = append(*offsets, len(s))

	encoded := runePool.get(len(s))
	defer runePool.put(encoded)

	for start, end := range t.pre.Matches(*text) {
		*encoded = t.codec.AppendEncoded((*encoded)[:0], spanmap.Bytes(s[(*offsets)[start]:(*offsets)[end]]))
		for _, piece := range t.engine.merge(*encoded) {
			ids = t.appendPiece(ids, piece)
		}
	}

	return ids
}

func (t *Tokenizer) appendPiece(ids []int32, piece string) []int32 {
	if id := t.vocab.Encode(piece); id >= 0 {
		return append(ids, id)
	}

	if t.unknown >= 0 {
		return append(ids, t.unknown)
	}

	logutil.Trace("dropping piece", "piece", piece)
	return ids
}

// MergeToken returns the BPE pieces of a byte-encoded segment.
func (t *Tokenizer) MergeToken(token []rune) []string {
	return t.engine.merge(token)
}

// Decode returns the text of ids. With includeSpecial, special token ids
// produce their raw text. Ids that are neither special nor in the
// vocabulary are skipped. Byte sequences that are not valid UTF-8 decode
// to U+FFFD.
func (t *Tokenizer) Decode(ids []int32, includeSpecial bool) string {
	buf := bytePool.get(len(ids) * 4)
	defer bytePool.put(buf)

	for _, id := range ids {
		if includeSpecial {
			if b, ok := t.vocab.Special(id); ok {
				*buf = append(*buf, b...)
				continue
			}
		}

		if value, ok := t.vocab.Decode(id); ok {
			*buf = t.codec.AppendDecoded(*buf, value)
		}
	}

	s := string(*buf)
	if !utf8.Valid(*buf) {
		if b, err := unicode.UTF8.NewDecoder().Bytes(*buf); err == nil {
			s = string(b)
		} else {
			slog.Debug("decoding invalid utf-8", "error", err)
		}
	}

	logutil.Trace("decoded", "string", s, "from", logutil.Lazy[[]int32]{V: ids})
	return s
}

// EncodeBatch encodes texts in parallel. It requires a tokenizer that is
// safe for concurrent use and stops scheduling new texts once ctx is done.
func (t *Tokenizer) EncodeBatch(ctx context.Context, texts []string, handleSpecial bool) ([][]int32, error) {
	if !t.shared {
		return nil, ErrNotShared
	}

	ids := make([][]int32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, text := range texts {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			ids[i] = t.Encode(text, handleSpecial)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}

// CacheLen returns the number of cached segments.
func (t *Tokenizer) CacheLen() int {
	return t.engine.cache.Len()
}

// Close drops the merge cache. The tokenizer remains usable.
func (t *Tokenizer) Close() error {
	t.engine.cache.Clear()
	return nil
}
