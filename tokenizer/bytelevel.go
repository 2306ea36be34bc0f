package tokenizer

// codecSize bounds the placeholder runes: the 68 remapped bytes land on
// 0x100 through 0x143.
const codecSize = 0x144

// Codec maps every byte onto a printable rune so arbitrary byte sequences
// can be written as token text.
type Codec struct {
	encode [256]rune
	decode [codecSize]byte
	valid  [codecSize]bool
}

// printable reports whether b is represented by its own code point.
func printable(b int) bool {
	return (b >= 0x21 && b <= 0x7e) ||
		(b >= 0xa1 && b <= 0xac) ||
		(b >= 0xae && b <= 0xff)
}

// BuildCodec returns the standard byte-level table. Printable Latin-1 bytes
// keep their code point; the rest (controls, space, DEL, NBSP and the soft
// hyphen) are numbered from 0x100 upward in byte order.
func BuildCodec() *Codec {
	var c Codec
	n := rune(0x100)
	for b := range 256 {
		r := rune(b)
		if !printable(b) {
			r = n
			n++
		}

		c.encode[b] = r
		c.decode[r] = byte(b)
		c.valid[r] = true
	}

	return &c
}

func (c *Codec) Encode(b byte) rune {
	return c.encode[b]
}

// Decode returns the byte r stands for. ok is false for runes outside the
// table.
func (c *Codec) Decode(r rune) (b byte, ok bool) {
	if r < 0 || r >= codecSize || !c.valid[r] {
		return 0, false
	}

	return c.decode[r], true
}

// AppendEncoded appends the placeholder of each byte in b to dst.
func (c *Codec) AppendEncoded(dst []rune, b []byte) []rune {
	for _, x := range b {
		dst = append(dst, c.encode[x])
	}

	return dst
}

// AppendDecoded appends the bytes that the placeholders in s stand for.
// Runes outside the table are skipped.
func (c *Codec) AppendDecoded(dst []byte, s string) []byte {
	for _, r := range s {
		if b, ok := c.Decode(r); ok {
			dst = append(dst, b)
		}
	}

	return dst
}

// symbols holds one-rune strings for every placeholder so merges can seed
// their working set without allocating.
var symbols = func() (s [codecSize]string) {
	for r := range s {
		s[r] = string(rune(r))
	}
	return s
}()

func symbol(r rune) string {
	if r >= 0 && r < codecSize {
		return symbols[r]
	}

	return string(r)
}
