package spanmap

import (
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// Symbol is the element type of a key. Keys are compared and hashed by
// content, never by the identity of the backing array.
type Symbol interface {
	~byte | ~rune
}

func hash[K Symbol](key []K) uint64 {
	var zero K
	n := len(key) * int(unsafe.Sizeof(zero))
	return xxhash.Sum64(unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(key))), n))
}

// Bytes returns a view of s as a byte slice without copying. The result
// must not be modified; it is meant for lookups in byte-keyed maps.
func Bytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
