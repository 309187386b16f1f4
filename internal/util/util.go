// Package util holds small generic helpers shared across the kernel
// core, adapted from biscuit/src/util/util.go's Int/Min/Rounddown/
// Roundup (the byte-packing Readn/Writen helpers from the same file
// have no wire format left to serve now that cmd/hosted speaks gob
// over its syscall socket, so they were dropped rather than kept
// unused).
package util

// Int is satisfied by all built-in integer types.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - (v % b)
}

// Roundup aligns v up to the nearest multiple of b.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}
