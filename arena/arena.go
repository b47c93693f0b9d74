// Package arena implements a single-owner bump allocator used to give a
// decoded value a lifetime separate from the transient receive buffer it
// was parsed from.
//
// Modeled on the AWS Greengrass Lite SDK's GglArena (include/ggl/arena.h):
// a fixed backing buffer plus a bump index, with a "claim" operation that
// deep-copies a value tree's interior storage into the arena so it no
// longer aliases its source.
package arena

import "unsafe"

// Buffer is a borrowed or owned view of bytes. Ownership is contextual:
// by default a Buffer returned from decoding aliases the receive buffer
// or an Arena; callers that need it to outlive that scope must Claim it.
type Buffer []byte

// Arena is a bump allocator backed by a fixed byte slice.
type Arena struct {
	mem   []byte
	index int
}

// New returns an Arena backed by buf. buf is not copied; the arena hands
// out slices of it.
func New(buf []byte) *Arena {
	return &Arena{mem: buf}
}

// Cap returns the arena's total capacity in bytes.
func (a *Arena) Cap() int { return len(a.mem) }

// Used returns the number of bytes already allocated.
func (a *Arena) Used() int { return a.index }

// Remaining returns the number of bytes still available.
func (a *Arena) Remaining() int { return len(a.mem) - a.index }

// Alloc allocates size bytes with the given alignment from the arena.
// Returns nil if there isn't enough room.
func (a *Arena) Alloc(size, alignment int) []byte {
	if alignment <= 0 {
		alignment = 1
	}
	padded := align(a.index, alignment)
	if padded < a.index || padded > len(a.mem) || size < 0 || len(a.mem)-padded < size {
		return nil
	}
	b := a.mem[padded : padded+size : padded+size]
	a.index = padded + size
	return b
}

// AllocRest allocates all remaining capacity as a single buffer.
func (a *Arena) AllocRest() []byte {
	b := a.mem[a.index:len(a.mem):len(a.mem)]
	a.index = len(a.mem)
	return b
}

// Owns reports whether ptr lies within the arena's backing storage.
func (a *Arena) Owns(ptr []byte) bool {
	if cap(a.mem) == 0 || cap(ptr) == 0 {
		return false
	}
	base := uintptr(unsafe.Pointer(&a.mem[:1][0]))
	end := base + uintptr(len(a.mem))
	p := uintptr(unsafe.Pointer(&ptr[:1][0]))
	return p >= base && p < end
}

func align(index, alignment int) int {
	rem := index % alignment
	if rem == 0 {
		return index
	}
	return index + (alignment - rem)
}
