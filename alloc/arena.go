package alloc

import (
	"encoding/binary"
	"fmt"
)

// Arena is a region of memory, addressed as if it were mapped at Base.
//
// Addresses handed out by the allocators in this package are arena
// addresses; [Arena.Bytes] turns one into a slice of the backing memory.
type Arena struct {
	Mem  []byte
	Base uintptr
}

// NewArena allocates size bytes of backing memory, mapped at base.
func NewArena(base uintptr, size int) Arena {
	return Arena{Base: base, Mem: make([]byte, size)}
}

// Start returns the first address of the arena.
func (a Arena) Start() uintptr { return a.Base }

// End returns the address one past the end of the arena.
func (a Arena) End() uintptr { return a.Base + uintptr(len(a.Mem)) }

// Len returns the size of the arena in bytes.
func (a Arena) Len() uintptr { return uintptr(len(a.Mem)) }

// Contains reports whether [addr, addr+n) lies within the arena.
func (a Arena) Contains(addr, n uintptr) bool {
	return addr >= a.Start() && addr <= a.End() && n <= a.End()-addr
}

// Bytes returns the n bytes at addr. It panics if the range is outside the
// arena.
func (a Arena) Bytes(addr, n uintptr) []byte {
	if !a.Contains(addr, n) {
		panic(fmt.Sprintf(`alloc: range [%#x, %#x) outside arena [%#x, %#x)`, addr, addr+n, a.Start(), a.End()))
	}
	off := addr - a.Base
	return a.Mem[off : off+n : off+n]
}

func (a Arena) word(addr uintptr) uintptr {
	return uintptr(binary.NativeEndian.Uint64(a.Bytes(addr, 8)))
}

func (a Arena) setWord(addr, v uintptr) {
	binary.NativeEndian.PutUint64(a.Bytes(addr, 8), uint64(v))
}
