package alloc

import (
	"fmt"

	"github.com/joeycumines/go-kcore/spinlock"
)

type (
	// Allocator is a heap that is not safe for concurrent use.
	Allocator interface {
		Init(arena Arena)
		Initialized() bool
		Arena() Arena
		Alloc(l Layout) (uintptr, bool)
		Dealloc(ptr uintptr, l Layout)
		Stats() Stats
	}

	// Stats summarises the state of a heap.
	Stats struct {
		FreeRegions int
		FreeMemory  uintptr
		Total       uintptr
		Used        uintptr
	}

	// Span is a free region of a heap.
	Span struct {
		Addr uintptr
		Size uintptr
	}

	// Block is a live allocation, along with a view of its memory.
	Block struct {
		Data   []byte
		Ptr    uintptr
		Layout Layout
	}

	// Global is the kernel's allocation hook: an Allocator behind a spinlock
	// that masks interrupts, since allocation may happen on paths shared with
	// interrupt handlers.
	Global struct {
		lock *spinlock.Lock[Allocator]
	}
)

// NewGlobal wraps a, masking interrupts on ic while it is in use. A nil ic
// leaves interrupts alone.
func NewGlobal(ic spinlock.InterruptController, a Allocator) *Global {
	if a == nil {
		panic(`alloc: nil allocator`)
	}
	var lock *spinlock.Lock[Allocator]
	if ic != nil {
		lock = spinlock.NewIRQSafe(ic, a)
	} else {
		lock = spinlock.New(a)
	}
	return &Global{lock: lock}
}

// Init registers the heap region. It must be called exactly once, before any
// allocation.
func (x *Global) Init(arena Arena) {
	x.lock.With(func(a *Allocator) { (*a).Init(arena) })
}

// Alloc returns the address of a region satisfying l, or zero if the heap is
// exhausted.
func (x *Global) Alloc(l Layout) (ptr uintptr) {
	x.lock.With(func(a *Allocator) {
		if p, ok := (*a).Alloc(l); ok {
			ptr = p
		}
	})
	return
}

// Dealloc returns memory obtained from Alloc, with the same layout.
func (x *Global) Dealloc(ptr uintptr, l Layout) {
	x.lock.With(func(a *Allocator) { (*a).Dealloc(ptr, l) })
}

// Make allocates l, returning a Block viewing the memory.
func (x *Global) Make(l Layout) (Block, error) {
	if !l.valid() {
		return Block{}, fmt.Errorf("%w: %v", ErrInvalidLayout, l)
	}
	ptr := x.Alloc(l)
	if ptr == 0 {
		return Block{}, fmt.Errorf("%w: %v", ErrOutOfMemory, l)
	}
	var data []byte
	if l.Size != 0 {
		data = x.Bytes(ptr, l.Size)
		clear(data)
	}
	return Block{Data: data, Ptr: ptr, Layout: l}, nil
}

// Free releases a Block obtained from Make.
func (x *Global) Free(b Block) {
	x.Dealloc(b.Ptr, b.Layout)
}

// Bytes returns a view of n bytes of heap memory at ptr.
func (x *Global) Bytes(ptr, n uintptr) []byte {
	var arena Arena
	x.lock.With(func(a *Allocator) { arena = (*a).Arena() })
	return arena.Bytes(ptr, n)
}

// Stats returns the heap statistics.
func (x *Global) Stats() (s Stats) {
	x.lock.With(func(a *Allocator) { s = (*a).Stats() })
	return
}
