package alloc

// Bump is a bump-pointer allocator. Memory is only reclaimed once every
// allocation has been freed, at which point the cursor resets to the start of
// the heap.
//
// The zero value is an empty allocator, that must be initialized with
// [Bump.Init] before use.
type Bump struct {
	arena  Arena
	cursor uintptr
	count  int
	init   bool
}

var _ Allocator = (*Bump)(nil)

// Init registers the heap region. It panics if called twice.
func (x *Bump) Init(arena Arena) {
	if x.init {
		panic(`alloc: bump allocator already initialized`)
	}
	if arena.Start() == 0 {
		panic(`alloc: heap cannot start at address zero`)
	}
	x.arena = arena
	x.init = true
}

// Initialized reports whether Init has been called.
func (x *Bump) Initialized() bool { return x.init }

// Arena returns the heap region.
func (x *Bump) Arena() Arena { return x.arena }

// Alloc advances the cursor past an aligned region satisfying l, or returns
// false if the rest of the heap is too small.
func (x *Bump) Alloc(l Layout) (uintptr, bool) {
	if !l.valid() {
		return 0, false
	}
	if l.Size == 0 {
		return l.Align, true
	}
	if !x.init {
		return 0, false
	}
	addr := alignUp(x.arena.Start()+x.cursor, l.Align)
	if addr < x.arena.Start() || !x.arena.Contains(addr, l.Size) {
		return 0, false
	}
	x.cursor = addr + l.Size - x.arena.Start()
	x.count++
	return addr, true
}

// Dealloc records that one allocation was freed. It panics if there are no
// live allocations.
func (x *Bump) Dealloc(_ uintptr, l Layout) {
	if l.Size == 0 {
		return
	}
	if x.count == 0 {
		panic(`alloc: bump dealloc without a live allocation`)
	}
	x.count--
	if x.count == 0 {
		x.cursor = 0
	}
}

// Live returns the number of allocations not yet freed.
func (x *Bump) Live() int { return x.count }

// Stats reports the cursor as Used, which includes freed memory and alignment
// padding until the heap resets.
func (x *Bump) Stats() (s Stats) {
	s.Total = x.arena.Len()
	s.Used = x.cursor
	s.FreeMemory = s.Total - s.Used
	if s.FreeMemory != 0 {
		s.FreeRegions = 1
	}
	return
}
