package alloc

import (
	"errors"
	"fmt"
)

const (
	// NodeSize is the size of a free-list node header, {size, next}, which is
	// stored in place at the start of every free region. It is also the
	// minimum size of a free region, and the minimum alignment of an
	// allocation.
	NodeSize = 16

	// NodeAlign is the required alignment of a free-list node.
	NodeAlign = 8
)

// FreeList is a first-fit, address-ordered, coalescing free-list allocator.
//
// The list lives inside the free memory it describes: each free region starts
// with a node header holding the region's size and the address of the next
// free region (zero terminates the list). No metadata is kept for allocated
// memory, so Dealloc must be passed the same layout that Alloc was.
//
// FreeList is not safe for concurrent use. Wrap it in a [Global].
//
// The zero value is an empty allocator, that must be initialized with
// [FreeList.Init] before use.
type FreeList struct {
	arena Arena
	total uintptr
	head  uintptr
	init  bool
}

var _ Allocator = (*FreeList)(nil)

// span is a region of memory.
type span struct {
	addr, size uintptr
}

// regionSplit is the result of carving an allocation out of a free region.
type regionSplit struct {
	prefix span
	suffix span
	addr   uintptr
}

// Init registers the heap region. It panics if called twice, or if the region
// cannot hold a single node.
func (x *FreeList) Init(arena Arena) {
	if x.init {
		panic(`alloc: freelist already initialized`)
	}
	if arena.Start() == 0 {
		panic(`alloc: heap cannot start at address zero`)
	}
	x.arena = arena
	x.init = true
	x.addFreeRegion(arena.Start(), arena.Len())
	x.total = arena.Len()
}

// Initialized reports whether Init has been called.
func (x *FreeList) Initialized() bool { return x.init }

// Arena returns the heap region.
func (x *FreeList) Arena() Arena { return x.arena }

// Alloc returns the address of a region satisfying l, or false if no free
// region can. A zero-sized request returns a non-zero, well-aligned address
// that must not be dereferenced, without touching the list.
//
// The scan is first-fit, in address order, and is linear in the number of
// free regions.
func (x *FreeList) Alloc(l Layout) (uintptr, bool) {
	if !l.valid() {
		return 0, false
	}
	if l.Size == 0 {
		return l.Align, true
	}
	l = prepareLayout(l)

	var prev uintptr
	for cur := x.head; cur != 0; {
		size, next := x.node(cur)
		split, ok := allocInRegion(span{cur, size}, l.Size, l.Align)
		if !ok {
			prev, cur = cur, next
			continue
		}
		x.setNext(prev, next)
		if split.prefix.size != 0 {
			x.addFreeRegion(split.prefix.addr, split.prefix.size)
		}
		if split.suffix.size != 0 {
			x.addFreeRegion(split.suffix.addr, split.suffix.size)
		}
		return split.addr, true
	}

	return 0, false
}

// Dealloc returns the region at ptr, allocated with l, to the free list,
// merging it with the adjacent free regions.
func (x *FreeList) Dealloc(ptr uintptr, l Layout) {
	if l.Size == 0 {
		return
	}
	if !l.valid() {
		panic(fmt.Sprintf(`alloc: dealloc with invalid layout %v`, l))
	}
	l = prepareLayout(l)
	if !x.arena.Contains(ptr, l.Size) {
		panic(fmt.Sprintf(`alloc: dealloc of %#x (%v) outside heap`, ptr, l))
	}
	x.addFreeRegion(ptr, l.Size)
}

// Stats walks the free list.
func (x *FreeList) Stats() (s Stats) {
	for cur := x.head; cur != 0; {
		size, next := x.node(cur)
		s.FreeRegions++
		s.FreeMemory += size
		cur = next
	}
	s.Total = x.total
	s.Used = x.total - s.FreeMemory
	return
}

// Spans returns the free regions, in address order.
func (x *FreeList) Spans() (spans []Span) {
	for cur := x.head; cur != 0; {
		size, next := x.node(cur)
		spans = append(spans, Span{Addr: cur, Size: size})
		cur = next
	}
	return
}

// Check verifies the free-list invariants: regions are in the heap, ordered,
// aligned, at least one node in size, and never adjacent.
func (x *FreeList) Check() error {
	var (
		errs    []error
		prevEnd uintptr
		first   = true
		n       int
	)
	for cur := x.head; cur != 0; {
		size, next := x.node(cur)
		if !x.arena.Contains(cur, size) {
			errs = append(errs, fmt.Errorf(`region %#x+%d outside heap`, cur, size))
		}
		if cur%NodeAlign != 0 {
			errs = append(errs, fmt.Errorf(`region %#x misaligned`, cur))
		}
		if size < NodeSize {
			errs = append(errs, fmt.Errorf(`region %#x too small: %d`, cur, size))
		}
		if !first {
			switch {
			case cur < prevEnd:
				errs = append(errs, fmt.Errorf(`region %#x overlaps or precedes previous region ending %#x`, cur, prevEnd))
			case cur == prevEnd:
				errs = append(errs, fmt.Errorf(`region %#x adjacent to previous region`, cur))
			}
		}
		first = false
		prevEnd = cur + size
		cur = next
		if n++; uintptr(n) > x.arena.Len()/NodeSize+1 {
			errs = append(errs, errors.New(`free list cycle`))
			break
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf(`alloc: corrupt free list: %w`, err)
	}
	return nil
}

// prepareLayout normalizes l so that every allocation is node aligned and a
// multiple of its alignment in size. Alloc and Dealloc must agree on this.
func prepareLayout(l Layout) Layout {
	l.Align = max(l.Align, NodeSize)
	l.Size = alignUp(l.Size, l.Align)
	return l
}

// allocInRegion attempts to carve size bytes aligned to align out of region.
//
// If the region start is misaligned the allocation is pushed forward far
// enough that the skipped prefix can hold a node. Any remainder must also be
// able to hold a node, otherwise the region is rejected.
func allocInRegion(region span, size, align uintptr) (split regionSplit, ok bool) {
	end := region.addr + region.size
	addr := alignUp(region.addr, align)
	if addr != region.addr {
		addr = alignUp(region.addr+NodeSize, align)
		split.prefix = span{region.addr, addr - region.addr}
	}
	allocEnd := addr + size
	if allocEnd > end || allocEnd < addr {
		return regionSplit{}, false
	}
	if allocEnd < end {
		if end-allocEnd < NodeSize {
			return regionSplit{}, false
		}
		split.suffix = span{allocEnd, end - allocEnd}
	}
	split.addr = addr
	return split, true
}

// addFreeRegion inserts [addr, addr+size) in address order, merging with the
// regions immediately before and after it, if they are adjacent.
func (x *FreeList) addFreeRegion(addr, size uintptr) {
	if addr%NodeAlign != 0 {
		panic(fmt.Sprintf(`alloc: free region %#x must be aligned to %d`, addr, NodeAlign))
	}
	if size < NodeSize {
		panic(fmt.Sprintf(`alloc: free region %#x of %d bytes cannot hold a node`, addr, size))
	}

	// find the last region before addr, and the first at or after it
	var prev uintptr
	cur := x.head
	for cur != 0 && cur < addr {
		prev = cur
		_, cur = x.node(cur)
	}

	if prev != 0 {
		if prevSize, _ := x.node(prev); prev+prevSize > addr {
			panic(fmt.Sprintf(`alloc: region %#x is already free`, addr))
		}
	}
	if cur != 0 && addr+size > cur {
		panic(fmt.Sprintf(`alloc: region %#x+%d overlaps free region %#x`, addr, size, cur))
	}

	// merge right
	if cur != 0 && addr+size == cur {
		curSize, curNext := x.node(cur)
		size += curSize
		cur = curNext
	}

	// merge left
	if prev != 0 {
		if prevSize, _ := x.node(prev); prev+prevSize == addr {
			x.setNode(prev, prevSize+size, cur)
			return
		}
	}

	x.setNode(addr, size, cur)
	x.setNext(prev, addr)
}

func (x *FreeList) node(addr uintptr) (size, next uintptr) {
	return x.arena.word(addr), x.arena.word(addr + 8)
}

func (x *FreeList) setNode(addr, size, next uintptr) {
	x.arena.setWord(addr, size)
	x.arena.setWord(addr+8, next)
}

// setNext links prev to next, where a zero prev is the list head.
func (x *FreeList) setNext(prev, next uintptr) {
	if prev == 0 {
		x.head = next
		return
	}
	x.arena.setWord(prev+8, next)
}
