package alloc

import (
	"errors"
	"fmt"

	"golang.org/x/exp/constraints"
)

var (
	// ErrOutOfMemory indicates that no free region can satisfy a request.
	ErrOutOfMemory = errors.New("alloc: out of memory")

	// ErrInvalidLayout indicates a layout with a bad alignment or size.
	ErrInvalidLayout = errors.New("alloc: invalid layout")
)

// maxSize bounds Layout.Size such that rounding it up to any valid alignment
// cannot overflow.
const maxSize = ^uintptr(0) >> 2

// Layout describes a memory request: its size in bytes, and the power of two
// that its address must be a multiple of.
type Layout struct {
	Size  uintptr
	Align uintptr
}

// NewLayout validates and returns a Layout.
func NewLayout(size, align uintptr) (Layout, error) {
	l := Layout{Size: size, Align: align}
	if !l.valid() {
		return Layout{}, fmt.Errorf("%w: size %d align %d", ErrInvalidLayout, size, align)
	}
	return l, nil
}

// MustLayout is NewLayout, panicking on error.
func MustLayout(size, align uintptr) Layout {
	l, err := NewLayout(size, align)
	if err != nil {
		panic(err)
	}
	return l
}

// LayoutOf returns the layout of n contiguous elements of elemSize bytes.
func LayoutOf(elemSize, n, align uintptr) (Layout, error) {
	if elemSize != 0 && n > maxSize/elemSize {
		return Layout{}, fmt.Errorf("%w: %d elements of %d bytes", ErrInvalidLayout, n, elemSize)
	}
	return NewLayout(elemSize*n, align)
}

func (l Layout) valid() bool {
	return isPowerOfTwo(l.Align) && l.Size <= maxSize && l.Align <= maxSize
}

func (l Layout) String() string {
	return fmt.Sprintf("Layout{Size: %d, Align: %d}", l.Size, l.Align)
}

func alignUp[T constraints.Unsigned](v, align T) T {
	return (v + align - 1) &^ (align - 1)
}

func isPowerOfTwo[T constraints.Unsigned](v T) bool {
	return v != 0 && v&(v-1) == 0
}
