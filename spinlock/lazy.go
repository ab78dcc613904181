package spinlock

import (
	"errors"
	"runtime"
	"sync/atomic"
)

// InitStatus is the state of a Lazy value.
type InitStatus uint32

const (
	Uninit InitStatus = iota
	InProgress
	Init
	// Poisoned means the initializer panicked. The value will never be
	// initialized.
	Poisoned
)

func (s InitStatus) String() string {
	switch s {
	case Uninit:
		return "Uninit"
	case InProgress:
		return "InProgress"
	case Init:
		return "Init"
	case Poisoned:
		return "Poisoned"
	default:
		return "Unknown"
	}
}

var (
	// ErrAlreadyInitialized is returned by [Lazy.InsertIfUninit] when the
	// value has been (or is being) initialized.
	ErrAlreadyInitialized = errors.New("spinlock: already initialized")

	// ErrPoisoned is the panic value used by [Lazy.Force] when the
	// initializer previously panicked.
	ErrPoisoned = errors.New("spinlock: lazy initializer panicked")
)

// Lazy is exactly-once deferred initialization that is safe to use from
// interrupt handlers as well as task code.
//
// The caller that wins the Uninit to InProgress transition runs the
// initializer, then publishes the result with the InProgress to Init
// transition. Every other caller spins until Init is observed, so no partially
// constructed value is ever visible.
type Lazy[T any] struct {
	compute func() T
	value   T
	state   atomic.Uint32
}

// NewLazy returns a Lazy that will run compute at most once.
func NewLazy[T any](compute func() T) *Lazy[T] {
	return &Lazy[T]{compute: compute}
}

// Status returns the current initialization state.
func (x *Lazy[T]) Status() InitStatus {
	return InitStatus(x.state.Load())
}

// GetIfInit returns the value only if it has already been initialized.
func (x *Lazy[T]) GetIfInit() (*T, bool) {
	if x.Status() != Init {
		return nil, false
	}
	return &x.value, true
}

// InsertIfUninit initializes the value with v, bypassing the initializer. It
// fails if initialization has already started.
func (x *Lazy[T]) InsertIfUninit(v T) error {
	if !x.state.CompareAndSwap(uint32(Uninit), uint32(InProgress)) {
		return ErrAlreadyInitialized
	}
	x.compute = nil
	x.value = v
	x.state.Store(uint32(Init))
	return nil
}

// Force returns the value, running the initializer if this is the first call.
func (x *Lazy[T]) Force() *T {
	for {
		if x.state.CompareAndSwap(uint32(Uninit), uint32(InProgress)) {
			x.run()
			return &x.value
		}
		switch InitStatus(x.state.Load()) {
		case Init:
			return &x.value
		case Poisoned:
			panic(ErrPoisoned)
		}
		runtime.Gosched()
	}
}

// Get is an alias of Force.
func (x *Lazy[T]) Get() *T { return x.Force() }

func (x *Lazy[T]) run() {
	ok := false
	defer func() {
		if !ok {
			x.state.Store(uint32(Poisoned))
		}
	}()
	compute := x.compute
	x.compute = nil
	if compute != nil {
		x.value = compute()
	}
	ok = true
	x.state.Store(uint32(Init))
}

// LazyLock is a Lock whose value is computed the first time the lock is
// acquired. A value shared with interrupt handlers must use
// [NewLazyLockIRQSafe].
type LazyLock[T any] struct {
	lock *Lock[lazyCell[T]]
}

type lazyCell[T any] struct {
	compute func() T
	value   T
	done    bool
}

// LazyGuard is the Guard type of a LazyLock.
type LazyGuard[T any] struct {
	guard Guard[lazyCell[T]]
}

// NewLazyLock returns a LazyLock that will run compute on first acquisition,
// leaving interrupts alone.
func NewLazyLock[T any](compute func() T) *LazyLock[T] {
	return &LazyLock[T]{lock: New(lazyCell[T]{compute: compute})}
}

// NewLazyLockIRQSafe is NewLazyLock, disabling interrupts on ic while held.
func NewLazyLockIRQSafe[T any](ic InterruptController, compute func() T) *LazyLock[T] {
	return &LazyLock[T]{lock: NewIRQSafe(ic, lazyCell[T]{compute: compute})}
}

// Lock acquires the lock, initializing the value if required.
func (x *LazyLock[T]) Lock() LazyGuard[T] {
	g := x.lock.Lock()
	cell := g.Value()
	if !cell.done {
		func() {
			// the lock must not stay held if compute panics
			defer func() {
				if !cell.done {
					g.Unlock()
				}
			}()
			if cell.compute != nil {
				cell.value = cell.compute()
			}
			cell.compute = nil
			cell.done = true
		}()
	}
	return LazyGuard[T]{guard: g}
}

// With runs fn with exclusive access to the (initialized) value.
func (x *LazyLock[T]) With(fn func(value *T)) {
	g := x.Lock()
	defer g.Unlock()
	fn(g.Value())
}

// Value returns the guarded value.
func (x *LazyGuard[T]) Value() *T {
	return &x.guard.Value().value
}

// Unlock releases the lock.
func (x *LazyGuard[T]) Unlock() {
	x.guard.Unlock()
}
