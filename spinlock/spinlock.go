// Package spinlock provides mutual exclusion and one-time initialisation that
// are usable from interrupt context, without an operating system mutex.
//
// A [Lock] busy-polls an atomic flag. The interrupt-aware variant, created by
// [NewIRQSafe], additionally disables interrupts for the duration of the
// critical section, and restores the previous interrupt state on release.
// Any value shared between an interrupt handler and task code must use it:
// a handler that spins on a lock held by the code it interrupted can never
// make progress.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

type (
	// InterruptController is the subset of the CPU that a Lock needs in order
	// to mask interrupts. It is implemented by *cpu.Core.
	InterruptController interface {
		Disable() (wasEnabled bool)
		Restore(wasEnabled bool)
	}

	// Strategy decides what happens to interrupts around a critical section.
	// Apply is called before the lock is acquired, and Restore with its result
	// after the lock is released.
	Strategy interface {
		Apply() (state bool)
		Restore(state bool)
	}

	// KeepInterrupts leaves the interrupt flag alone.
	KeepInterrupts struct{}

	// DisableInterrupts masks interrupts on Controller while the lock is held.
	DisableInterrupts struct {
		Controller InterruptController
	}

	// Lock wraps a value of type T, guarding it with a spin-wait flag.
	//
	// The zero value is not usable, use [New], [NewIRQSafe] or
	// [NewWithStrategy].
	Lock[T any] struct {
		strategy Strategy
		value    T
		locked   atomic.Bool
	}

	// Guard is proof that a Lock is held. It must be released with
	// [Guard.Unlock], typically deferred.
	Guard[T any] struct {
		lock  *Lock[T]
		state bool
	}
)

var (
	_ Strategy = KeepInterrupts{}
	_ Strategy = DisableInterrupts{}
)

func (KeepInterrupts) Apply() bool { return false }

func (KeepInterrupts) Restore(bool) {}

func (x DisableInterrupts) Apply() bool { return x.Controller.Disable() }

func (x DisableInterrupts) Restore(state bool) { x.Controller.Restore(state) }

// New returns a Lock that leaves interrupts alone.
func New[T any](value T) *Lock[T] {
	return NewWithStrategy[T](KeepInterrupts{}, value)
}

// NewIRQSafe returns a Lock that disables interrupts on ic while held.
func NewIRQSafe[T any](ic InterruptController, value T) *Lock[T] {
	if ic == nil {
		panic(`spinlock: nil interrupt controller`)
	}
	return NewWithStrategy[T](DisableInterrupts{Controller: ic}, value)
}

// NewWithStrategy returns a Lock using the given interrupt strategy.
func NewWithStrategy[T any](strategy Strategy, value T) *Lock[T] {
	if strategy == nil {
		strategy = KeepInterrupts{}
	}
	return &Lock[T]{strategy: strategy, value: value}
}

// TryLock attempts to acquire the lock once, without spinning.
func (x *Lock[T]) TryLock() (Guard[T], bool) {
	state := x.strategy.Apply()
	if x.locked.Swap(true) {
		x.strategy.Restore(state)
		return Guard[T]{}, false
	}
	return Guard[T]{lock: x, state: state}, true
}

// Lock spins until the lock is acquired. Interrupts are re-enabled (per the
// strategy) between attempts, so a pending handler may run while waiting.
func (x *Lock[T]) Lock() Guard[T] {
	for {
		if g, ok := x.TryLock(); ok {
			return g
		}
		runtime.Gosched()
	}
}

// Locked reports whether the lock is currently held by anyone.
func (x *Lock[T]) Locked() bool {
	return x.locked.Load()
}

// With runs fn with exclusive access to the value. The lock is released on
// every exit path, including a panic in fn.
func (x *Lock[T]) With(fn func(value *T)) {
	g := x.Lock()
	defer g.Unlock()
	fn(g.Value())
}

// Value returns the guarded value. It must not be retained past Unlock.
func (x *Guard[T]) Value() *T {
	if x.lock == nil {
		panic(`spinlock: use of released guard`)
	}
	return &x.lock.value
}

// Unlock releases the lock, then restores the interrupt state captured when
// it was acquired. Calling Unlock more than once is a no-op.
func (x *Guard[T]) Unlock() {
	l := x.lock
	if l == nil {
		return
	}
	x.lock = nil
	l.locked.Store(false)
	l.strategy.Restore(x.state)
}
