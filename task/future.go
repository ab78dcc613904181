package task

import (
	"sync/atomic"
)

type (
	// Waker schedules a suspended task to be polled again. Wake may be called
	// from any goroutine, including interrupt handlers, any number of times.
	Waker interface {
		Wake()
	}

	// WakerFunc adapts a function to a Waker.
	WakerFunc func()

	// Context is passed to Future.Poll, and carries the waker of the task
	// being polled.
	Context struct {
		waker Waker
	}

	// Future is a suspendable unit of work. Poll runs it until it either
	// completes, returning true, or must wait, returning false.
	//
	// A Future that returns false must first arrange for the Context's
	// waker to be called once it can make progress, or it will never be
	// polled again.
	Future interface {
		Poll(cx *Context) bool
	}

	// FutureFunc adapts a function to a Future.
	FutureFunc func(cx *Context) bool

	// Dropper may be implemented by a Future that holds resources, and is
	// called by the executor when it discards the future before completion.
	Dropper interface {
		Drop()
	}

	// AtomicWaker is a single waker slot, shared between one consumer, which
	// registers, and any number of producers, which wake. Only the most
	// recent registration is kept.
	//
	// The zero value is ready to use.
	AtomicWaker struct {
		p atomic.Pointer[wakerBox]
	}

	wakerBox struct {
		w Waker
	}

	// Poller is a Future around a poll function that produces a value.
	Poller[T any] struct {
		poll  func(cx *Context) (T, bool)
		value T
		done  bool
	}

	yieldFuture struct {
		yielded bool
	}
)

var (
	_ Waker  = WakerFunc(nil)
	_ Future = FutureFunc(nil)
	_ Future = (*Poller[int])(nil)
)

func (f WakerFunc) Wake() { f() }

func (f FutureFunc) Poll(cx *Context) bool { return f(cx) }

// NewContext returns a Context carrying w. A nil w is replaced by a no-op.
func NewContext(w Waker) *Context {
	if w == nil {
		w = WakerFunc(func() {})
	}
	return &Context{waker: w}
}

// Waker returns the waker of the task being polled.
func (x *Context) Waker() Waker {
	return x.waker
}

// Register replaces the stored waker.
func (x *AtomicWaker) Register(w Waker) {
	if w == nil {
		x.p.Store(nil)
		return
	}
	x.p.Store(&wakerBox{w: w})
}

// Take removes and returns the stored waker, or nil.
func (x *AtomicWaker) Take() Waker {
	if b := x.p.Swap(nil); b != nil {
		return b.w
	}
	return nil
}

// Wake takes the stored waker, if any, and wakes it.
func (x *AtomicWaker) Wake() {
	if w := x.Take(); w != nil {
		w.Wake()
	}
}

// NewPoller returns a Future that calls poll until it reports a value.
func NewPoller[T any](poll func(cx *Context) (T, bool)) *Poller[T] {
	return &Poller[T]{poll: poll}
}

func (x *Poller[T]) Poll(cx *Context) bool {
	if x.done {
		return true
	}
	v, ok := x.poll(cx)
	if ok {
		x.value, x.done = v, true
	}
	return ok
}

// Value returns the value produced, or the zero value if not yet complete.
func (x *Poller[T]) Value() T {
	return x.value
}

// Yield returns a Future that is pending exactly once, waking itself, which
// lets other ready tasks run.
func Yield() Future {
	return &yieldFuture{}
}

func (x *yieldFuture) Poll(cx *Context) bool {
	if x.yielded {
		return true
	}
	x.yielded = true
	cx.Waker().Wake()
	return false
}
