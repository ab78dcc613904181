package task

import (
	"errors"
	"iter"
)

// errDropped unwinds the body of an Async future that was dropped while
// suspended.
var errDropped = errors.New("task: async future dropped")

type asyncFuture struct {
	body    func(await func(Future))
	next    func() (Future, bool)
	stop    func()
	current Future
	done    bool
}

// Async returns a Future whose continuation is written as ordinary
// straight-line code. Calling await suspends the body until the given future
// completes.
//
// The body runs as a coroutine: control passes to it during Poll and comes
// back when it awaits something that is not ready, so exactly one of the
// executor and the body is ever running.
//
//	task.Async(func(await func(task.Future)) {
//		await(timers.Sleep(100))
//		b := task.Await(await, scancodes.PollNext)
//		...
//	})
func Async(body func(await func(Future))) Future {
	if body == nil {
		panic(`task: nil async body`)
	}
	return &asyncFuture{body: body}
}

// Await suspends an Async body until poll reports a value, and returns it.
func Await[T any](await func(Future), poll func(cx *Context) (T, bool)) T {
	p := NewPoller(poll)
	await(p)
	return p.Value()
}

func (x *asyncFuture) Poll(cx *Context) bool {
	if x.done {
		return true
	}
	if x.next == nil {
		x.next, x.stop = iter.Pull(x.seq)
	}
	for {
		if x.current != nil {
			if !x.current.Poll(cx) {
				return false
			}
			x.current = nil
		}
		f, ok := x.next()
		if !ok {
			x.done = true
			x.stop()
			return true
		}
		x.current = f
	}
}

// Drop unwinds a suspended body, running its deferred calls.
func (x *asyncFuture) Drop() {
	if x.done || x.stop == nil {
		return
	}
	x.done = true
	defer func() {
		if r := recover(); r != nil && r != errDropped {
			panic(r)
		}
	}()
	x.stop()
}

func (x *asyncFuture) seq(yield func(Future) bool) {
	x.body(func(f Future) {
		if f == nil {
			return
		}
		if !yield(f) {
			panic(errDropped)
		}
	})
}
