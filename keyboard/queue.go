// Package keyboard carries scancodes from the keyboard interrupt handler to
// the task that consumes them.
package keyboard

import (
	"fmt"
	"sync/atomic"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-kcore/queue"
	"github.com/joeycumines/go-kcore/spinlock"
	"github.com/joeycumines/go-kcore/task"
	"github.com/joeycumines/logiface"
)

// DefaultCapacity is the scancode queue capacity used by the kernel.
const DefaultCapacity = 64

// DefaultDropLogRate limits how often a full queue is reported.
var DefaultDropLogRate = map[time.Duration]int{time.Second: 1, time.Minute: 10}

// Queue is a bounded scancode queue, with a single consumer that may wait
// on it. Add never blocks, so it is safe to call from an interrupt handler.
type Queue struct {
	lock    *spinlock.Lock[*queue.Ring[byte]]
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
	waker   task.AtomicWaker
	added   atomic.Uint64
	dropped atomic.Uint64
}

// Stream is the consuming end of a Queue.
type Stream struct {
	q *Queue
}

// NewQueue returns an empty Queue that stores scancodes in buf. It panics if
// buf is empty.
func NewQueue(buf []byte, opts ...Option) (*Queue, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	ring := queue.NewRingOn(buf)
	q := &Queue{logger: cfg.logger}
	if cfg.interrupts != nil {
		q.lock = spinlock.NewIRQSafe(cfg.interrupts, ring)
	} else {
		q.lock = spinlock.New(ring)
	}
	if len(cfg.dropLogRate) != 0 {
		if q.limiter, err = newLimiter(cfg.dropLogRate); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func newLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("keyboard: drop log rate: %v", r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// Add enqueues a scancode, dropping it if the queue is full, then wakes the
// consumer either way.
func (q *Queue) Add(scancode byte) {
	var ok bool
	q.lock.With(func(r **queue.Ring[byte]) { ok = (*r).TryPush(scancode) })
	if ok {
		q.added.Add(1)
	} else {
		dropped := q.dropped.Add(1)
		if _, allow := q.limiter.Allow(q); allow {
			q.logger.Warning().
				Int(`scancode`, int(scancode)).
				Uint64(`dropped`, dropped).
				Log(`scancode queue full, dropping scancode`)
		}
	}
	q.waker.Wake()
}

// TryPop removes the oldest scancode.
func (q *Queue) TryPop() (b byte, ok bool) {
	q.lock.With(func(r **queue.Ring[byte]) { b, ok = (*r).TryPop() })
	return
}

// Len returns the number of queued scancodes.
func (q *Queue) Len() (n int) {
	q.lock.With(func(r **queue.Ring[byte]) { n = (*r).Len() })
	return
}

// Cap returns the capacity.
func (q *Queue) Cap() (n int) {
	q.lock.With(func(r **queue.Ring[byte]) { n = (*r).Cap() })
	return
}

// Added returns the number of scancodes accepted.
func (q *Queue) Added() uint64 { return q.added.Load() }

// Dropped returns the number of scancodes dropped because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Stream returns the consuming end of the queue.
func (q *Queue) Stream() *Stream {
	return &Stream{q: q}
}

// PollNext returns the next scancode, or registers the task to be woken when
// one is added.
func (s *Stream) PollNext(cx *task.Context) (byte, bool) {
	if b, ok := s.q.TryPop(); ok {
		return b, true
	}
	s.q.waker.Register(cx.Waker())
	// an Add between the pop and the register would otherwise be missed
	if b, ok := s.q.TryPop(); ok {
		s.q.waker.Take()
		return b, true
	}
	return 0, false
}

// Next returns a Future producing the next scancode.
func (s *Stream) Next() *task.Poller[byte] {
	return task.NewPoller(s.PollNext)
}
