// Package timer wakes tasks at millisecond deadlines, driven by the clock's
// tick listener.
package timer

import (
	"container/heap"
	"sync/atomic"

	"github.com/joeycumines/go-kcore/spinlock"
	"github.com/joeycumines/go-kcore/task"
	"github.com/joeycumines/logiface"
)

// Source reports the current time in milliseconds. It is satisfied by
// *clock.Clock.
type Source interface {
	NowMs() uint64
}

// Wheel maps deadlines to the wakers waiting on them. It is shared between
// tasks, which register, and the timer interrupt, which fires.
type Wheel struct {
	source Source
	logger *logiface.Logger[logiface.Event]
	lock   *spinlock.Lock[wheelState]
	fired  atomic.Uint64
}

type wheelState struct {
	chains    map[uint64][]task.Waker
	deadlines deadlineHeap
}

// NewWheel returns an empty Wheel reading the time from source.
func NewWheel(source Source, opts ...Option) (*Wheel, error) {
	if source == nil {
		panic(`timer: nil source`)
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	state := wheelState{chains: make(map[uint64][]task.Waker)}
	w := &Wheel{
		source: source,
		logger: cfg.logger,
	}
	if cfg.interrupts != nil {
		w.lock = spinlock.NewIRQSafe(cfg.interrupts, state)
	} else {
		w.lock = spinlock.New(state)
	}
	return w, nil
}

// NowMs returns the current time of the wheel's source.
func (w *Wheel) NowMs() uint64 {
	return w.source.NowMs()
}

// Register arranges for waker to be woken once the time reaches ts. Wakers
// sharing a deadline are woken most recent first.
func (w *Wheel) Register(ts uint64, waker task.Waker) {
	if waker == nil {
		panic(`timer: nil waker`)
	}
	w.lock.With(func(s *wheelState) {
		chain, ok := s.chains[ts]
		if !ok {
			heap.Push(&s.deadlines, ts)
		}
		s.chains[ts] = append(chain, waker)
	})
}

// Fire wakes every waker whose deadline is at most now, in ascending deadline
// order. The wakers are called after the lock is released.
func (w *Wheel) Fire(now uint64) {
	var due []task.Waker
	w.lock.With(func(s *wheelState) {
		for len(s.deadlines) != 0 && s.deadlines[0] <= now {
			ts := heap.Pop(&s.deadlines).(uint64)
			chain := s.chains[ts]
			delete(s.chains, ts)
			for i := len(chain) - 1; i >= 0; i-- {
				due = append(due, chain[i])
			}
		}
	})
	if len(due) == 0 {
		return
	}
	w.fired.Add(uint64(len(due)))
	w.logger.Debug().
		Uint64(`now`, now).
		Int(`wakers`, len(due)).
		Log(`timer: fired`)
	for _, waker := range due {
		waker.Wake()
	}
}

// Len returns the number of distinct pending deadlines.
func (w *Wheel) Len() (n int) {
	w.lock.With(func(s *wheelState) { n = len(s.deadlines) })
	return
}

// Next returns the earliest pending deadline.
func (w *Wheel) Next() (ts uint64, ok bool) {
	w.lock.With(func(s *wheelState) {
		if len(s.deadlines) != 0 {
			ts, ok = s.deadlines[0], true
		}
	})
	return
}

// Fired returns the total number of wakers woken.
func (w *Wheel) Fired() uint64 {
	return w.fired.Load()
}

type deadlineHeap []uint64

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h deadlineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *deadlineHeap) Push(x any) {
	*h = append(*h, x.(uint64))
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
