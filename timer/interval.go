package timer

import (
	"math"
	"time"

	"github.com/joeycumines/go-kcore/clock"
	"github.com/joeycumines/go-kcore/task"
)

// Never is the deadline of a sleep or tick that lies beyond the range of the
// clock. It is never reached, and never registered with the wheel.
const Never uint64 = math.MaxUint64

// deadlineAfter returns ts+ms, saturating at Never.
func deadlineAfter(ts, ms uint64) uint64 {
	if i, ok := clock.InstantFromMs(ts).CheckedAddMs(ms); ok {
		return i.SinceEpoch()
	}
	return Never
}

// Interval yields a tick every period milliseconds. It is owned by a single
// task.
type Interval struct {
	wheel  *Wheel
	last   uint64
	period uint64
}

// NewInterval returns an Interval whose first tick is due one period from
// now. It panics if periodMs is zero.
func (w *Wheel) NewInterval(periodMs uint64) *Interval {
	if periodMs == 0 {
		panic(`timer: interval period must be non-zero`)
	}
	return &Interval{
		wheel:  w,
		last:   w.source.NowMs(),
		period: periodMs,
	}
}

// PollTick returns the timestamp of the next tick once it is due. Each call
// that succeeds advances by exactly one period, so ticks missed while the
// task was busy are delivered back to back. A tick past the end of the
// clock's range is never due.
func (x *Interval) PollTick(cx *task.Context) (uint64, bool) {
	next := deadlineAfter(x.last, x.period)
	if next == Never {
		return 0, false
	}
	if x.wheel.source.NowMs() >= next {
		x.last = next
		return next, true
	}
	x.wheel.Register(next, cx.Waker())
	// the deadline may have passed since the first check
	if x.wheel.source.NowMs() >= next {
		x.last = next
		return next, true
	}
	return 0, false
}

// Tick returns a Future that completes at the next tick.
func (x *Interval) Tick() task.Future {
	return task.NewPoller(x.PollTick)
}

// Reset restarts the interval from the current time.
func (x *Interval) Reset() {
	x.last = x.wheel.source.NowMs()
}

// Period returns the interval's period.
func (x *Interval) Period() time.Duration {
	return time.Duration(x.period) * time.Millisecond
}

type sleepFuture struct {
	wheel    *Wheel
	deadline uint64
}

// Sleep returns a Future that completes ms milliseconds from now. A sleep
// that would end past the range of the clock never completes.
func (w *Wheel) Sleep(ms uint64) task.Future {
	return w.SleepUntil(deadlineAfter(w.source.NowMs(), ms))
}

// SleepUntil returns a Future that completes once the time reaches ts. A
// timestamp of zero, or one already passed, completes on its first poll, and
// Never is never reached.
func (w *Wheel) SleepUntil(ts uint64) task.Future {
	return &sleepFuture{wheel: w, deadline: ts}
}

func (x *sleepFuture) Poll(cx *task.Context) bool {
	if x.deadline == Never {
		return false
	}
	if x.wheel.source.NowMs() >= x.deadline {
		return true
	}
	x.wheel.Register(x.deadline, cx.Waker())
	return x.wheel.source.NowMs() >= x.deadline
}
