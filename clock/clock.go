// Package clock implements the kernel's monotonic millisecond clock.
//
// The counter is advanced exactly once per timer interrupt, by [Clock.Tick].
// Reading it is a single atomic load.
package clock

import (
	"math"
	"strconv"
	"sync/atomic"
	"time"
)

// TickListener is called synchronously by Tick, with the new timestamp.
type TickListener func(now uint64)

// Clock is a monotonically nondecreasing millisecond counter.
//
// The zero value is ready to use, and reads zero.
type Clock struct {
	listener atomic.Pointer[TickListener]
	ms       atomic.Uint64
}

// Instant is a snapshot of a Clock.
type Instant struct {
	ms uint64
}

// New returns a Clock reading zero.
func New() *Clock { return new(Clock) }

// SetTickListener installs the function that Tick calls after advancing the
// counter. A nil listener removes it.
func (c *Clock) SetTickListener(fn TickListener) {
	if fn == nil {
		c.listener.Store(nil)
		return
	}
	c.listener.Store(&fn)
}

// Tick advances the clock by one millisecond and delivers the new timestamp to
// the tick listener, returning it.
func (c *Clock) Tick() uint64 {
	now := c.ms.Add(1)
	if fn := c.listener.Load(); fn != nil {
		(*fn)(now)
	}
	return now
}

// NowMs returns the current timestamp, in milliseconds since boot.
func (c *Clock) NowMs() uint64 {
	return c.ms.Load()
}

// Now returns the current Instant.
func (c *Clock) Now() Instant {
	return Instant{ms: c.NowMs()}
}

// ElapsedMs returns the milliseconds since i. The subtraction wraps, so the
// result is only meaningful for intervals shorter than the counter's range.
func (c *Clock) ElapsedMs(i Instant) uint64 {
	return c.NowMs() - i.ms
}

// Elapsed is ElapsedMs as a time.Duration.
func (c *Clock) Elapsed(i Instant) time.Duration {
	return msToDuration(c.ElapsedMs(i))
}

// InstantFromMs builds an Instant from a timestamp.
func InstantFromMs(ms uint64) Instant {
	return Instant{ms: ms}
}

// SinceEpoch returns the timestamp, in milliseconds since boot.
func (i Instant) SinceEpoch() uint64 {
	return i.ms
}

// DurationSince returns the time elapsed from earlier to i, or zero if earlier
// is after i.
func (i Instant) DurationSince(earlier Instant) time.Duration {
	if earlier.ms >= i.ms {
		return 0
	}
	return msToDuration(i.ms - earlier.ms)
}

// CheckedAddMs returns i+ms, or false on overflow.
func (i Instant) CheckedAddMs(ms uint64) (Instant, bool) {
	if ms > math.MaxUint64-i.ms {
		return Instant{}, false
	}
	return Instant{ms: i.ms + ms}, true
}

// CheckedSubMs returns i-ms, or false on underflow.
func (i Instant) CheckedSubMs(ms uint64) (Instant, bool) {
	if ms > i.ms {
		return Instant{}, false
	}
	return Instant{ms: i.ms - ms}, true
}

// CheckedAdd is CheckedAddMs for a duration, truncated to milliseconds.
// Negative durations are rejected.
func (i Instant) CheckedAdd(d time.Duration) (Instant, bool) {
	if d < 0 {
		return Instant{}, false
	}
	return i.CheckedAddMs(uint64(d.Milliseconds()))
}

// CheckedSub is CheckedSubMs for a duration, truncated to milliseconds.
// Negative durations are rejected.
func (i Instant) CheckedSub(d time.Duration) (Instant, bool) {
	if d < 0 {
		return Instant{}, false
	}
	return i.CheckedSubMs(uint64(d.Milliseconds()))
}

// Before reports whether i is strictly earlier than o.
func (i Instant) Before(o Instant) bool { return i.ms < o.ms }

// After reports whether i is strictly later than o.
func (i Instant) After(o Instant) bool { return i.ms > o.ms }

func (i Instant) String() string {
	return strconv.FormatUint(i.ms, 10) + "ms"
}

func msToDuration(ms uint64) time.Duration {
	if ms > uint64(math.MaxInt64/int64(time.Millisecond)) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ms) * time.Millisecond
}
