package cpu

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

// Line identifies an interrupt request line. Lower lines have priority when
// more than one request is pending.
type Line uint8

const (
	// IRQTimer is the programmable interval timer (IRQ0).
	IRQTimer Line = iota
	// IRQKeyboard is the PS/2 keyboard controller (IRQ1).
	IRQKeyboard
	// NumLines is the number of interrupt request lines.
	NumLines
)

// String returns a human-readable representation of the line.
func (l Line) String() string {
	switch l {
	case IRQTimer:
		return "timer"
	case IRQKeyboard:
		return "keyboard"
	default:
		return "irq" + strconv.Itoa(int(l))
	}
}

// Handler services one interrupt request on the given line.
type Handler func(line Line)

// Stats is a snapshot of Core counters.
type Stats struct {
	Raised   [NumLines]uint64
	Serviced [NumLines]uint64
	Halts    uint64
}

// Core is a simulated single hardware thread. See the package documentation.
type Core struct {
	logger    *logiface.Logger[logiface.Event]
	wake      chan struct{}
	handlers  [NumLines]atomic.Pointer[Handler]
	pending   [NumLines]atomic.Uint64
	raised    [NumLines]atomic.Uint64
	serviced  [NumLines]atomic.Uint64
	halts     atomic.Uint64
	enabled   atomic.Bool
	servicing atomic.Bool
}

// New creates a Core with interrupts disabled, as at boot.
func New(opts ...CoreOption) (*Core, error) {
	cfg, err := resolveCoreOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Core{
		logger: cfg.logger,
		wake:   make(chan struct{}, 1),
	}, nil
}

// Handle installs h as the handler for line, replacing any previous handler.
// A nil h uninstalls the handler.
func (c *Core) Handle(line Line, h Handler) {
	checkLine(line)
	if h == nil {
		c.handlers[line].Store(nil)
		return
	}
	c.handlers[line].Store(&h)
}

// Raise asserts an interrupt request on line. It is safe to call from any
// goroutine, never blocks, and never loses a request.
func (c *Core) Raise(line Line) {
	checkLine(line)
	c.raised[line].Add(1)
	c.pending[line].Add(1)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of undelivered requests on line.
func (c *Core) Pending(line Line) uint64 {
	checkLine(line)
	return c.pending[line].Load()
}

// Enabled reports whether interrupts are currently enabled.
func (c *Core) Enabled() bool {
	return c.enabled.Load()
}

// Disable clears the interrupt flag, returning whether it was set.
func (c *Core) Disable() (wasEnabled bool) {
	return c.enabled.Swap(false)
}

// Restore sets the interrupt flag back to the state returned by Disable.
func (c *Core) Restore(wasEnabled bool) {
	if wasEnabled {
		c.Enable()
	}
}

// Enable sets the interrupt flag, then delivers any pending requests.
func (c *Core) Enable() {
	c.enabled.Store(true)
	c.Service()
}

// EnableAndHalt atomically enables interrupts and halts until at least one
// request is raised, then services it. It returns early with ctx.Err() if ctx
// is done while halted.
//
// Callers disable interrupts, check their own wake condition, and only then
// call EnableAndHalt: a request raised at any point after Disable is observed
// here, so the check and the halt cannot race.
func (c *Core) EnableAndHalt(ctx context.Context) error {
	c.enabled.Store(true)
	if !c.hasPending() {
		c.halts.Add(1)
		select {
		case <-c.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.Service()
	return nil
}

// Service delivers pending requests if interrupts are enabled. It is a no-op
// while a handler is already running.
func (c *Core) Service() {
	for c.enabled.Load() && c.hasPending() {
		if !c.servicing.CompareAndSwap(false, true) {
			return
		}
		func() {
			defer c.servicing.Store(false)
			c.drain()
		}()
	}
}

// Stats returns a snapshot of the counters.
func (c *Core) Stats() (s Stats) {
	for line := Line(0); line < NumLines; line++ {
		s.Raised[line] = c.raised[line].Load()
		s.Serviced[line] = c.serviced[line].Load()
	}
	s.Halts = c.halts.Load()
	return
}

func (c *Core) drain() {
	for line := Line(0); line < NumLines; line++ {
		for c.enabled.Load() && c.takePending(line) {
			c.deliver(line)
		}
	}
}

func (c *Core) deliver(line Line) {
	// the flag is cleared on entry and set again on return from the handler
	c.enabled.Store(false)
	defer c.enabled.Store(true)

	c.serviced[line].Add(1)

	h := c.handlers[line].Load()
	if h == nil {
		c.logger.Warning().
			Stringer(`line`, line).
			Log(`cpu: spurious interrupt`)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Err().
				Stringer(`line`, line).
				Any(`panic`, r).
				Log(`cpu: interrupt handler panicked`)
			panic(r)
		}
	}()

	(*h)(line)
}

func (c *Core) takePending(line Line) bool {
	for {
		n := c.pending[line].Load()
		if n == 0 {
			return false
		}
		if c.pending[line].CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (c *Core) hasPending() bool {
	for line := Line(0); line < NumLines; line++ {
		if c.pending[line].Load() != 0 {
			return true
		}
	}
	return false
}

func checkLine(line Line) {
	if line >= NumLines {
		panic(`cpu: invalid interrupt line ` + strconv.Itoa(int(line)))
	}
}
