package cpu

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	c, err := New()
	require.NoError(t, err)
	return c
}

func TestCore_bootsDisabled(t *testing.T) {
	c := newTestCore(t)
	var calls int
	c.Handle(IRQTimer, func(Line) { calls++ })

	c.Raise(IRQTimer)
	c.Service()
	assert.Equal(t, 0, calls)
	assert.Equal(t, uint64(1), c.Pending(IRQTimer))

	c.Enable()
	assert.Equal(t, 1, calls)
	assert.Equal(t, uint64(0), c.Pending(IRQTimer))
}

func TestCore_DisableRestore(t *testing.T) {
	c := newTestCore(t)
	var calls int
	c.Handle(IRQKeyboard, func(Line) { calls++ })
	c.Enable()

	was := c.Disable()
	require.True(t, was)
	require.False(t, c.Enabled())

	// nested critical section must not re-enable
	inner := c.Disable()
	require.False(t, inner)
	c.Raise(IRQKeyboard)
	c.Restore(inner)
	assert.Equal(t, 0, calls)
	assert.False(t, c.Enabled())

	c.Restore(was)
	assert.True(t, c.Enabled())
	assert.Equal(t, 1, calls)
}

func TestCore_handlerRunsWithInterruptsDisabled(t *testing.T) {
	c := newTestCore(t)
	var (
		sawEnabled bool
		nested     int
	)
	c.Handle(IRQTimer, func(Line) {
		sawEnabled = c.Enabled()
		// a request raised inside a handler is delivered after it returns
		if nested == 0 {
			c.Raise(IRQKeyboard)
		}
	})
	c.Handle(IRQKeyboard, func(Line) { nested++ })
	c.Enable()

	c.Raise(IRQTimer)
	c.Service()

	assert.False(t, sawEnabled)
	assert.Equal(t, 1, nested)
	assert.True(t, c.Enabled())
}

func TestCore_priority(t *testing.T) {
	c := newTestCore(t)
	var order []Line
	h := func(line Line) { order = append(order, line) }
	c.Handle(IRQTimer, h)
	c.Handle(IRQKeyboard, h)

	c.Raise(IRQKeyboard)
	c.Raise(IRQTimer)
	c.Raise(IRQTimer)
	c.Enable()

	assert.Equal(t, []Line{IRQTimer, IRQTimer, IRQKeyboard}, order)
}

func TestCore_spuriousInterrupt(t *testing.T) {
	c := newTestCore(t)
	c.Enable()
	c.Raise(IRQKeyboard)
	c.Service()
	s := c.Stats()
	assert.Equal(t, uint64(1), s.Raised[IRQKeyboard])
	assert.Equal(t, uint64(1), s.Serviced[IRQKeyboard])
}

func TestCore_handlerPanicPropagates(t *testing.T) {
	c := newTestCore(t)
	c.Handle(IRQTimer, func(Line) { panic(`boom`) })
	c.Raise(IRQTimer)
	assert.PanicsWithValue(t, `boom`, c.Enable)
	assert.True(t, c.Enabled())

	// the core is still usable afterwards
	var calls int
	c.Handle(IRQTimer, func(Line) { calls++ })
	c.Raise(IRQTimer)
	c.Service()
	assert.Equal(t, 1, calls)
}

func TestCore_EnableAndHalt(t *testing.T) {
	c := newTestCore(t)
	got := make(chan struct{}, 1)
	c.Handle(IRQTimer, func(Line) { got <- struct{}{} })

	done := make(chan error, 1)
	go func() {
		c.Disable()
		done <- c.EnableAndHalt(context.Background())
	}()

	// give the core a chance to halt; either order is correct
	time.Sleep(10 * time.Millisecond)
	c.Raise(IRQTimer)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal(`EnableAndHalt() did not wake`)
	}
	select {
	case <-got:
	default:
		t.Fatal(`handler did not run`)
	}
}

func TestCore_EnableAndHalt_pendingDoesNotBlock(t *testing.T) {
	c := newTestCore(t)
	var calls int
	c.Handle(IRQTimer, func(Line) { calls++ })

	c.Raise(IRQTimer)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// pending work wins over a done context
	require.NoError(t, c.EnableAndHalt(ctx))
	assert.Equal(t, 1, calls)
	assert.Equal(t, uint64(0), c.Stats().Halts)
}

func TestCore_EnableAndHalt_contextDone(t *testing.T) {
	c := newTestCore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.EnableAndHalt(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(1), c.Stats().Halts)
}

func TestCore_Raise_concurrentNoLostRequests(t *testing.T) {
	const (
		producers = 8
		each      = 500
	)
	c := newTestCore(t)
	var calls int
	c.Handle(IRQTimer, func(Line) { calls++ })

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				c.Raise(IRQTimer)
			}
		}()
	}
	wg.Wait()
	c.Enable()

	assert.Equal(t, producers*each, calls)
}

func TestCore_invalidLine(t *testing.T) {
	c := newTestCore(t)
	assert.Panics(t, func() { c.Raise(NumLines) })
}

func TestLine_String(t *testing.T) {
	assert.Equal(t, `timer`, IRQTimer.String())
	assert.Equal(t, `keyboard`, IRQKeyboard.String())
	assert.Equal(t, `irq7`, Line(7).String())
}
