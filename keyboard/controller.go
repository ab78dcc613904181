package keyboard

import (
	"sync/atomic"

	"github.com/joeycumines/go-kcore/queue"
	"github.com/joeycumines/go-kcore/spinlock"
)

// DataPort is the 8042 data port that the interrupt handler reads.
const DataPort = 0x60

// Controller simulates the output buffer of a PS/2 controller. The host
// latches bytes with Press, each raising one keyboard interrupt, and the
// handler collects them with ReadData.
type Controller struct {
	buf      *spinlock.Lock[*queue.Ring[byte]]
	raise    func()
	overruns atomic.Uint64
}

// NewController returns a Controller buffering up to capacity bytes, calling
// raise once for every byte latched.
func NewController(capacity int, raise func()) *Controller {
	if raise == nil {
		panic(`keyboard: nil raise`)
	}
	return &Controller{
		buf:   spinlock.New(queue.NewRing[byte](capacity)),
		raise: raise,
	}
}

// Press latches a byte, returning false if the buffer overran.
func (c *Controller) Press(b byte) bool {
	var ok bool
	c.buf.With(func(r **queue.Ring[byte]) { ok = (*r).TryPush(b) })
	if !ok {
		c.overruns.Add(1)
		return false
	}
	c.raise()
	return true
}

// ReadData reads the next latched byte, as the handler would from DataPort.
func (c *Controller) ReadData() (b byte, ok bool) {
	c.buf.With(func(r **queue.Ring[byte]) { b, ok = (*r).TryPop() })
	return
}

// Overruns returns the number of bytes lost to a full buffer.
func (c *Controller) Overruns() uint64 {
	return c.overruns.Load()
}
