package kernel

import (
	"io"

	"github.com/joeycumines/go-kcore/keyboard"
	"github.com/joeycumines/go-kcore/task"
	"golang.org/x/text/encoding/charmap"
)

// Scancodes that end Echo.
const (
	ScancodeQuit      = 'q'
	ScancodeInterrupt = 0x03
)

// Heartbeat returns a task that logs the kernel's counters every periodMs,
// forever.
func (k *Kernel) Heartbeat(periodMs uint64) task.Future {
	interval := k.wheel.NewInterval(periodMs)
	return task.Async(func(await func(task.Future)) {
		for {
			await(interval.Tick())
			s := k.Stats()
			k.logger.Info().
				Dur(`uptime`, s.Uptime).
				Int(`tasks`, s.Executor.Tasks).
				Uint64(`polls`, s.Executor.Polls).
				Int(`timers`, s.Timers).
				Int(`free_regions`, s.Heap.FreeRegions).
				Uint64(`heap_used`, uint64(s.Heap.Used)).
				Uint64(`heap_free`, uint64(s.Heap.FreeMemory)).
				Uint64(`halts`, s.CPU.Halts).
				Uint64(`scancodes_dropped`, s.ScancodesDropped).
				Log(`heartbeat`)
		}
	})
}

// Echo returns a task that copies scancodes from stream to w, until it reads
// ScancodeQuit or ScancodeInterrupt, or a write fails. It then calls quit, if
// non-nil, and completes. Bytes are rendered as the code page 437 glyphs a VGA
// text console would show, and carriage returns become line breaks.
func (k *Kernel) Echo(stream *keyboard.Stream, w io.Writer, quit func()) task.Future {
	return task.Async(func(await func(task.Future)) {
		k.echo(await, stream, w)
		if quit != nil {
			quit()
		}
	})
}

func (k *Kernel) echo(await func(task.Future), stream *keyboard.Stream, w io.Writer) {
	for {
		b := task.Await(await, stream.PollNext)
		var s string
		switch b {
		case ScancodeQuit, ScancodeInterrupt:
			return
		case '\r':
			s = "\r\n"
		default:
			s = string(charmap.CodePage437.DecodeByte(b))
		}
		if _, err := io.WriteString(w, s); err != nil {
			k.logger.Err().
				Err(err).
				Int(`scancode`, int(b)).
				Log(`kernel: echo write failed`)
			return
		}
	}
}
