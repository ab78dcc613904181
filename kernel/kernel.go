// Package kernel boots the core: it maps the heap, installs the interrupt
// handlers, and wires the clock, timers, keyboard and executor together.
//
// A Kernel belongs to the goroutine that booted it. Only RaiseTimer and
// PressKey may be called from other goroutines.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-kcore/alloc"
	"github.com/joeycumines/go-kcore/clock"
	"github.com/joeycumines/go-kcore/cpu"
	"github.com/joeycumines/go-kcore/keyboard"
	"github.com/joeycumines/go-kcore/spinlock"
	"github.com/joeycumines/go-kcore/task"
	"github.com/joeycumines/go-kcore/timer"
	"github.com/joeycumines/logiface"
)

// ErrScancodesTaken is returned by Kernel.Scancodes after the first call.
var ErrScancodesTaken = errors.New("kernel: scancode stream already taken")

type (
	// Kernel is a booted kernel.
	Kernel struct {
		cfg       Config
		logger    *logiface.Logger[logiface.Event]
		core      *cpu.Core
		clock     *clock.Clock
		heap      *alloc.Global
		wheel     *timer.Wheel
		exec      *task.Executor
		kbc       *keyboard.Controller
		scancodes *spinlock.Lazy[*keyboard.Queue]
		pics      *spinlock.LazyLock[chainedPICs]
		lost      atomic.Uint64
		divisor   uint16
	}

	// Stats is a snapshot of the kernel's counters.
	Stats struct {
		CPU              cpu.Stats
		Heap             alloc.Stats
		Executor         task.ExecutorStats
		Uptime           time.Duration
		Timers           int
		ScancodesQueued  int
		ScancodesDropped uint64
		ScancodesLost    uint64
		Overruns         uint64
		EndOfInterrupts  [cpu.NumLines]uint64
	}
)

// Boot validates cfg, initializes every subsystem, and enables interrupts.
// The calling goroutine becomes the kernel goroutine.
func Boot(cfg Config, opts ...Option) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o, err := resolveKernelOptions(opts)
	if err != nil {
		return nil, err
	}
	divisor, err := PITDivisor(time.Duration(cfg.TickPeriod))
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		cfg:     cfg,
		logger:  o.logger,
		clock:   clock.New(),
		divisor: divisor,
	}

	if k.core, err = cpu.New(cpu.WithLogger(o.logger)); err != nil {
		return nil, fmt.Errorf("kernel: cpu: %w", err)
	}

	var heap alloc.Allocator
	switch cfg.Allocator {
	case AllocatorBump:
		heap = new(alloc.Bump)
	default:
		heap = new(alloc.FreeList)
	}
	k.heap = alloc.NewGlobal(k.core, heap)
	k.heap.Init(alloc.NewArena(uintptr(cfg.HeapStart), int(cfg.HeapSize)))

	if k.wheel, err = timer.NewWheel(k.clock, timer.WithInterrupts(k.core), timer.WithLogger(o.logger)); err != nil {
		return nil, fmt.Errorf("kernel: timer: %w", err)
	}
	k.clock.SetTickListener(k.wheel.Fire)

	if k.exec, err = task.NewExecutor(
		task.WithCore(k.core),
		task.WithSpawnQueueCapacity(cfg.SpawnQueueCapacity),
		task.WithLogger(o.logger),
	); err != nil {
		return nil, fmt.Errorf("kernel: executor: %w", err)
	}

	k.kbc = keyboard.NewController(o.controllerBuffer, func() { k.core.Raise(cpu.IRQKeyboard) })
	k.scancodes = spinlock.NewLazy[*keyboard.Queue](nil)
	k.pics = spinlock.NewLazyLockIRQSafe(k.core, func() chainedPICs {
		k.logger.Debug().
			Int(`offset1`, PIC1Offset).
			Int(`offset2`, PIC2Offset).
			Log(`kernel: pics initialized`)
		return newChainedPICs(PIC1Offset, PIC2Offset)
	})

	k.core.Handle(cpu.IRQTimer, k.timerInterrupt)
	k.core.Handle(cpu.IRQKeyboard, k.keyboardInterrupt)

	k.logger.Info().
		Str(`allocator`, cfg.Allocator).
		Uint64(`heap_start`, cfg.HeapStart).
		Uint64(`heap_size`, cfg.HeapSize).
		Dur(`tick_period`, time.Duration(cfg.TickPeriod)).
		Int(`pit_divisor`, int(divisor)).
		Log(`kernel: booted`)

	k.core.Enable()

	return k, nil
}

func (k *Kernel) timerInterrupt(line cpu.Line) {
	k.clock.Tick()
	k.endOfInterrupt(line)
}

func (k *Kernel) keyboardInterrupt(line cpu.Line) {
	if b, ok := k.kbc.ReadData(); ok {
		if q, ok := k.scancodes.GetIfInit(); ok {
			(*q).Add(b)
		} else {
			k.lost.Add(1)
			k.logger.Warning().
				Int(`scancode`, int(b)).
				Log(`kernel: scancode queue uninitialized`)
		}
	}
	k.endOfInterrupt(line)
}

func (k *Kernel) endOfInterrupt(line cpu.Line) {
	k.pics.With(func(p *chainedPICs) { p.endOfInterrupt(Vector(line)) })
}

// Scancodes initializes the scancode queue, storing it on the kernel heap, and
// returns its only consumer. Until it is called, the keyboard handler drops
// every scancode.
func (k *Kernel) Scancodes() (*keyboard.Stream, error) {
	if k.scancodes.Status() != spinlock.Uninit {
		return nil, ErrScancodesTaken
	}
	layout, err := alloc.NewLayout(uintptr(k.cfg.ScancodeQueueCapacity), 1)
	if err != nil {
		return nil, fmt.Errorf("kernel: scancode queue: %w", err)
	}
	block, err := k.heap.Make(layout)
	if err != nil {
		return nil, fmt.Errorf("kernel: scancode queue: %w", err)
	}
	rates, err := k.cfg.DropLogRate()
	if err != nil {
		k.heap.Free(block)
		return nil, err
	}
	q, err := keyboard.NewQueue(block.Data,
		keyboard.WithInterrupts(k.core),
		keyboard.WithLogger(k.logger),
		keyboard.WithDropLogRate(rates),
	)
	if err != nil {
		k.heap.Free(block)
		return nil, fmt.Errorf("kernel: scancode queue: %w", err)
	}
	if err := k.scancodes.InsertIfUninit(q); err != nil {
		k.heap.Free(block)
		return nil, ErrScancodesTaken
	}
	k.logger.Debug().
		Int(`capacity`, q.Cap()).
		Uint64(`addr`, uint64(block.Ptr)).
		Log(`kernel: scancode queue initialized`)
	return q.Stream(), nil
}

// Run runs the executor until every task completes or ctx is done.
func (k *Kernel) Run(ctx context.Context) error {
	return k.exec.Run(ctx)
}

// Shutdown discards every remaining task.
func (k *Kernel) Shutdown() {
	k.exec.Shutdown()
	k.logger.Info().
		Uint64(`uptime_ms`, k.clock.NowMs()).
		Log(`kernel: shut down`)
}

// Spawn starts f as a new task.
func (k *Kernel) Spawn(f task.Future) task.ID {
	return k.exec.Go(f)
}

// RaiseTimer requests a timer interrupt. It may be called from any goroutine.
func (k *Kernel) RaiseTimer() {
	k.core.Raise(cpu.IRQTimer)
}

// PressKey latches a scancode in the keyboard controller, which requests a
// keyboard interrupt. It may be called from any goroutine.
func (k *Kernel) PressKey(b byte) bool {
	return k.kbc.Press(b)
}

// Config returns the configuration the kernel booted with.
func (k *Kernel) Config() Config { return k.cfg }

// Core returns the CPU.
func (k *Kernel) Core() *cpu.Core { return k.core }

// Clock returns the millisecond clock.
func (k *Kernel) Clock() *clock.Clock { return k.clock }

// Heap returns the kernel heap.
func (k *Kernel) Heap() *alloc.Global { return k.heap }

// Timers returns the timer wheel.
func (k *Kernel) Timers() *timer.Wheel { return k.wheel }

// Executor returns the task executor.
func (k *Kernel) Executor() *task.Executor { return k.exec }

// Spawner returns a handle for spawning tasks from tasks or handlers.
func (k *Kernel) Spawner() task.Spawner { return k.exec.Spawner() }

// PITDivisor returns the timer reload value for the configured tick period.
func (k *Kernel) PITDivisor() uint16 { return k.divisor }

// Stats returns a snapshot of the kernel's counters.
func (k *Kernel) Stats() (s Stats) {
	s.CPU = k.core.Stats()
	s.Heap = k.heap.Stats()
	s.Executor = k.exec.Stats()
	s.Uptime = k.clock.Elapsed(clock.InstantFromMs(0))
	s.Timers = k.wheel.Len()
	if q, ok := k.scancodes.GetIfInit(); ok {
		s.ScancodesQueued = (*q).Len()
		s.ScancodesDropped = (*q).Dropped()
	}
	s.ScancodesLost = k.lost.Load()
	s.Overruns = k.kbc.Overruns()
	k.pics.With(func(p *chainedPICs) {
		for line := cpu.Line(0); line < cpu.NumLines; line++ {
			s.EndOfInterrupts[line] = p.eoi[Vector(line)-PIC1Offset]
		}
	})
	return
}
