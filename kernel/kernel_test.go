package kernel

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-kcore/alloc"
	"github.com/joeycumines/go-kcore/cpu"
	"github.com/joeycumines/go-kcore/task"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logLines struct {
	mu    sync.Mutex
	lines []string
}

func (x *logLines) logger() *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
		stumpy.L.WithWriter(logiface.WriterFunc[*stumpy.Event](func(e *stumpy.Event) error {
			x.mu.Lock()
			defer x.mu.Unlock()
			x.lines = append(x.lines, string(e.Bytes()))
			return nil
		})),
	).Logger()
}

func (x *logLines) count(substr string) (n int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, line := range x.lines {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return
}

func boot(t *testing.T, opts ...Option) *Kernel {
	t.Helper()
	k, err := Boot(DefaultConfig(), opts...)
	require.NoError(t, err)
	return k
}

func TestBoot(t *testing.T) {
	var logs logLines
	k := boot(t, WithLogger(logs.logger()))

	assert.True(t, k.Core().Enabled())
	assert.Equal(t, uint16(1193), k.PITDivisor())
	assert.Equal(t, DefaultConfig(), k.Config())
	assert.Equal(t, 1, logs.count(`kernel: booted`))

	s := k.Stats()
	assert.Equal(t, uintptr(DefaultHeapSize), s.Heap.Total)
	assert.Equal(t, uintptr(DefaultHeapSize), s.Heap.FreeMemory)
	assert.Equal(t, 1, s.Heap.FreeRegions)

	// the heap is mapped at the configured address
	ptr := k.Heap().Alloc(alloc.MustLayout(32, 16))
	assert.Equal(t, uintptr(k.Config().HeapStart), ptr)
	k.Heap().Dealloc(ptr, alloc.MustLayout(32, 16))
}

func TestBoot_invalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Allocator = `slab`
	_, err := Boot(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Boot(DefaultConfig(), WithControllerBuffer(0))
	assert.Error(t, err)
}

func TestBoot_bump(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Allocator = AllocatorBump
	k, err := Boot(cfg)
	require.NoError(t, err)
	_, err = k.Scancodes()
	require.NoError(t, err)
	assert.Equal(t, uintptr(64), k.Stats().Heap.Used)
}

func TestKernel_timerInterrupt(t *testing.T) {
	k := boot(t)
	for i := 0; i < 3; i++ {
		k.RaiseTimer()
	}
	k.Core().Service()
	assert.Equal(t, uint64(3), k.Clock().NowMs())

	s := k.Stats()
	assert.Equal(t, uint64(3), s.EndOfInterrupts[cpu.IRQTimer])
	assert.Equal(t, uint64(3), s.CPU.Serviced[cpu.IRQTimer])
	assert.Equal(t, 3*time.Millisecond, s.Uptime)
}

func TestKernel_picsMaskInterrupts(t *testing.T) {
	k := boot(t)
	g := k.pics.Lock()
	assert.False(t, k.Core().Enabled())
	k.RaiseTimer()
	k.Core().Service()
	assert.Equal(t, uint64(0), k.Clock().NowMs())

	// the pending tick lands once the lock is released
	g.Unlock()
	assert.Equal(t, uint64(1), k.Clock().NowMs())
	assert.Equal(t, uint64(1), k.Stats().EndOfInterrupts[cpu.IRQTimer])
}

func TestKernel_scancodesBeforeInit(t *testing.T) {
	var logs logLines
	k := boot(t, WithLogger(logs.logger()))

	require.True(t, k.PressKey('a'))
	k.Core().Service()
	s := k.Stats()
	assert.Equal(t, uint64(1), s.ScancodesLost)
	assert.Equal(t, uint64(1), s.EndOfInterrupts[cpu.IRQKeyboard])
	assert.Equal(t, 1, logs.count(`kernel: scancode queue uninitialized`))

	stream, err := k.Scancodes()
	require.NoError(t, err)
	require.NotNil(t, stream)
	_, err = k.Scancodes()
	assert.ErrorIs(t, err, ErrScancodesTaken)

	// the queue storage comes from the kernel heap
	assert.Equal(t, uintptr(64), k.Stats().Heap.Used)

	k.PressKey('b')
	k.Core().Service()
	b, ok := stream.PollNext(task.NewContext(nil))
	require.True(t, ok)
	assert.Equal(t, byte('b'), b)
}

func TestKernel_controllerOverrun(t *testing.T) {
	k := boot(t, WithControllerBuffer(2))
	_, err := k.Scancodes()
	require.NoError(t, err)

	// interrupts stay masked, so the controller is never drained
	was := k.Core().Disable()
	assert.True(t, k.PressKey('1'))
	assert.True(t, k.PressKey('2'))
	assert.False(t, k.PressKey('3'))
	k.Core().Restore(was)

	s := k.Stats()
	assert.Equal(t, uint64(1), s.Overruns)
	assert.Equal(t, 2, s.ScancodesQueued)
}

func TestKernel_Run_echo(t *testing.T) {
	k := boot(t)
	stream, err := k.Scancodes()
	require.NoError(t, err)

	var (
		out  bytes.Buffer
		quit atomic.Bool
	)
	k.Spawn(k.Echo(stream, &out, func() { quit.Store(true) }))

	go func() {
		for _, b := range []byte("hi\rthere" + "q" + "ignored") {
			for !k.PressKey(b) {
				time.Sleep(time.Millisecond)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, k.Run(ctx))
	assert.True(t, quit.Load())
	assert.Equal(t, "hi\r\nthere", out.String())
	assert.GreaterOrEqual(t, k.Stats().EndOfInterrupts[cpu.IRQKeyboard], uint64(9))
}

func TestKernel_Run_sleep(t *testing.T) {
	k := boot(t)
	var woke atomic.Uint64
	timers := k.Timers()
	k.Spawn(task.Async(func(await func(task.Future)) {
		await(timers.Sleep(5))
		woke.Store(k.Clock().NowMs())
	}))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				k.RaiseTimer()
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, k.Run(ctx))
	assert.GreaterOrEqual(t, woke.Load(), uint64(5))
	assert.Greater(t, k.Core().Stats().Halts, uint64(0))
}

func TestKernel_Run_canceled(t *testing.T) {
	k := boot(t)
	k.Spawn(k.Heartbeat(1000))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, k.Run(ctx), context.DeadlineExceeded)
	assert.Equal(t, 1, k.Executor().Len())
	k.Shutdown()
	assert.Equal(t, 0, k.Executor().Len())
}

func TestKernel_Heartbeat(t *testing.T) {
	var logs logLines
	k := boot(t, WithLogger(logs.logger()))
	k.Spawn(k.Heartbeat(10))
	for i := 0; i < 25; i++ {
		k.RaiseTimer()
		k.Core().Service()
		require.NoError(t, k.Executor().RunUntilIdle())
	}
	assert.Equal(t, 2, logs.count(`"msg":"heartbeat"`))
	k.Shutdown()
}

func TestKernel_Spawner(t *testing.T) {
	k := boot(t)
	var ran bool
	k.Spawner().Go(task.FutureFunc(func(*task.Context) bool {
		ran = true
		return true
	}))
	require.NoError(t, k.Run(context.Background()))
	assert.True(t, ran)
}

type failingWriter struct{ writes int }

func (x *failingWriter) Write([]byte) (int, error) {
	x.writes++
	return 0, errors.New(`broken pipe`)
}

func TestEcho_writeError(t *testing.T) {
	var logs logLines
	k := boot(t, WithLogger(logs.logger()))
	stream, err := k.Scancodes()
	require.NoError(t, err)
	var (
		w    failingWriter
		quit bool
	)
	k.Spawn(k.Echo(stream, &w, func() { quit = true }))
	for _, b := range []byte(`abc`) {
		require.True(t, k.PressKey(b))
	}
	require.NoError(t, k.Run(context.Background()))
	assert.True(t, quit)
	assert.Equal(t, 1, w.writes)
	assert.Equal(t, 1, logs.count(`kernel: echo write failed`))
	assert.Equal(t, 2, k.Stats().ScancodesQueued)
}

func TestEcho_codePage437(t *testing.T) {
	k := boot(t)
	stream, err := k.Scancodes()
	require.NoError(t, err)
	var out bytes.Buffer
	k.Spawn(k.Echo(stream, &out, nil))
	for _, b := range []byte{'A', 0xC9, 0xCD, 0xBB, '\r', ScancodeInterrupt} {
		require.True(t, k.PressKey(b))
	}
	require.NoError(t, k.Run(context.Background()))
	assert.Equal(t, "A╔═╗\r\n", out.String())
}
