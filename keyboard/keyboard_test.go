package keyboard

import (
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-kcore/cpu"
	"github.com/joeycumines/go-kcore/task"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	mu    sync.Mutex
	lines []string
}

func (x *captured) logger() *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithTimeField(``)),
		stumpy.L.WithWriter(logiface.WriterFunc[*stumpy.Event](func(e *stumpy.Event) error {
			x.mu.Lock()
			defer x.mu.Unlock()
			x.lines = append(x.lines, string(e.Bytes()))
			return nil
		})),
	).Logger()
}

func (x *captured) len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.lines)
}

func newTestQueue(t *testing.T, capacity int, opts ...Option) *Queue {
	t.Helper()
	q, err := NewQueue(make([]byte, capacity), opts...)
	require.NoError(t, err)
	return q
}

func TestQueue_fifo(t *testing.T) {
	q := newTestQueue(t, DefaultCapacity)
	for _, b := range []byte(`hello`) {
		q.Add(b)
	}
	assert.Equal(t, 5, q.Len())
	var got []byte
	for {
		b, ok := q.TryPop()
		if !ok {
			break
		}
		got = append(got, b)
	}
	assert.Equal(t, `hello`, string(got))
}

func TestQueue_overflowDropsNewest(t *testing.T) {
	var logs captured
	q := newTestQueue(t, DefaultCapacity,
		WithLogger(logs.logger()),
		WithDropLogRate(map[time.Duration]int{time.Hour: 1}),
	)
	for i := 0; i < DefaultCapacity+3; i++ {
		q.Add(byte(i))
	}
	assert.Equal(t, DefaultCapacity, q.Len())
	assert.Equal(t, uint64(DefaultCapacity), q.Added())
	assert.Equal(t, uint64(3), q.Dropped())

	// rate limited to one report
	require.Equal(t, 1, logs.len())
	assert.Contains(t, logs.lines[0], `scancode queue full, dropping scancode`)
	assert.Contains(t, logs.lines[0], `"lvl":"warning"`)

	for i := 0; i < DefaultCapacity; i++ {
		b, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, byte(i), b)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestNewQueue_invalid(t *testing.T) {
	_, err := NewQueue(make([]byte, 1), WithDropLogRate(map[time.Duration]int{time.Second: -1}))
	assert.Error(t, err)
	assert.Panics(t, func() { _, _ = NewQueue(nil) })
}

func TestStream_PollNext(t *testing.T) {
	q := newTestQueue(t, 4)
	s := q.Stream()
	var wakes int
	cx := task.NewContext(task.WakerFunc(func() { wakes++ }))

	_, ok := s.PollNext(cx)
	require.False(t, ok)

	q.Add('x')
	assert.Equal(t, 1, wakes)
	b, ok := s.PollNext(cx)
	require.True(t, ok)
	assert.Equal(t, byte('x'), b)

	// a full queue still wakes the consumer
	for i := 0; i < 5; i++ {
		q.Add('y')
	}
	_, _ = s.PollNext(cx)
	_, ok = s.PollNext(cx)
	require.True(t, ok)
	for q.Len() != 0 {
		_, _ = q.TryPop()
	}
	_, ok = s.PollNext(cx)
	require.False(t, ok)
	before := wakes
	q.Add('z')
	q.Add('z')
	assert.Equal(t, before+1, wakes)
}

func TestController(t *testing.T) {
	core, err := cpu.New()
	require.NoError(t, err)
	q := newTestQueue(t, DefaultCapacity, WithInterrupts(core))
	kbc := NewController(2, func() { core.Raise(cpu.IRQKeyboard) })
	core.Handle(cpu.IRQKeyboard, func(cpu.Line) {
		if b, ok := kbc.ReadData(); ok {
			q.Add(b)
		}
	})

	assert.True(t, kbc.Press('a'))
	assert.True(t, kbc.Press('b'))
	assert.False(t, kbc.Press('c'))
	assert.Equal(t, uint64(1), kbc.Overruns())
	assert.Equal(t, 0, q.Len())

	core.Enable()
	assert.Equal(t, 2, q.Len())
	b, _ := q.TryPop()
	assert.Equal(t, byte('a'), b)

	assert.True(t, kbc.Press('d'))
	core.Service()
	b, _ = q.TryPop()
	assert.Equal(t, byte('b'), b)
	b, _ = q.TryPop()
	assert.Equal(t, byte('d'), b)
}

func TestStream_Next(t *testing.T) {
	q := newTestQueue(t, 4)
	e, err := task.NewExecutor()
	require.NoError(t, err)
	s := q.Stream()
	var got []byte
	e.Go(task.Async(func(await func(task.Future)) {
		for len(got) < 3 {
			got = append(got, task.Await(await, s.PollNext))
		}
	}))
	require.NoError(t, e.RunUntilIdle())
	q.Add('1')
	q.Add('2')
	require.NoError(t, e.RunUntilIdle())
	assert.Equal(t, `12`, string(got))
	q.Add('3')
	require.NoError(t, e.RunUntilIdle())
	assert.Equal(t, `123`, string(got))
	assert.False(t, e.HasTasks())

	f := s.Next()
	q.Add('4')
	assert.True(t, f.Poll(task.NewContext(nil)))
	assert.Equal(t, byte('4'), f.Value())
}
