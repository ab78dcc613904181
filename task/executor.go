package task

import (
	"container/heap"
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/joeycumines/go-kcore/queue"
	"github.com/joeycumines/go-kcore/spinlock"
	"github.com/joeycumines/logiface"
)

type (
	// Core is the CPU an Executor runs on. It is satisfied by *cpu.Core.
	Core interface {
		spinlock.InterruptController
		// Enable sets the interrupt flag, servicing anything pending.
		Enable()
		// EnableAndHalt atomically sets the interrupt flag and waits for
		// the next interrupt.
		EnableAndHalt(ctx context.Context) error
	}

	// Executor runs tasks cooperatively on a single goroutine. Only tasks
	// that have been woken are polled, in ascending ID order.
	//
	// Wakers may be invoked from any goroutine or interrupt handler, but
	// every other method must be called from the goroutine running the
	// executor.
	Executor struct {
		tasks   map[ID]Future
		wakers  map[ID]*Context
		woken   *spinlock.Lock[wakeSet]
		spawn   *spawnQueue
		core    Core
		logger  *logiface.Logger[logiface.Event]
		signal  chan struct{}
		polls   uint64
		done    uint64
		running atomic.Bool
	}

	// Spawner enqueues tasks for an Executor. It may be copied, and used from
	// within a running task or an interrupt handler. Without a Core, it may
	// also be used from any goroutine.
	Spawner struct {
		q *spawnQueue
	}

	// ExecutorStats is a snapshot of an Executor's counters.
	ExecutorStats struct {
		Tasks     int
		Woken     int
		Queued    int
		Polls     uint64
		Completed uint64
	}

	spawnQueue struct {
		lock   *spinlock.Lock[*queue.Ring[*Task]]
		signal chan struct{}
	}

	// wakeSet is an ordered set of task IDs.
	wakeSet struct {
		members map[ID]struct{}
		ids     idHeap
	}

	idHeap []ID

	// taskWaker inserts its task into the wake set of the executor.
	taskWaker struct {
		woken  *spinlock.Lock[wakeSet]
		signal chan struct{}
		id     ID
	}
)

// NewExecutor returns an Executor with no tasks.
func NewExecutor(opts ...ExecutorOption) (*Executor, error) {
	cfg, err := resolveExecutorOptions(opts)
	if err != nil {
		return nil, err
	}

	var strategy spinlock.Strategy = spinlock.KeepInterrupts{}
	if cfg.core != nil {
		strategy = spinlock.DisableInterrupts{Controller: cfg.core}
	}

	signal := make(chan struct{}, 1)

	return &Executor{
		tasks:  make(map[ID]Future),
		wakers: make(map[ID]*Context),
		woken:  spinlock.NewWithStrategy(strategy, wakeSet{members: make(map[ID]struct{})}),
		spawn: &spawnQueue{
			lock:   spinlock.NewWithStrategy(strategy, queue.NewRing[*Task](cfg.spawnCapacity)),
			signal: signal,
		},
		core:   cfg.core,
		logger: cfg.logger,
		signal: signal,
	}, nil
}

// Spawn adds t to the executor, and marks it woken so that it is polled at
// least once. It panics if a task with the same ID is already present.
func (e *Executor) Spawn(t *Task) {
	if t == nil {
		panic(`task: nil task`)
	}
	if _, ok := e.tasks[t.id]; ok {
		panic(fmt.Sprintf("task: task with id %d already spawned", t.id))
	}
	e.tasks[t.id] = t.future
	e.woken.With(func(s *wakeSet) { s.insert(t.id) })
	e.logger.Debug().
		Uint64(`task`, uint64(t.id)).
		Log(`task spawned`)
}

// Go spawns f as a new task, returning its ID.
func (e *Executor) Go(f Future) ID {
	t := New(f)
	e.Spawn(t)
	return t.id
}

// Spawner returns a handle that can enqueue tasks for this executor.
func (e *Executor) Spawner() Spawner {
	return Spawner{q: e.spawn}
}

// PollSpawner admits every task waiting in the spawn queue.
func (e *Executor) PollSpawner() {
	for {
		var (
			t  *Task
			ok bool
		)
		e.spawn.lock.With(func(q **queue.Ring[*Task]) { t, ok = (*q).TryPop() })
		if !ok {
			return
		}
		e.Spawn(t)
	}
}

// PollOne admits queued tasks, then polls the lowest woken task, returning
// false if none were woken. A task that panics is removed, and reported as a
// *PanicError.
func (e *Executor) PollOne() (bool, error) {
	e.PollSpawner()

	var (
		id ID
		ok bool
	)
	e.woken.With(func(s *wakeSet) { id, ok = s.popFirst() })
	if !ok {
		return false, nil
	}

	future, exists := e.tasks[id]
	if !exists {
		// completed since it was woken
		return true, nil
	}

	cx := e.wakers[id]
	if cx == nil {
		cx = &Context{waker: &taskWaker{woken: e.woken, signal: e.signal, id: id}}
		e.wakers[id] = cx
	}

	e.polls++
	ready, err := e.poll(id, future, cx)
	if ready || err != nil {
		delete(e.tasks, id)
		delete(e.wakers, id)
	}
	if ready {
		e.done++
		e.logger.Debug().
			Uint64(`task`, uint64(id)).
			Log(`task completed`)
	}
	return true, err
}

// RunUntilIdle polls woken tasks until none remain woken.
func (e *Executor) RunUntilIdle() error {
	for {
		more, err := e.PollOne()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// Run polls tasks until there are none left, halting between passes when
// nothing is woken. It returns nil once every task has completed, the
// context's error if ctx is done, or a *PanicError if a task panicked.
func (e *Executor) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.logger.Info().
		Bool(`halting`, e.core != nil).
		Log(`executor started`)

	e.PollSpawner()
	for e.HasTasks() {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			more, err := e.PollOne()
			if err != nil {
				return err
			}
			if !more {
				break
			}
		}
		if !e.HasTasks() {
			break
		}
		if err := e.sleepIfIdle(ctx); err != nil {
			return err
		}
		e.PollSpawner()
	}

	e.logger.Info().Log(`executor finished`)
	return nil
}

// sleepIfIdle blocks until something may have been woken.
func (e *Executor) sleepIfIdle(ctx context.Context) error {
	if e.core != nil {
		// a wake racing the check would be lost between it and the halt,
		// unless interrupts stay masked until the halt itself
		e.core.Disable()
		if e.HasWokenTasks() {
			e.core.Enable()
			return nil
		}
		return e.core.EnableAndHalt(ctx)
	}

	if e.HasWokenTasks() {
		return nil
	}
	select {
	case <-e.signal:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasTasks reports whether any task has not completed.
func (e *Executor) HasTasks() bool {
	return len(e.tasks) != 0
}

// HasWokenTasks reports whether any task is waiting to be polled.
func (e *Executor) HasWokenTasks() (ok bool) {
	e.woken.With(func(s *wakeSet) { ok = s.len() != 0 })
	return
}

// Len returns the number of tasks that have not completed.
func (e *Executor) Len() int {
	return len(e.tasks)
}

// Stats returns a snapshot of the executor's counters.
func (e *Executor) Stats() (s ExecutorStats) {
	s.Tasks = len(e.tasks)
	s.Polls = e.polls
	s.Completed = e.done
	e.woken.With(func(w *wakeSet) { s.Woken = w.len() })
	e.spawn.lock.With(func(q **queue.Ring[*Task]) { s.Queued = (*q).Len() })
	return
}

// Shutdown discards every task, dropping any that implement Dropper.
func (e *Executor) Shutdown() {
	e.PollSpawner()
	for id, future := range e.tasks {
		if d, ok := future.(Dropper); ok {
			d.Drop()
		}
		delete(e.tasks, id)
		delete(e.wakers, id)
	}
	e.woken.With(func(s *wakeSet) {
		clear(s.members)
		s.ids = s.ids[:0]
	})
}

func (e *Executor) poll(id ID, future Future, cx *Context) (ready bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			if d, ok := future.(Dropper); ok {
				d.Drop()
			}
			err = &PanicError{Value: r, Stack: debug.Stack(), TaskID: id}
			e.logger.Err().
				Uint64(`task`, uint64(id)).
				Any(`panic`, r).
				Log(`task panicked`)
		}
	}()
	return future.Poll(cx), nil
}

// Spawn enqueues t, to be admitted by the executor before its next poll. It
// panics with ErrSpawnQueueFull if the queue is full.
func (s Spawner) Spawn(t *Task) {
	if t == nil {
		panic(`task: nil task`)
	}
	var ok bool
	s.q.lock.With(func(q **queue.Ring[*Task]) { ok = (*q).TryPush(t) })
	if !ok {
		panic(ErrSpawnQueueFull)
	}
	select {
	case s.q.signal <- struct{}{}:
	default:
	}
}

// Go enqueues f as a new task, returning its ID.
func (s Spawner) Go(f Future) ID {
	t := New(f)
	s.Spawn(t)
	return t.id
}

func (w *taskWaker) Wake() {
	w.woken.With(func(s *wakeSet) { s.insert(w.id) })
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (s *wakeSet) insert(id ID) {
	if _, ok := s.members[id]; ok {
		return
	}
	s.members[id] = struct{}{}
	heap.Push(&s.ids, id)
}

func (s *wakeSet) popFirst() (ID, bool) {
	if len(s.ids) == 0 {
		return 0, false
	}
	id := heap.Pop(&s.ids).(ID)
	delete(s.members, id)
	return id, true
}

func (s *wakeSet) len() int { return len(s.ids) }

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *idHeap) Push(x any) {
	*h = append(*h, x.(ID))
}

func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
