// Package task implements cooperative, single-threaded multitasking: futures,
// wakers, and an executor that polls woken tasks and halts the CPU when there
// are none.
package task

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
)

var (
	// ErrSpawnQueueFull is the panic value used when a Spawner cannot enqueue
	// a task, which means the executor is not draining its spawn queue.
	ErrSpawnQueueFull = errors.New("task: spawn queue full")

	// ErrAlreadyRunning is returned by Executor.Run when it is already running.
	ErrAlreadyRunning = errors.New("task: executor already running")
)

// ID uniquely identifies a Task. IDs increase monotonically.
type ID uint64

func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

var nextID atomic.Uint64

func newID() ID { return ID(nextID.Add(1) - 1) }

// Task is a Future paired with an ID.
type Task struct {
	future Future
	id     ID
}

// New wraps f in a Task with a fresh ID.
func New(f Future) *Task {
	if f == nil {
		panic(`task: nil future`)
	}
	return &Task{future: f, id: newID()}
}

// ID returns the task's identifier.
func (t *Task) ID() ID { return t.id }

func (t *Task) String() string {
	return fmt.Sprintf("Task{id: %d, future: %T}", t.id, t.future)
}

// PanicError is returned by the executor when a task panics.
type PanicError struct {
	Value  any
	Stack  []byte
	TaskID ID
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task: task %d panicked: %v", e.TaskID, e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
