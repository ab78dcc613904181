package task

import (
	"errors"

	"github.com/joeycumines/logiface"
)

// DefaultSpawnQueueCapacity is the default bound on tasks queued by Spawners
// and not yet admitted by the executor.
const DefaultSpawnQueueCapacity = 64

// executorOptions holds configuration options for Executor creation.
type executorOptions struct {
	core          Core
	logger        *logiface.Logger[logiface.Event]
	spawnCapacity int
}

// ExecutorOption configures an Executor instance.
type ExecutorOption interface {
	applyExecutor(*executorOptions) error
}

// executorOptionImpl implements ExecutorOption.
type executorOptionImpl struct {
	applyExecutorFunc func(*executorOptions) error
}

func (x *executorOptionImpl) applyExecutor(opts *executorOptions) error {
	return x.applyExecutorFunc(opts)
}

// WithCore sets the CPU that the executor masks interrupts on, and halts
// when idle. Without one, the executor blocks on an internal signal instead.
func WithCore(core Core) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.core = core
		return nil
	}}
}

// WithSpawnQueueCapacity bounds the spawn queue.
func WithSpawnQueueCapacity(n int) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		if n <= 0 {
			return errors.New("task: spawn queue capacity must be positive")
		}
		opts.spawnCapacity = n
		return nil
	}}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveExecutorOptions applies ExecutorOption instances to executorOptions.
func resolveExecutorOptions(opts []ExecutorOption) (*executorOptions, error) {
	cfg := &executorOptions{
		spawnCapacity: DefaultSpawnQueueCapacity,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyExecutor(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
