package kernel

import (
	"errors"

	"github.com/joeycumines/logiface"
)

// DefaultControllerBuffer is the number of bytes the simulated keyboard
// controller holds before it overruns.
const DefaultControllerBuffer = 16

// kernelOptions holds configuration options for Boot.
type kernelOptions struct {
	logger           *logiface.Logger[logiface.Event]
	controllerBuffer int
}

// Option configures Boot.
type Option interface {
	applyKernel(*kernelOptions) error
}

// kernelOptionImpl implements Option.
type kernelOptionImpl struct {
	applyKernelFunc func(*kernelOptions) error
}

func (x *kernelOptionImpl) applyKernel(opts *kernelOptions) error {
	return x.applyKernelFunc(opts)
}

// WithLogger sets the logger shared by every kernel component. A nil logger
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithControllerBuffer sets the capacity of the keyboard controller's output
// buffer.
func WithControllerBuffer(n int) Option {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		if n <= 0 {
			return errors.New("kernel: controller buffer must be positive")
		}
		opts.controllerBuffer = n
		return nil
	}}
}

// resolveKernelOptions applies Option instances to kernelOptions.
func resolveKernelOptions(opts []Option) (*kernelOptions, error) {
	cfg := &kernelOptions{
		controllerBuffer: DefaultControllerBuffer,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyKernel(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
