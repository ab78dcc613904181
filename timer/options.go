package timer

import (
	"github.com/joeycumines/go-kcore/spinlock"
	"github.com/joeycumines/logiface"
)

type options struct {
	interrupts spinlock.InterruptController
	logger     *logiface.Logger[logiface.Event]
}

// Option configures a Wheel.
type Option interface {
	apply(*options) error
}

type optionImpl struct {
	applyFunc func(*options) error
}

func (x *optionImpl) apply(opts *options) error {
	return x.applyFunc(opts)
}

// WithInterrupts masks interrupts on ic while the wheel is locked. It is
// required when Fire is called from an interrupt handler.
func WithInterrupts(ic spinlock.InterruptController) Option {
	return &optionImpl{func(opts *options) error {
		opts.interrupts = ic
		return nil
	}}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *options) error {
		opts.logger = logger
		return nil
	}}
}

func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
