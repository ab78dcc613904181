package cpu

import (
	"github.com/joeycumines/logiface"
)

// coreOptions holds configuration options for Core creation.
type coreOptions struct {
	logger *logiface.Logger[logiface.Event]
}

// CoreOption configures a Core instance.
type CoreOption interface {
	applyCore(*coreOptions) error
}

// coreOptionImpl implements CoreOption.
type coreOptionImpl struct {
	applyCoreFunc func(*coreOptions) error
}

func (c *coreOptionImpl) applyCore(opts *coreOptions) error {
	return c.applyCoreFunc(opts)
}

// WithLogger sets the logger used to report spurious interrupts and handler
// panics. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) CoreOption {
	return &coreOptionImpl{func(opts *coreOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveCoreOptions applies CoreOption instances to coreOptions.
func resolveCoreOptions(opts []CoreOption) (*coreOptions, error) {
	cfg := &coreOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyCore(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
