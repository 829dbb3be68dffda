package pool

import (
	"errors"

	"github.com/joeycumines/logiface"
)

// poolOptions holds configuration options for Pool creation.
type poolOptions struct {
	logger    *logiface.Logger[logiface.Event]
	allocator Allocator
	pageSize  int
}

// Option configures a Pool instance.
type Option interface {
	applyPool(*poolOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyPoolFunc func(*poolOptions) error
}

func (o *optionImpl) applyPool(opts *poolOptions) error {
	return o.applyPoolFunc(opts)
}

// WithLogger sets the logger used to report allocation failures and cleanup
// activity. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *poolOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithAllocator sets the system allocator blocks and large allocations are
// obtained from. Defaults to HeapAllocator.
func WithAllocator(allocator Allocator) Option {
	return &optionImpl{func(opts *poolOptions) error {
		if allocator == nil {
			return errors.New("pool: nil allocator")
		}
		opts.allocator = allocator
		return nil
	}}
}

// WithPageSize overrides the page size used to cap the small allocation
// ceiling. Defaults to the system page size.
func WithPageSize(size int) Option {
	return &optionImpl{func(opts *poolOptions) error {
		if size <= 1 {
			return errors.New("pool: invalid page size")
		}
		opts.pageSize = size
		return nil
	}}
}

// resolveOptions applies Option instances to poolOptions.
func resolveOptions(opts []Option) (*poolOptions, error) {
	cfg := &poolOptions{
		allocator: HeapAllocator{},
		pageSize:  pageSize(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPool(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
