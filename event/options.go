package event

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger         *logiface.Logger[logiface.Event]
	clock          *Clock
	poller         Poller
	threadPool     *ThreadPool
	maxPollTimeout time.Duration
}

// --- Loop Options ---

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger sets the logger for poll failures and recovered handler
// panics. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithClock sets the clock timers are keyed on. Defaults to NewClock().
func WithClock(clock *Clock) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.clock = clock
		return nil
	}}
}

// WithPoller sets the readiness back-end, which the loop then owns and
// closes. Defaults to epoll on Linux, and a TimerPoller elsewhere.
func WithPoller(poller Poller) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.poller = poller
		return nil
	}}
}

// WithThreadPool attaches a thread pool whose tasks complete on the loop.
// The loop closes it on shutdown.
func WithThreadPool(tp *ThreadPool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.threadPool = tp
		return nil
	}}
}

// WithMaxPollTimeout caps how long a poll may block, so the cached clock
// is refreshed at least that often. Zero, the default, means no cap.
func WithMaxPollTimeout(d time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if d < 0 {
			return errors.New("event: negative max poll timeout")
		}
		opts.maxPollTimeout = d
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// --- Thread Pool Options ---

// threadPoolOptions holds configuration options for ThreadPool creation.
type threadPoolOptions struct {
	logger   *logiface.Logger[logiface.Event]
	name     string
	threads  int
	maxQueue int
}

// ThreadPoolOption configures a ThreadPool instance.
type ThreadPoolOption interface {
	applyThreadPool(*threadPoolOptions) error
}

// threadPoolOptionImpl implements ThreadPoolOption.
type threadPoolOptionImpl struct {
	applyThreadPoolFunc func(*threadPoolOptions) error
}

func (t *threadPoolOptionImpl) applyThreadPool(opts *threadPoolOptions) error {
	return t.applyThreadPoolFunc(opts)
}

// WithThreads sets the number of goroutines. Defaults to DefaultThreads.
func WithThreads(n int) ThreadPoolOption {
	return &threadPoolOptionImpl{func(opts *threadPoolOptions) error {
		if n <= 0 {
			return errors.New("event: thread count must be positive")
		}
		opts.threads = n
		return nil
	}}
}

// WithMaxQueue sets how many tasks may wait for a goroutine. Defaults to
// DefaultMaxQueue.
func WithMaxQueue(n int) ThreadPoolOption {
	return &threadPoolOptionImpl{func(opts *threadPoolOptions) error {
		if n <= 0 {
			return errors.New("event: max queue must be positive")
		}
		opts.maxQueue = n
		return nil
	}}
}

// WithName names the pool in logs. Defaults to "default".
func WithName(name string) ThreadPoolOption {
	return &threadPoolOptionImpl{func(opts *threadPoolOptions) error {
		opts.name = name
		return nil
	}}
}

// WithPoolLogger sets the logger for queue overflow and task panics.
func WithPoolLogger(logger *logiface.Logger[logiface.Event]) ThreadPoolOption {
	return &threadPoolOptionImpl{func(opts *threadPoolOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveThreadPoolOptions applies ThreadPoolOption instances to
// threadPoolOptions.
func resolveThreadPoolOptions(opts []ThreadPoolOption) (*threadPoolOptions, error) {
	cfg := &threadPoolOptions{
		name:     "default",
		threads:  DefaultThreads,
		maxQueue: DefaultMaxQueue,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyThreadPool(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
