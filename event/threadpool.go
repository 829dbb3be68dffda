package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned by Post when MaxQueue tasks are waiting.
	ErrQueueFull = errors.New("event: thread pool queue overflow")

	// ErrPoolStopped is returned by Post after Close.
	ErrPoolStopped = errors.New("event: thread pool stopped")

	// ErrTaskActive is returned when posting a task that is already queued
	// or running.
	ErrTaskActive = errors.New("event: task already active")

	// ErrNoLoop is returned when posting to a pool not attached to a loop.
	ErrNoLoop = errors.New("event: thread pool not attached to a loop")
)

const (
	DefaultThreads  = 32
	DefaultMaxQueue = 65536
)

// Task is a unit of blocking work run on a thread pool goroutine. When it
// finishes, Event is marked Complete and posted to the owning loop's
// Normal queue, where Event.Handler runs on the loop.
type Task struct {
	// Handler runs on a pool goroutine. It must not touch the loop.
	Handler func(ctx context.Context) error

	// Event is dispatched on the loop once Handler returns.
	Event Event

	// Err is Handler's result, or the recovered panic, valid once Event is
	// dispatched.
	Err error

	id uint64
}

// ID returns the sequence number assigned by the last Post.
func (t *Task) ID() uint64 {
	return t.id
}

// ThreadPool runs blocking tasks off the loop. Post may be called from any
// goroutine.
type ThreadPool struct {
	_       [0]func()
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	loop    *Loop
	cond    *sync.Cond
	name    string
	queue   []*Task
	mu      sync.Mutex
	threads int
	max     int
	seq     uint64
	closed  bool
}

// NewThreadPool starts the pool's goroutines.
func NewThreadPool(opts ...ThreadPoolOption) (*ThreadPool, error) {
	cfg, err := resolveThreadPoolOptions(opts)
	if err != nil {
		return nil, err
	}

	tp := &ThreadPool{
		logger:  cfg.logger,
		limiter: catrate.NewLimiter(logRates),
		name:    cfg.name,
		threads: cfg.threads,
		max:     cfg.maxQueue,
	}
	tp.cond = sync.NewCond(&tp.mu)

	ctx, cancel := context.WithCancel(context.Background())
	tp.group, tp.ctx = errgroup.WithContext(ctx)
	tp.cancel = cancel

	for i := 0; i < tp.threads; i++ {
		tp.group.Go(tp.worker)
	}

	tp.logger.Debug().
		Str("name", tp.name).
		Int("threads", tp.threads).
		Int("max_queue", tp.max).
		Log("event: thread pool started")

	return tp, nil
}

// Name returns the pool's name.
func (tp *ThreadPool) Name() string {
	return tp.name
}

// Waiting returns the number of queued tasks not yet picked up.
func (tp *ThreadPool) Waiting() int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return len(tp.queue)
}

// Post queues task. The task must not be modified until its event is
// dispatched.
func (tp *ThreadPool) Post(task *Task) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.closed {
		return ErrPoolStopped
	}
	if tp.loop == nil {
		return ErrNoLoop
	}
	if task.Event.active {
		return fmt.Errorf("%w: task #%d in pool %q", ErrTaskActive, task.id, tp.name)
	}

	if len(tp.queue) >= tp.max {
		if _, ok := tp.limiter.Allow(tp.name); ok {
			tp.logger.Err().
				Str("name", tp.name).
				Int("waiting", len(tp.queue)).
				Log("event: thread pool queue overflow")
		}
		return ErrQueueFull
	}

	tp.seq++
	task.id = tp.seq
	task.Err = nil
	task.Event.Complete = false
	task.Event.active = true

	tp.queue = append(tp.queue, task)
	tp.cond.Signal()

	return nil
}

// Close stops accepting tasks, waits for queued and running tasks to
// finish, and stops the goroutines. Completions for a loop that has
// terminated are dropped.
func (tp *ThreadPool) Close() error {
	tp.mu.Lock()
	if tp.closed {
		tp.mu.Unlock()
		return ErrPoolStopped
	}
	tp.closed = true
	tp.cond.Broadcast()
	tp.mu.Unlock()

	err := tp.group.Wait()
	tp.cancel()

	tp.logger.Debug().
		Str("name", tp.name).
		Log("event: thread pool stopped")

	return err
}

func (tp *ThreadPool) attach(l *Loop) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if tp.loop != nil && tp.loop != l {
		return errors.New("event: thread pool already attached to another loop")
	}
	tp.loop = l
	return nil
}

func (tp *ThreadPool) worker() error {
	for {
		tp.mu.Lock()
		for len(tp.queue) == 0 && !tp.closed {
			tp.cond.Wait()
		}
		if len(tp.queue) == 0 {
			tp.mu.Unlock()
			return nil
		}
		task := tp.queue[0]
		tp.queue[0] = nil
		tp.queue = tp.queue[1:]
		loop := tp.loop
		tp.mu.Unlock()

		task.Err = tp.run(task)

		loop.complete(task)
	}
}

func (tp *ThreadPool) run(task *Task) (err error) {
	if task.Handler == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			tp.logger.Crit().
				Str("name", tp.name).
				Uint64("task", task.id).
				Any("panic", r).
				Log("event: task panicked")
			err = fmt.Errorf("event: task panicked: %v", r)
		}
	}()

	start := time.Now()
	err = task.Handler(tp.ctx)

	tp.logger.Trace().
		Str("name", tp.name).
		Uint64("task", task.id).
		Dur("elapsed", time.Since(start)).
		Log("event: task done")

	return err
}
