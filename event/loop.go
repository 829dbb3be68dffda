package event

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when Run() is called on a loop that is already running.
	ErrLoopAlreadyRunning = errors.New("event: loop is already running")

	// ErrLoopTerminated is returned when operations are attempted on a terminated loop.
	ErrLoopTerminated = errors.New("event: loop has been terminated")

	// ErrReentrantRun is returned when Run() is called from within the loop itself.
	ErrReentrantRun = errors.New("event: cannot call Run() from within the loop")
)

// logRates bounds repeated error logs, per category.
var logRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// Loop owns a clock, timers, posted queues and a poller, and dispatches
// events on a single goroutine. Each iteration:
//
//  1. moves events posted for the next iteration to the normal queue, in
//     which case the poll does not block
//  2. polls, for no longer than until the nearest timer
//  3. refreshes the clock
//  4. posts events of completed thread pool tasks
//  5. drains the accept queue
//  6. expires due timers
//  7. drains the normal queue
//
// Handler panics are recovered and logged.
type Loop struct { // betteralign:ignore
	_ [0]func()

	// State machine (cache-line padded internally)
	state loopState

	clock      *Clock
	timers     *Timers
	posted     *PostedQueues
	poller     Poller
	threadPool *ThreadPool
	logger     *logiface.Logger[logiface.Event]
	limiter    *catrate.Limiter

	maxPollTimeout time.Duration

	// Loop termination signaling
	loopDone chan struct{}
	stopOnce sync.Once

	// Guards the poller against Wake after Close
	wakeMu       sync.RWMutex
	pollerClosed bool

	// Completed thread pool tasks, handed over by worker goroutines
	doneMu  sync.Mutex
	done    []*Task
	doneBuf []*Task

	// Goroutine tracking
	loopGoroutineID atomic.Uint64

	iterations    atomic.Uint64
	timersExpired atomic.Uint64
	acceptEvents  atomic.Uint64
	normalEvents  atomic.Uint64
	completions   atomic.Uint64
	panics        atomic.Uint64
}

// Stats are cumulative loop counters.
type Stats struct {
	Iterations    uint64
	TimersExpired uint64
	AcceptEvents  uint64
	NormalEvents  uint64
	Completions   uint64
	Panics        uint64
}

// NewLoop creates a loop. It does not start it.
func NewLoop(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	clock := cfg.clock
	if clock == nil {
		clock = NewClock()
	}

	poller := cfg.poller
	if poller == nil {
		poller, err = newDefaultPoller()
		if err != nil {
			return nil, err
		}
	}

	l := &Loop{
		clock:          clock,
		poller:         poller,
		threadPool:     cfg.threadPool,
		logger:         cfg.logger,
		limiter:        catrate.NewLimiter(logRates),
		maxPollTimeout: cfg.maxPollTimeout,
		loopDone:       make(chan struct{}),
	}

	l.timers = NewTimers(clock)
	l.timers.run = l.safeExecute
	l.posted = NewPostedQueues()
	l.posted.run = l.safeExecute

	if l.threadPool != nil {
		if err := l.threadPool.attach(l); err != nil {
			if cfg.poller == nil {
				_ = poller.Close()
			}
			return nil, err
		}
	}

	return l, nil
}

// Run runs the event loop and blocks until fully stopped.
//
// Run returns nil after Shutdown, the poll error if polling fails, or
// ctx.Err() if ctx is cancelled, which stops the loop without waiting for
// timers.
func (l *Loop) Run(ctx context.Context) error {
	if l.isLoopThread() {
		return ErrReentrantRun
	}

	if !l.state.TryTransition(StateAwake, StateRunning) {
		if l.state.Load() == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	// Close loopDone when run exits to signal completion to Shutdown waiters
	defer close(l.loopDone)

	l.clock.Update()

	return l.run(ctx)
}

// Shutdown stops the loop gracefully: it keeps running until no
// non-cancelable timer is pending, then stops the thread pool, dispatches
// the remaining task completions, and closes the poller. It blocks until
// termination completes or ctx expires.
func (l *Loop) Shutdown(ctx context.Context) error {
	var result error
	l.stopOnce.Do(func() {
		result = l.shutdownImpl(ctx)
	})
	if result == nil && l.state.Load() != StateTerminated {
		return ErrLoopTerminated
	}
	return result
}

func (l *Loop) shutdownImpl(ctx context.Context) error {
	for {
		currentState := l.state.Load()
		if currentState == StateTerminated || currentState == StateTerminating {
			return ErrLoopTerminated
		}

		if l.state.TryTransition(currentState, StateTerminating) {
			if currentState == StateAwake {
				l.shutdown()
				return nil
			}
			_ = l.wake()
			break
		}
	}

	// Wait for termination via channel, NOT polling
	select {
	case <-l.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) run(ctx context.Context) error {
	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)

	// Wake the loop on cancellation
	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = l.wake()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	for {
		select {
		case <-ctx.Done():
			l.terminate()
			l.shutdown()
			return ctx.Err()
		default:
		}

		if l.state.Load() == StateTerminating && l.timers.NoTimersLeft() {
			l.shutdown()
			return nil
		}

		if err := l.ProcessEventsAndTimers(); err != nil {
			l.terminate()
			l.shutdown()
			return err
		}
	}
}

// terminate moves the loop to StateTerminating, unless it is already
// stopping.
func (l *Loop) terminate() {
	for {
		current := l.state.Load()
		if current == StateTerminating || current == StateTerminated {
			return
		}
		if l.state.TryTransition(current, StateTerminating) {
			return
		}
	}
}

func (l *Loop) shutdown() {
	if l.threadPool != nil {
		_ = l.threadPool.Close()
	}

	l.drainCompletions()
	l.normalEvents.Add(uint64(l.posted.Process(&l.posted.Normal)))

	l.state.Store(StateTerminated)

	l.wakeMu.Lock()
	l.pollerClosed = true
	err := l.poller.Close()
	l.wakeMu.Unlock()

	if err != nil {
		l.logger.Warning().
			Err(err).
			Log("event: poller close failed")
	}
}

// ProcessEventsAndTimers runs one loop iteration. Run calls it repeatedly;
// it may also be called directly, without Run, to drive the loop by hand.
// A poll failure is logged and returned.
func (l *Loop) ProcessEventsAndTimers() error {
	l.iterations.Add(1)

	timer := l.timers.FindNearest()

	if !l.posted.Next.Empty() {
		l.posted.MoveNext()
		timer = 0
	}

	timeout := l.pollTimeout(timer)

	sleeping := l.state.TryTransition(StateRunning, StateSleeping)
	err := l.poller.Poll(timeout, l.posted)
	if sleeping {
		l.state.TryTransition(StateSleeping, StateRunning)
	}

	l.clock.Update()

	if err != nil {
		if _, ok := l.limiter.Allow("poll"); ok {
			l.logger.Alert().
				Err(err).
				Dur("timeout", timeout).
				Log("event: poll failed")
		}
		return err
	}

	l.drainCompletions()

	l.acceptEvents.Add(uint64(l.posted.Process(&l.posted.Accept)))

	l.timersExpired.Add(uint64(l.timers.Expire()))

	l.normalEvents.Add(uint64(l.posted.Process(&l.posted.Normal)))

	return nil
}

// pollTimeout converts the nearest timer into a poll timeout, negative for
// no timeout.
func (l *Loop) pollTimeout(timer uint64) time.Duration {
	d := time.Duration(-1)
	if timer != Infinite && timer <= uint64(math.MaxInt64/int64(time.Millisecond)) {
		d = time.Duration(timer) * time.Millisecond
	}
	if l.maxPollTimeout > 0 && (d < 0 || d > l.maxPollTimeout) {
		d = l.maxPollTimeout
	}
	return d
}

// complete hands a finished task over to the loop. Called from pool
// goroutines.
func (l *Loop) complete(task *Task) {
	if l.state.Load() == StateTerminated {
		l.logger.Debug().
			Uint64("task", task.id).
			Log("event: task completed after loop terminated")
		return
	}

	l.doneMu.Lock()
	l.done = append(l.done, task)
	l.doneMu.Unlock()

	_ = l.wake()
}

func (l *Loop) drainCompletions() {
	l.doneMu.Lock()
	if len(l.done) == 0 {
		l.doneMu.Unlock()
		return
	}
	tasks := l.done
	l.done = l.doneBuf[:0]
	l.doneBuf = tasks[:0]
	l.doneMu.Unlock()

	for i, task := range tasks {
		ev := &task.Event
		ev.Complete = true
		ev.active = false
		l.posted.Post(ev, &l.posted.Normal)
		tasks[i] = nil
	}

	l.completions.Add(uint64(len(tasks)))
}

// wake interrupts a blocked poll. Safe for concurrent use.
func (l *Loop) wake() error {
	l.wakeMu.RLock()
	defer l.wakeMu.RUnlock()
	if l.pollerClosed {
		return ErrLoopTerminated
	}
	return l.poller.Wake()
}

// RegisterConn starts monitoring c for events.
func (l *Loop) RegisterConn(c *Conn, events IOEvents) error {
	return l.poller.Add(c, events)
}

// UnregisterConn stops monitoring c, and cancels the pending timers and
// posted dispatches of both its events.
func (l *Loop) UnregisterConn(c *Conn) error {
	for _, ev := range [...]*Event{&c.Read, &c.Write} {
		if ev.timerSet {
			l.timers.Del(ev)
		}
		if ev.posted {
			l.posted.DeletePosted(ev)
		}
	}
	return l.poller.Del(c)
}

// Post posts ev to q, typically one of Posted().Accept, Next or Normal.
func (l *Loop) Post(ev *Event, q *PostedQueue) {
	l.posted.Post(ev, q)
}

// AddTimer arms a timer for ev. See Timers.Add.
func (l *Loop) AddTimer(ev *Event, delay time.Duration) {
	l.timers.Add(ev, delay)
}

// DelTimer disarms the timer of ev, if one is pending.
func (l *Loop) DelTimer(ev *Event) {
	if ev.timerSet {
		l.timers.Del(ev)
	}
}

// State returns the current loop state.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// Timers returns the loop's timer scheduler.
func (l *Loop) Timers() *Timers {
	return l.timers
}

// Posted returns the loop's posted queues.
func (l *Loop) Posted() *PostedQueues {
	return l.posted
}

// Clock returns the loop's clock.
func (l *Loop) Clock() *Clock {
	return l.clock
}

// ThreadPool returns the attached thread pool, or nil.
func (l *Loop) ThreadPool() *ThreadPool {
	return l.threadPool
}

// Stats returns a snapshot of the loop's counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Iterations:    l.iterations.Load(),
		TimersExpired: l.timersExpired.Load(),
		AcceptEvents:  l.acceptEvents.Load(),
		NormalEvents:  l.normalEvents.Load(),
		Completions:   l.completions.Load(),
		Panics:        l.panics.Load(),
	}
}

// safeExecute dispatches an event with panic recovery.
func (l *Loop) safeExecute(ev *Event) {
	if ev.Handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.logger.Crit().
				Any("panic", r).
				Bool("timedout", ev.TimedOut).
				Log("event: handler panicked")
		}
	}()

	ev.Handler(ev)
}

// isLoopThread checks if we're on the loop goroutine.
func (l *Loop) isLoopThread() bool {
	loopID := l.loopGoroutineID.Load()
	if loopID == 0 {
		return false
	}
	return getGoroutineID() == loopID
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
