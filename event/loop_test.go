package event

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-evcore/internal/logging"
	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePoller returns immediately, advancing a manual clock by the timeout
// it was given, and reports read readiness of the conns queued in ready.
type fakePoller struct {
	clock    *Clock
	err      error
	ready    []*Conn
	timeouts []time.Duration
	added    map[*Conn]IOEvents
	wakes    atomic.Int32
	closed   atomic.Bool
}

func (p *fakePoller) Add(c *Conn, events IOEvents) error {
	if p.added == nil {
		p.added = make(map[*Conn]IOEvents)
	}
	p.added[c] = events
	return nil
}

func (p *fakePoller) Del(c *Conn) error {
	if _, ok := p.added[c]; !ok {
		return ErrFDNotRegistered
	}
	delete(p.added, c)
	return nil
}

func (p *fakePoller) Poll(timeout time.Duration, posted *PostedQueues) error {
	p.timeouts = append(p.timeouts, timeout)
	if p.err != nil {
		return p.err
	}
	for _, c := range p.ready {
		readyConn(posted, c, EventRead)
	}
	p.ready = nil
	if timeout > 0 {
		p.clock.Advance(timeout)
	}
	return nil
}

func (p *fakePoller) Wake() error {
	p.wakes.Add(1)
	return nil
}

func (p *fakePoller) Close() error {
	p.closed.Store(true)
	return nil
}

func newFakeLoop(t *testing.T, opts ...LoopOption) (*Loop, *fakePoller) {
	t.Helper()
	clock := NewManualClock(0)
	poller := &fakePoller{clock: clock}
	l, err := NewLoop(append([]LoopOption{WithClock(clock), WithPoller(poller)}, opts...)...)
	require.NoError(t, err)
	return l, poller
}

func TestLoop_IterationOrder(t *testing.T) {
	l, poller := newFakeLoop(t)

	var order []string
	record := func(name string) func(*Event) {
		return func(*Event) { order = append(order, name) }
	}

	timer := &Event{Handler: record("timer")}
	l.AddTimer(timer, 0)

	normal := &Event{Handler: record("normal")}
	l.Post(normal, &l.Posted().Normal)

	listener := NewConn(3, true)
	listener.Read.Handler = record("accept")
	conn := NewConn(4, false)
	conn.Read.Handler = record("read")
	poller.ready = []*Conn{conn, listener}

	require.NoError(t, l.ProcessEventsAndTimers())
	assert.Equal(t, []string{"accept", "timer", "normal", "read"}, order)
	assert.Equal(t, []time.Duration{0}, poller.timeouts)

	assert.True(t, listener.Read.Ready)
	assert.Equal(t, -1, conn.Read.Available)
	assert.True(t, timer.TimedOut)

	assert.Equal(t, Stats{
		Iterations:    1,
		TimersExpired: 1,
		AcceptEvents:  1,
		NormalEvents:  2,
	}, l.Stats())
}

func TestLoop_PollWaitsForNearestTimer(t *testing.T) {
	l, poller := newFakeLoop(t)

	var fired bool
	l.AddTimer(&Event{Handler: func(*Event) { fired = true }}, 250*time.Millisecond)
	l.AddTimer(&Event{}, time.Hour)

	require.NoError(t, l.ProcessEventsAndTimers())
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, poller.timeouts)
	assert.True(t, fired)
	assert.Equal(t, uint64(250), l.Clock().Now())
	assert.Equal(t, 1, l.Timers().Len())
}

func TestLoop_PollTimeout(t *testing.T) {
	l, poller := newFakeLoop(t)
	require.NoError(t, l.ProcessEventsAndTimers())
	assert.Equal(t, time.Duration(-1), poller.timeouts[0])

	capped, cappedPoller := newFakeLoop(t, WithMaxPollTimeout(time.Second))
	require.NoError(t, capped.ProcessEventsAndTimers())
	capped.AddTimer(&Event{}, 5*time.Second)
	require.NoError(t, capped.ProcessEventsAndTimers())
	capped.AddTimer(&Event{}, 10*time.Millisecond)
	require.NoError(t, capped.ProcessEventsAndTimers())
	assert.Equal(t, []time.Duration{
		time.Second,
		time.Second,
		10 * time.Millisecond,
	}, cappedPoller.timeouts)
}

func TestLoop_NextQueueSkipsBlocking(t *testing.T) {
	l, poller := newFakeLoop(t)
	l.AddTimer(&Event{}, time.Second)

	var runs int
	ev := &Event{Available: 5}
	ev.Handler = func(ev *Event) {
		runs++
		assert.True(t, ev.Ready)
		assert.Equal(t, -1, ev.Available)
	}

	// posted to Next, so not dispatched until the following iteration
	l.Post(ev, &l.Posted().Next)
	assert.True(t, ev.Posted())

	require.NoError(t, l.ProcessEventsAndTimers())
	assert.Equal(t, 1, runs)
	assert.Equal(t, time.Duration(0), poller.timeouts[0])
	assert.True(t, l.Posted().Next.Empty())
}

func TestLoop_PollError(t *testing.T) {
	var buf bytes.Buffer
	l, poller := newFakeLoop(t, WithLogger(logging.New(&buf, logiface.LevelError)))
	poller.err = errors.New("boom")

	var fired bool
	l.AddTimer(&Event{Handler: func(*Event) { fired = true }}, 0)

	for range 10 {
		err := l.ProcessEventsAndTimers()
		assert.ErrorIs(t, err, poller.err)
	}
	assert.False(t, fired)

	n := strings.Count(buf.String(), `"msg":"event: poll failed"`)
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 5)
}

func TestLoop_RecoversHandlerPanic(t *testing.T) {
	var buf bytes.Buffer
	l, _ := newFakeLoop(t, WithLogger(logging.New(&buf, logiface.LevelCritical)))

	var after bool
	l.Post(&Event{Handler: func(*Event) { panic("oops") }}, &l.Posted().Normal)
	l.Post(&Event{Handler: func(*Event) { after = true }}, &l.Posted().Normal)
	l.AddTimer(&Event{Handler: func(*Event) { panic("timer oops") }}, 0)

	require.NoError(t, l.ProcessEventsAndTimers())
	assert.True(t, after)
	assert.Equal(t, uint64(2), l.Stats().Panics)
	assert.Equal(t, 2, strings.Count(buf.String(), `"msg":"event: handler panicked"`))
	assert.Contains(t, buf.String(), `oops`)
}

func TestLoop_UnregisterConnCancelsPending(t *testing.T) {
	l, poller := newFakeLoop(t)

	c := NewConn(7, false)
	var dispatched int
	c.Read.Handler = func(*Event) { dispatched++ }
	c.Write.Handler = func(*Event) { dispatched++ }

	require.NoError(t, l.RegisterConn(c, EventRead|EventWrite))
	assert.Equal(t, EventRead|EventWrite, poller.added[c])

	l.AddTimer(&c.Read, time.Second)
	l.Post(&c.Write, &l.Posted().Normal)

	require.NoError(t, l.UnregisterConn(c))
	assert.False(t, c.Read.TimerSet())
	assert.False(t, c.Write.Posted())
	assert.Empty(t, poller.added)

	l.Clock().Advance(time.Hour)
	require.NoError(t, l.ProcessEventsAndTimers())
	assert.Zero(t, dispatched)

	assert.ErrorIs(t, l.UnregisterConn(c), ErrFDNotRegistered)
}

func TestLoop_DelTimer(t *testing.T) {
	l, _ := newFakeLoop(t)
	ev := &Event{}
	l.DelTimer(ev)
	l.AddTimer(ev, time.Second)
	l.DelTimer(ev)
	assert.False(t, ev.TimerSet())
	assert.True(t, l.Timers().NoTimersLeft())
}

// start runs l, waiting until it has left StateAwake.
func start(t *testing.T, l *Loop, ctx context.Context) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	require.Eventually(t, func() bool { return l.State() != StateAwake }, 5*time.Second, time.Millisecond)
	return done
}

func TestLoop_RunAndShutdown(t *testing.T) {
	l, err := NewLoop(WithPoller(NewTimerPoller()))
	require.NoError(t, err)
	assert.Equal(t, StateAwake, l.State())

	fired := make(chan struct{})
	l.AddTimer(&Event{Handler: func(*Event) { close(fired) }}, 10*time.Millisecond)

	done := start(t, l, context.Background())

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Eventually(t, func() bool { return l.State() == StateSleeping }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Shutdown(ctx))
	assert.Equal(t, StateTerminated, l.State())
	assert.NoError(t, <-done)

	assert.ErrorIs(t, l.Run(context.Background()), ErrLoopTerminated)
	assert.NoError(t, l.Shutdown(ctx))
}

func TestLoop_RunTwice(t *testing.T) {
	l, err := NewLoop(WithPoller(NewTimerPoller()))
	require.NoError(t, err)
	done := start(t, l, context.Background())
	assert.ErrorIs(t, l.Run(context.Background()), ErrLoopAlreadyRunning)
	require.NoError(t, l.Shutdown(context.Background()))
	assert.NoError(t, <-done)
}

func TestLoop_RunFromHandler(t *testing.T) {
	l, err := NewLoop(WithPoller(NewTimerPoller()))
	require.NoError(t, err)

	result := make(chan error, 1)
	ev := &Event{Handler: func(*Event) { result <- l.Run(context.Background()) }}
	l.AddTimer(ev, 0)
	done := start(t, l, context.Background())

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrReentrantRun)
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not run")
	}

	require.NoError(t, l.Shutdown(context.Background()))
	assert.NoError(t, <-done)
}

func TestLoop_ShutdownWaitsForTimers(t *testing.T) {
	l, err := NewLoop(WithPoller(NewTimerPoller()))
	require.NoError(t, err)

	var fired, idleFired atomic.Bool
	l.AddTimer(&Event{Handler: func(*Event) { fired.Store(true) }}, 50*time.Millisecond)
	l.AddTimer(&Event{Cancelable: true, Handler: func(*Event) { idleFired.Store(true) }}, time.Hour)

	done := start(t, l, context.Background())

	require.NoError(t, l.Shutdown(context.Background()))
	assert.True(t, fired.Load())
	assert.False(t, idleFired.Load())
	assert.NoError(t, <-done)
	assert.Equal(t, 1, l.Timers().Len())
}

func TestLoop_ShutdownTimeout(t *testing.T) {
	l, err := NewLoop(WithPoller(NewTimerPoller()))
	require.NoError(t, err)
	l.AddTimer(&Event{}, time.Hour)

	runCtx, stop := context.WithCancel(context.Background())
	done := start(t, l, runCtx)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Shutdown(ctx), context.DeadlineExceeded)
	assert.Equal(t, StateTerminating, l.State())

	stop()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, StateTerminated, l.State())
}

func TestLoop_ContextCancel(t *testing.T) {
	l, err := NewLoop(WithPoller(NewTimerPoller()))
	require.NoError(t, err)
	l.AddTimer(&Event{}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := start(t, l, ctx)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, StateTerminated, l.State())
}

func TestLoop_ShutdownBeforeRun(t *testing.T) {
	l, poller := newFakeLoop(t)
	require.NoError(t, l.Shutdown(context.Background()))
	assert.Equal(t, StateTerminated, l.State())
	assert.True(t, poller.closed.Load())
	assert.ErrorIs(t, l.Run(context.Background()), ErrLoopTerminated)
}

func TestLoopState_String(t *testing.T) {
	for state, want := range map[LoopState]string{
		StateAwake:       "Awake",
		StateRunning:     "Running",
		StateSleeping:    "Sleeping",
		StateTerminating: "Terminating",
		StateTerminated:  "Terminated",
		LoopState(99):    "Unknown",
	} {
		assert.Equal(t, want, state.String())
	}
}

func TestLoopOptions(t *testing.T) {
	_, err := NewLoop(WithPoller(&fakePoller{}), WithMaxPollTimeout(-1))
	assert.Error(t, err)

	l, err := NewLoop(nil, WithPoller(&fakePoller{}), WithLogger(nil))
	require.NoError(t, err)
	assert.NotNil(t, l.Clock())
	assert.Nil(t, l.ThreadPool())
}
