package event

import (
	"sync/atomic"
)

// LoopState is the lifecycle state of a Loop.
//
//	StateAwake       -> StateRunning      [Run]
//	StateRunning     -> StateSleeping     [before poll, CAS]
//	StateSleeping    -> StateRunning      [after poll, CAS]
//	StateRunning     -> StateTerminating  [Shutdown]
//	StateSleeping    -> StateTerminating  [Shutdown]
//	StateAwake       -> StateTerminated   [Shutdown before Run]
//	StateTerminating -> StateTerminated   [shutdown complete]
//
// Running and Sleeping are only ever entered by CAS, so a concurrent
// Shutdown is never overwritten.
type LoopState uint64

const (
	// StateAwake indicates the loop has been created but not started.
	StateAwake LoopState = 0
	// StateTerminated indicates the loop has stopped and released its
	// resources.
	StateTerminated LoopState = 1
	// StateSleeping indicates the loop is blocked in poll.
	StateSleeping LoopState = 2
	// StateRunning indicates the loop is dispatching events.
	StateRunning LoopState = 3
	// StateTerminating indicates shutdown has been requested, and the loop
	// is waiting for non-cancelable timers.
	StateTerminating LoopState = 4
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// loopState is a lock-free state cell, padded to its own cache line.
type loopState struct { // betteralign:ignore
	_ [64]byte      //nolint:unused
	v atomic.Uint64 // LoopState
	_ [56]byte      //nolint:unused
}

func (s *loopState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store is for irreversible states only.
func (s *loopState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

func (s *loopState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}
