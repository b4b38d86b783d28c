package pipeline

import "sync/atomic"

// State is the lifecycle state of a call session.
type State int32

const (
	// StateInactive: socket accepted, waiting for the carrier's start event.
	StateInactive State = iota
	// StateActive: media flows in both directions.
	StateActive
	// StateClosing: cleanup is running.
	StateClosing
	// StateClosed: every task has stopped and connections are released.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "INACTIVE"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// stateCell holds a State readable from any goroutine.
type stateCell struct {
	v atomic.Int32
}

func (c *stateCell) Load() State { return State(c.v.Load()) }

func (c *stateCell) Store(s State) { c.v.Store(int32(s)) }

// Transition moves from one state to another, failing if the current state differs.
func (c *stateCell) Transition(from, to State) bool {
	return c.v.CompareAndSwap(int32(from), int32(to))
}
