// Package lifecycle starts and stops the long-running parts of a process
// in order.
//
// A [Manager] owns an ordered list of [Component] values. Start runs their
// start hooks first to last; Stop runs the stop hooks of the components
// that started, last to first. The manager itself moves through a
// validated state machine:
//
//	Unknown → Starting → Running → Stopping → Stopped
//
// Any non-terminal state may move to Failed, and both terminal states
// (Stopped, Failed) may move back to Starting for a restart.
//
// # Thread Safety
//
// State is protected by a [sync.RWMutex]. Hooks run outside the mutex and
// may call [Manager.State] without deadlocking.
package lifecycle

// State is the lifecycle state of a [Manager]. The zero value ("") is not a
// valid state; managers start in [StateUnknown].
type State string

const (
	// StateUnknown is the state of a manager that has never been started.
	StateUnknown State = "unknown"

	// StateStarting is set before the first start hook runs.
	StateStarting State = "starting"

	// StateRunning is set once every start hook has succeeded. It is the
	// only state in which [Manager.Health] reports healthy.
	StateRunning State = "running"

	// StateStopping is set before the first stop hook runs.
	StateStopping State = "stopping"

	// StateStopped is set after every stop hook succeeded. A stopped
	// manager may be started again.
	StateStopped State = "stopped"

	// StateFailed is set when a start or stop hook fails. A failed manager
	// may be started again.
	StateFailed State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Valid reports whether the state is one of the recognized lifecycle states.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateStarting, StateRunning,
		StateStopping, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state is [StateStopped] or [StateFailed].
func (s State) IsTerminal() bool {
	switch s {
	case StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// validTransitions is the transition matrix:
//
//	Unknown  → Starting, Failed
//	Starting → Running, Failed, Stopping
//	Running  → Stopping, Failed
//	Stopping → Stopped, Failed
//	Stopped  → Starting              (restart)
//	Failed   → Starting              (recovery restart)
var validTransitions = map[State][]State{
	StateUnknown:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateFailed, StateStopping},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
}

// ValidTransition reports whether moving from one state to another is
// allowed. Same-state transitions are always rejected.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}
