package model

// State is the lifecycle state of a component instance.
type State string

const (
	StateNew       State = "NEW"
	StateInstalled State = "INSTALLED"
	StateStarting  State = "STARTING"
	StateRunning   State = "RUNNING"
	StateStopping  State = "STOPPING"
	StateFinished  State = "FINISHED"
	StateErrored   State = "ERRORED"
	StateBroken    State = "BROKEN"
)

// IsActive reports whether the instance currently holds resources that a
// shutdown must release (a running process or an in-flight step).
func (s State) IsActive() bool {
	switch s {
	case StateStarting, StateRunning, StateStopping:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further automatic transition will occur.
// BROKEN is cleared only by a new deployment that recreates the instance.
func (s State) IsTerminal() bool {
	return s == StateBroken
}

// Ready reports whether a dependency in state s satisfies a dependent's
// gating condition: RUNNING for long-running components, FINISHED for
// install-only components or ones that ran to clean completion.
func (s State) Ready() bool {
	return s == StateRunning || s == StateFinished
}
