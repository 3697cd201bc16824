package investigate

// State is a step of the per-pair iteration state machine.
type State int

const (
	StateInit State = iota
	StateAwaitingModel
	StateToolRequested
	StateAwaitingApproval
	StateToolExecuting
	StateFinished
	StatePaused
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateAwaitingModel:
		return "AWAITING_MODEL"
	case StateToolRequested:
		return "TOOL_REQUESTED"
	case StateAwaitingApproval:
		return "AWAITING_APPROVAL"
	case StateToolExecuting:
		return "TOOL_EXECUTING"
	case StateFinished:
		return "FINISHED"
	case StatePaused:
		return "PAUSED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the state ends the pair.
func (s State) Terminal() bool {
	return s == StateFinished || s == StatePaused || s == StateCancelled
}
