package gate

import "fmt"

// State is a request's position in the confirmation lifecycle.
type State int

const (
	Proposed State = iota
	AwaitingApproval
	Approved
	Rejected
	Executing
	Completed
	Failed
)

var stateNames = [...]string{
	Proposed:         "proposed",
	AwaitingApproval: "awaiting-approval",
	Approved:         "approved",
	Rejected:         "rejected",
	Executing:        "executing",
	Completed:        "completed",
	Failed:           "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// transitions lists the legal successors of each state. Executing is only
// reachable from Approved.
var transitions = map[State][]State{
	Proposed:         {AwaitingApproval, Approved},
	AwaitingApproval: {Approved, Rejected},
	Approved:         {Executing},
	Executing:        {Completed, Failed},
}

// CanTransition reports whether from → to is legal.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no successors.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}
