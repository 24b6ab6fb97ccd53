package visit

// Status lifecycle:
//
//	scheduled → checked_in → in_progress → completed
//	cancelled and no_show reachable from any non-terminal state
//	no_show → checked_in (re-admission)
//	completed and cancelled are terminal
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusCheckedIn  Status = "checked_in"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

var transitions = map[Status][]Status{
	StatusScheduled:  {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusCancelled, StatusNoShow},
	StatusNoShow:     {StatusCheckedIn, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether the state machine permits moving from one
// status to another. Every status mutation in the system goes through this;
// completing an already-completed visit is handled upstream as a no-op, not
// as a transition.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
