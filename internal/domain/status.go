package domain

// Status enumerates lifecycle states for tickets.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusResolved   Status = "RESOLVED"
	StatusClosed     Status = "CLOSED"
	StatusReopened   Status = "REOPENED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusOpen,
	StatusInProgress,
	StatusResolved,
	StatusClosed,
	StatusReopened,
}

// transitions holds the permitted edges of the ticket state machine.
// A reopened ticket goes back to OPEN before work resumes.
var transitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress},
	StatusInProgress: {StatusResolved},
	StatusResolved:   {StatusClosed, StatusReopened},
	StatusClosed:     {StatusReopened},
	StatusReopened:   {StatusOpen},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether moving from s to next is a permitted edge.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
