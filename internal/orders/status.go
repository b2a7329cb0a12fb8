package orders

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusShipping  Status = "SHIPPING"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// validNext is the single source of truth for legal lifecycle transitions.
// Call sites never re-check transitions ad hoc; they go through Transition.
var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {StatusShipping: true, StatusCancelled: true},
	StatusShipping:  {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered: {},
	StatusCancelled: {},
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal reports whether no transition out of s is legal.
func (s Status) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Transition validates from->to and returns the error the caller must surface:
// ErrTerminalState when from is DELIVERED/CANCELLED, ErrInvalidTransition for
// any other off-table move.
func Transition(from, to Status) error {
	if from.Terminal() {
		return ErrTerminalState
	}
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	return nil
}
