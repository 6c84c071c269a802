package workorder

import "fmt"

// InvariantError reports a violated data-model invariant, surfaced at write
// time rather than left to corrupt downstream readers.
type InvariantError struct {
	Invariant string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Invariant, e.Detail)
}

// IllegalTransitionError is returned when a state machine rejects a
// requested transition.
type IllegalTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal-transition: %s cannot move from %s to %s", e.Entity, e.From, e.To)
}
