package session

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned when a mutation is attempted on a closed
// session (other than the explicit resume transition).
var ErrSessionClosed = errors.New("session is closed")

// IllegalTransitionError reports a state transition not permitted by the
// session state table. It always indicates a caller bug and is never
// silently corrected.
type IllegalTransitionError struct {
	From State
	To   State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal session transition: %s -> %s", e.From, e.To)
}

// ReferentialError reports a decision point referencing a turn index that
// does not exist in the session transcript.
type ReferentialError struct {
	TurnIndex int
	TurnCount int
}

func (e *ReferentialError) Error() string {
	return fmt.Sprintf("decision references turn %d but session has %d turns", e.TurnIndex, e.TurnCount)
}
