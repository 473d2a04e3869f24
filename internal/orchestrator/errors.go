package orchestrator

import (
	"errors"
	"fmt"

	"guardacademy.io/guardacademy/internal/session"
)

// ErrSessionNotFound reports an unknown or already-completed session ID.
var ErrSessionNotFound = errors.New("session not found")

// ErrHintsExhausted reports that the per-session hint budget is spent.
var ErrHintsExhausted = errors.New("hint budget exhausted")

// ErrNoDecisionPending reports a hint request outside a decision point.
var ErrNoDecisionPending = errors.New("no decision pending")

// ErrUnknownThreatType reports a requested threat type the catalog cannot
// serve.
var ErrUnknownThreatType = errors.New("unknown threat type")

// PrematureCompletionError reports a completion request before the session
// narrative resolved. The caller should continue the session and retry.
type PrematureCompletionError struct {
	State session.State
}

func (e *PrematureCompletionError) Error() string {
	return fmt.Sprintf("session cannot be completed in state %s", e.State)
}
