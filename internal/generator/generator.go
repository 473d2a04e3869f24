// Package generator defines the boundary to the narrative-generation
// collaborator (the language model) and the fallback behavior when it is
// unavailable.
package generator

import (
	"context"
	"errors"

	"guardacademy.io/guardacademy/internal/session"
)

// ErrContentBlocked signals the provider refused the prompt. Recoverable:
// callers fall back to template content.
var ErrContentBlocked = errors.New("generated content blocked by provider")

// ErrProviderUnavailable signals the provider could not be reached or
// returned a transient failure. Recoverable via retry then fallback.
var ErrProviderUnavailable = errors.New("generation provider unavailable")

// Context carries everything the collaborator needs to produce the next
// narrative beat. All required state travels in the call; generators hold
// no ambient per-session state.
type Context struct {
	// RoleInstructions frames the threat actor's persona
	RoleInstructions string

	// History is the conversation so far
	History []session.Turn

	// ThreatType and FocusCategory parameterize the scenario
	ThreatType    session.ThreatType
	FocusCategory session.Category

	// Difficulty in [1,5]; higher means subtler pressure
	Difficulty int

	// Stage is the current decision stage index within the scenario
	Stage int
}

// Generator produces narrative text from a prompt context. Implementations
// may fail with ErrContentBlocked or ErrProviderUnavailable; callers must
// degrade to fallback content rather than surface either to the user.
type Generator interface {
	Generate(ctx context.Context, gc Context) (string, error)
}

// Func adapts a function to the Generator interface.
type Func func(ctx context.Context, gc Context) (string, error)

// Generate implements Generator.
func (f Func) Generate(ctx context.Context, gc Context) (string, error) {
	return f(ctx, gc)
}
