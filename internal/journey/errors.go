package journey

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers branch on these with errors.Is; the wrapped
// message carries the failing id/stage.
var (
	// ErrNotFound means the journey id is unknown. Not retryable.
	ErrNotFound = errors.New("journey not found")
	// ErrDuplicate means create was called for an existing id.
	ErrDuplicate = errors.New("journey already exists")
	// ErrInvalidTransition means the target stage is not reachable from the
	// current stage. Never coerced, never retried.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrConflict means a concurrent writer won the version race. Retried
	// internally with a bound; surfaced as transient once exhausted.
	ErrConflict = errors.New("write conflict")
	// ErrTerminal means the journey already reached a terminal stage.
	ErrTerminal = errors.New("journey is terminal")
)

// NotFoundf wraps ErrNotFound with the failing id.
func NotFoundf(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Duplicatef wraps ErrDuplicate with the failing id.
func Duplicatef(id string) error {
	return fmt.Errorf("%w: %s", ErrDuplicate, id)
}

// InvalidTransitionf wraps ErrInvalidTransition with the attempted move.
func InvalidTransitionf(id string, from, to Stage) error {
	return fmt.Errorf("%w: %s: %s -> %s", ErrInvalidTransition, id, from, to)
}

// Conflictf wraps ErrConflict with the contended id.
func Conflictf(id string) error {
	return fmt.Errorf("%w: %s", ErrConflict, id)
}

// Kind returns a stable machine-readable name for an error, for API payloads.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrTerminal):
		return "terminal"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
