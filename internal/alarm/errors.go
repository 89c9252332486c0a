package alarm

import "errors"

// Sentinel errors surfaced at the alarm API boundary (spec §9). Callers are
// expected to errors.Is against these rather than pattern-match messages.
var (
	ErrInvalidTransition = errors.New("alarm: invalid transition")
	ErrNotFound          = errors.New("alarm: not found")
	ErrConflict          = errors.New("alarm: conflict")
)
