package toolloop

import "errors"

var (
	// ErrMaxToolRounds is returned when the model keeps requesting tools past the cap.
	ErrMaxToolRounds = errors.New("maximum tool rounds exceeded")

	// ErrNoWindow is returned when Run is called without a conversation window.
	ErrNoWindow = errors.New("conversation window is required")
)
