package term

import "errors"

// Sentinel errors for session operations.
var (
	// ErrSessionExists indicates a session name is already registered.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound indicates no session is registered under the name.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionKilled indicates a write or resize on a killed session.
	ErrSessionKilled = errors.New("session is killed")

	// ErrListenerLimit indicates the listener registration cap was reached.
	ErrListenerLimit = errors.New("listener limit reached")
)
