package terminal

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an unknown session id.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidState indicates an operation that is not valid for the
	// session's current state, such as reaping a live session.
	ErrInvalidState = errors.New("operation not valid in current session state")

	// ErrSandboxUnavailable indicates the isolation boundary could not be
	// constructed on this host. It is surfaced before any process spawns;
	// there is no silent unsandboxed fallback.
	ErrSandboxUnavailable = errors.New("sandbox unavailable on this host")

	// ErrSessionClosed indicates input was sent to a terminated session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrProfileBusy indicates the profile already has an active session.
	ErrProfileBusy = errors.New("profile already has an active session")
)

// SpawnError wraps a failure to start the target process.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
