package domain

import "errors"

// Error taxonomy for the bridge. Callers classify with errors.Is; adapters wrap
// these with provider detail using fmt.Errorf("...: %w", err).
var (
	// ErrFormat marks a malformed audio payload or wire envelope. The offending
	// unit is dropped; the session keeps running.
	ErrFormat = errors.New("malformed audio or envelope")

	// ErrBackendUnavailable marks a failed backend connection or auth failure.
	// Not retryable; the call terminates.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrBackendTimeout marks a backend handshake or operation timeout.
	// Retryable exactly once by the call session.
	ErrBackendTimeout = errors.New("backend timeout")

	// ErrClosed marks an operation on a torn-down session or handle.
	ErrClosed = errors.New("session closed")

	// ErrDuplicateCall marks a registry create for an already-active call id.
	ErrDuplicateCall = errors.New("duplicate call id")

	// ErrCapacityExceeded marks a registry create beyond the concurrency ceiling.
	ErrCapacityExceeded = errors.New("capacity exceeded")
)
