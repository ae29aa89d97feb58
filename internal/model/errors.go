package model

import "errors"

var (
	// ErrSessionNotFound is returned when no live session is registered under an id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSessionID is returned when a session id is empty or contains
	// characters the multiplexer cannot use as a session name.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrInvalidSize is returned for terminal dimensions outside 1..65535.
	ErrInvalidSize = errors.New("invalid terminal size")

	// ErrResource is returned when a pseudo-terminal or backing process cannot be created.
	ErrResource = errors.New("terminal resource unavailable")

	// ErrIO is returned when reading from or writing to a terminal descriptor fails.
	ErrIO = errors.New("terminal i/o failed")

	// ErrShuttingDown is returned when a session is requested after shutdown began.
	ErrShuttingDown = errors.New("server is shutting down")

	// ErrStoreDisabled is returned when session history is requested but no store is configured.
	ErrStoreDisabled = errors.New("session history store disabled")
)
