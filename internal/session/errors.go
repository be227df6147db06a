package session

import "errors"

// Domain errors for device sessions.
var (
	// ErrNotConnected is returned when a command is rejected because the
	// session has no live connection and no wake path applies.
	ErrNotConnected = errors.New("session: device not connected")

	// ErrQueueOverflow completes the oldest pending command when the
	// queue is full and a newer command displaces it.
	ErrQueueOverflow = errors.New("session: command queue overflow")

	// ErrStopped is returned for commands caught in a session teardown.
	ErrStopped = errors.New("session: stopped")

	// ErrNotPairing is returned by FinishPairing when no pairing exchange
	// is in progress.
	ErrNotPairing = errors.New("session: no pairing in progress")
)
