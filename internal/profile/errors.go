package profile

import "errors"

// Sentinel errors for profile operations.
var (
	// ErrNotSupported indicates a command has no mapping in the resolved
	// profile and no fallback applies. This is a normal negative result,
	// not a failure: callers translate it to a protocol-level
	// "command not supported" response.
	ErrNotSupported = errors.New("profile: command not supported")

	// ErrInvalidProfile indicates a profile definition failed validation.
	ErrInvalidProfile = errors.New("profile: invalid profile definition")
)
