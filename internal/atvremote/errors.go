package atvremote

import "errors"

// Domain errors for the Android TV remote transport.
var (
	// ErrNotConnected is returned when an operation requires a live
	// connection but the client is disconnected.
	ErrNotConnected = errors.New("atvremote: not connected")

	// ErrDeviceUnreachable is returned when the device cannot be reached
	// at the transport level (dial failure, connection loss).
	ErrDeviceUnreachable = errors.New("atvremote: device unreachable")

	// ErrPairingRequired is returned by Connect when the device does not
	// trust the presented client certificate and a PIN pairing exchange
	// is needed first.
	ErrPairingRequired = errors.New("atvremote: pairing required")

	// ErrPairingFailed is returned when the PIN exchange is rejected
	// (wrong or expired PIN). The pairing session stays open for retry.
	ErrPairingFailed = errors.New("atvremote: pairing failed")

	// ErrCertificateInvalid is returned when a previously trusted
	// certificate is rejected mid-session. The device has revoked trust
	// and must be re-paired; reconnecting with the same certificate
	// will never succeed.
	ErrCertificateInvalid = errors.New("atvremote: client certificate rejected")

	// ErrTimeout is returned when an operation exceeds its deadline.
	// Callers treat it the same as ErrDeviceUnreachable.
	ErrTimeout = errors.New("atvremote: operation timed out")

	// ErrKeyRejected is returned when the device acknowledges a keycode
	// injection negatively.
	ErrKeyRejected = errors.New("atvremote: keycode rejected by device")

	// ErrProtocolDesync is returned when the message stream is corrupted
	// (oversized or malformed frame). The connection must be closed.
	ErrProtocolDesync = errors.New("atvremote: protocol desync")
)
