package influxdb

import "errors"

// Sentinel errors for connection handling. Write failures never surface
// here; they arrive asynchronously through the SetOnError callback.
var (
	// ErrNotConnected indicates the client was closed or never connected.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed wraps a failed initial ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled indicates telemetry is switched off in config. The
	// bridge treats this as "run without metrics", not as a fault.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
