package registry

import "errors"

// Domain errors for the registry package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, registry.ErrUnknownDevice) {
//	    // handle unknown device
//	}
var (
	// ErrUnknownDevice is returned when a device id is not configured.
	ErrUnknownDevice = errors.New("registry: unknown device")

	// ErrDeviceExists is returned when creating a device with an id that
	// already exists in the store.
	ErrDeviceExists = errors.New("registry: device already exists")

	// ErrInvalidConfig is returned when a device configuration fails
	// validation.
	ErrInvalidConfig = errors.New("registry: invalid device config")
)
