package mqtt

import "fmt"

// Topic prefixes for the ATV Bridge MQTT surface.
//
// All device topics use the flat scheme: atvbridge/{category}/{device_id}
const (
	// TopicPrefix is the base for all bridge topics.
	TopicPrefix = "atvbridge"

	// TopicPrefixDevice is the base for per-device topics.
	TopicPrefixDevice = "atvbridge/device"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "atvbridge/system"
)

// Topics provides builders for ATV Bridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("bedroom-tv")
//	// Returns: "atvbridge/device/bedroom-tv/state"
type Topics struct{}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceState returns the topic for device state publications
// (power, connection state, current app).
//
// Example: atvbridge/device/bedroom-tv/state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixDevice, deviceID)
}

// DeviceCommand returns the topic on which commands for a device arrive.
//
// Example: atvbridge/device/bedroom-tv/command
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/%s/command", TopicPrefixDevice, deviceID)
}

// DeviceAck returns the topic for command acknowledgements.
//
// Example: atvbridge/device/bedroom-tv/ack
func (Topics) DeviceAck(deviceID string) string {
	return fmt.Sprintf("%s/%s/ack", TopicPrefixDevice, deviceID)
}

// DeviceMedia returns the topic for merged media metadata
// (title, artist, artwork, position) from the cast mixer.
//
// Example: atvbridge/device/bedroom-tv/media
func (Topics) DeviceMedia(deviceID string) string {
	return fmt.Sprintf("%s/%s/media", TopicPrefixDevice, deviceID)
}

// DeviceAvailability returns the topic for device reachability updates.
//
// Example: atvbridge/device/bedroom-tv/availability
func (Topics) DeviceAvailability(deviceID string) string {
	return fmt.Sprintf("%s/%s/availability", TopicPrefixDevice, deviceID)
}

// DevicePairing returns the topic for pairing progress events.
//
// Example: atvbridge/device/bedroom-tv/pairing
func (Topics) DevicePairing(deviceID string) string {
	return fmt.Sprintf("%s/%s/pairing", TopicPrefixDevice, deviceID)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic (also used for the LWT).
//
// Example: atvbridge/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDeviceCommands returns a pattern matching commands for every device.
//
// Pattern: atvbridge/device/+/command
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/+/command", TopicPrefixDevice)
}

// AllDeviceStates returns a pattern matching all device state publications.
//
// Pattern: atvbridge/device/+/state
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/+/state", TopicPrefixDevice)
}

// AllDeviceMedia returns a pattern matching all media metadata publications.
//
// Pattern: atvbridge/device/+/media
func (Topics) AllDeviceMedia() string {
	return fmt.Sprintf("%s/+/media", TopicPrefixDevice)
}

// AllTopics returns a pattern matching every bridge topic.
// Use with caution - this receives ALL traffic.
//
// Pattern: atvbridge/#
func (Topics) AllTopics() string {
	return "atvbridge/#"
}
