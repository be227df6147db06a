package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteConnectionState records a session state transition for a device.
//
// This is the primary method for recording connection history. The write
// is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Unique identifier for the device (e.g., "bedroom-tv")
//   - state: The session state name (e.g., "connected", "reconnecting")
//   - attempt: Reconnect attempt count at the time of the transition
//
// Example:
//
//	client.WriteConnectionState("bedroom-tv", "connected", 0)
func (c *Client) WriteConnectionState(deviceID string, state string, attempt int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"connection_state",
		map[string]string{
			"device_id": deviceID,
			"state":     state,
		},
		map[string]interface{}{
			"attempt": attempt,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCommandMetric records a dispatched command and its outcome.
//
// Used for tracking command throughput and failure rates per device.
//
// Parameters:
//   - deviceID: Device identifier
//   - command: The command name (e.g., "DPAD_UP", "VOLUME_UP")
//   - ok: Whether the command was delivered
//   - latency: Time from dispatch to transport write
func (c *Client) WriteCommandMetric(deviceID string, command string, ok bool, latency time.Duration) {
	if !c.IsConnected() {
		return
	}

	okVal := 0
	if ok {
		okVal = 1
	}

	point := write.NewPoint(
		"command",
		map[string]string{
			"device_id": deviceID,
			"command":   command,
		},
		map[string]interface{}{
			"ok":         okVal,
			"latency_ms": latency.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteMediaPosition records a playback position sample from the cast mixer.
//
// Parameters:
//   - deviceID: Device identifier
//   - position: Playback position in seconds
//   - duration: Media duration in seconds (0 if unknown)
func (c *Client) WriteMediaPosition(deviceID string, position float64, duration float64) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"position_s": position,
	}
	if duration > 0 {
		fields["duration_s"] = duration
	}

	point := write.NewPoint(
		"media_position",
		map[string]string{
			"device_id": deviceID,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint records a custom measurement. Tags index the point and must
// stay low-cardinality; fields carry the values.
//
//	client.WritePoint("session_stats",
//	    map[string]string{"device_id": "bedroom-tv"},
//	    map[string]interface{}{"queue_depth": 3, "reconnects": 12})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime is WritePoint with an explicit timestamp, for samples
// that were captured earlier than they are recorded.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
