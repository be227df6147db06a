// Package influxdb records the bridge's time-series telemetry: session
// state transitions, command outcomes with latency, and playback position
// samples from the cast mixer.
//
// Telemetry is strictly optional. When the influxdb section of config.yaml
// is disabled, Connect returns ErrDisabled and the caller runs without a
// client; when the server becomes unreachable at runtime, the write
// helpers turn into no-ops and the bridge keeps serving devices.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil && !errors.Is(err, influxdb.ErrDisabled) {
//	    return err
//	}
//
//	client.WriteConnectionState("bedroom-tv", "connected", 0)
//
// Writes go through the official client's batched non-blocking API, so
// none of the helpers ever block a session goroutine. Batch failures are
// reported asynchronously through SetOnError.
package influxdb
