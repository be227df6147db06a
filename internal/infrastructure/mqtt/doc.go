// Package mqtt is the bridge's machine-facing surface. Home-automation
// hubs send remote-control commands over the broker and get device state,
// availability and media metadata back, without knowing anything about the
// Android TV remote protocol:
//
//	Hub ↔ MQTT broker ↔ ATV Bridge ↔ Android TV devices
//
// The topic layout lives in topics.go. State and media documents are
// published retained so a consumer that subscribes late still sees the
// last known snapshot; commands and acks are fire-and-forget. A Last Will
// on the system status topic flips the bridge to offline if it dies
// without a clean shutdown.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.Subscribe(mqtt.Topics{}.AllDeviceCommands(), 1, handleCommand)
//	client.PublishRetained(mqtt.Topics{}.DeviceState("bedroom-tv"), doc)
//
// Anonymous plaintext connections are for local development only; real
// deployments set broker credentials and TLS in config.
package mqtt
