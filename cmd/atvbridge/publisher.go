package main

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/nerrad567/atv-bridge/internal/api"
	"github.com/nerrad567/atv-bridge/internal/cast"
	"github.com/nerrad567/atv-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/atv-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/atv-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/atv-bridge/internal/session"
)

// statePublisher fans device attribute changes out to every consumer:
// retained MQTT state/media topics, the WebSocket hub, and InfluxDB.
//
// Sessions publish deltas. MQTT consumers expect a full retained document
// per topic, so the publisher keeps a merged snapshot per device and
// republishes the whole thing on every change. The WebSocket hub gets the
// raw delta - browser clients track their own state.
type statePublisher struct {
	mqtt   *mqtt.Client    // nil when MQTT is disabled
	influx *influxdb.Client // nil when InfluxDB is disabled
	qos    byte
	log    *logging.Logger
	topics mqtt.Topics

	mu    sync.Mutex
	hub   *api.Hub
	state map[string]map[string]any // device id -> merged non-media attrs
	media map[string]map[string]any // device id -> merged media attrs
}

func newStatePublisher(mqttClient *mqtt.Client, influxClient *influxdb.Client, qos byte, log *logging.Logger) *statePublisher {
	return &statePublisher{
		mqtt:   mqttClient,
		influx: influxClient,
		qos:    qos,
		log:    log,
		state:  make(map[string]map[string]any),
		media:  make(map[string]map[string]any),
	}
}

// SetHub wires the WebSocket hub once the API server exists. Sessions may
// already be publishing by then; changes before this point simply have no
// WebSocket audience.
func (p *statePublisher) SetHub(hub *api.Hub) {
	p.mu.Lock()
	p.hub = hub
	p.mu.Unlock()
}

// Notify implements session.Notifier.
func (p *statePublisher) Notify(deviceID string, attrs map[string]any) {
	p.mu.Lock()
	hub := p.hub
	statePayload, mediaPayload := p.mergeLocked(deviceID, attrs)
	p.mu.Unlock()

	if hub != nil {
		hub.BroadcastAttributes(deviceID, attrs)
	}

	if p.mqtt != nil {
		if statePayload != nil {
			if err := p.mqtt.Publish(p.topics.DeviceState(deviceID), statePayload, p.qos, true); err != nil {
				p.log.Warn("state publish failed", "device_id", deviceID, "error", err)
			}
		}
		if mediaPayload != nil {
			if err := p.mqtt.Publish(p.topics.DeviceMedia(deviceID), mediaPayload, p.qos, true); err != nil {
				p.log.Warn("media publish failed", "device_id", deviceID, "error", err)
			}
		}
	}

	p.writeMetrics(deviceID, attrs)
}

// mergeLocked folds the delta into the per-device snapshots and returns the
// JSON documents to republish. A nil return means that topic is unchanged.
// Caller must hold p.mu.
func (p *statePublisher) mergeLocked(deviceID string, attrs map[string]any) (statePayload, mediaPayload []byte) {
	stateChanged, mediaChanged := false, false

	for key, value := range attrs {
		if strings.HasPrefix(key, "media_") {
			if p.media[deviceID] == nil {
				p.media[deviceID] = make(map[string]any)
			}
			p.media[deviceID][key] = value
			mediaChanged = true
			continue
		}
		if p.state[deviceID] == nil {
			p.state[deviceID] = make(map[string]any)
		}
		p.state[deviceID][key] = value
		stateChanged = true
	}

	if stateChanged {
		statePayload = marshalOrNil(p.state[deviceID])
	}
	if mediaChanged {
		mediaPayload = marshalOrNil(p.media[deviceID])
	}
	return statePayload, mediaPayload
}

// writeMetrics records connection transitions and playback position.
func (p *statePublisher) writeMetrics(deviceID string, attrs map[string]any) {
	if p.influx == nil {
		return
	}

	if state, ok := attrs[session.AttrState].(string); ok {
		p.influx.WriteConnectionState(deviceID, state, 0)
	}

	position, okPos := attrs[cast.AttrPosition].(int)
	duration, okDur := attrs[cast.AttrDuration].(int)
	if okPos && okDur {
		p.influx.WriteMediaPosition(deviceID, float64(position), float64(duration))
	}
}

func marshalOrNil(doc map[string]any) []byte {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	return payload
}
