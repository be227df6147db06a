//go:build integration

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/atv-bridge/internal/infrastructure/config"
)

// End-to-end broker tests. They need a Mosquitto instance at 127.0.0.1:1883
// (docker-compose.yml starts one) and run with:
//
//	go test -tags=integration -count=1 ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func mustConnect(t *testing.T, clientID string) *Client {
	t.Helper()
	client, err := Connect(integrationConfig(clientID))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIntegration_ConnectAndHealth(t *testing.T) {
	client := mustConnect(t, "atvbridge-int-health")

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.Close()
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := integrationConfig("atvbridge-int-refused")
	cfg.Broker.Port = 19999

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// TestIntegration_RetainedStateDocument verifies that a retained device
// state document reaches a subscriber that connects after the publish.
func TestIntegration_RetainedStateDocument(t *testing.T) {
	pub := mustConnect(t, "atvbridge-int-state-pub")

	topic := Topics{}.DeviceState("int-test-tv")
	doc := []byte(`{"state":"connected","power":"on"}`)
	if err := pub.PublishRetained(topic, doc); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}

	// Late subscriber: the broker must replay the retained document.
	sub := mustConnect(t, "atvbridge-int-state-sub")
	received := make(chan []byte, 1)
	err := sub.Subscribe(topic, 1, func(_ string, payload []byte) error {
		select {
		case received <- payload:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case payload := <-received:
		var got map[string]any
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatalf("retained payload not JSON: %v", err)
		}
		if got["state"] != "connected" {
			t.Errorf("retained state = %v, want connected", got["state"])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retained document never delivered")
	}

	// Clear the retained document.
	pub.Publish(topic, nil, 1, true)
}

// TestIntegration_CommandFanIn verifies the wildcard command subscription
// sees commands for every device with the concrete topic preserved.
func TestIntegration_CommandFanIn(t *testing.T) {
	hub := mustConnect(t, "atvbridge-int-cmd-hub")
	bridge := mustConnect(t, "atvbridge-int-cmd-bridge")

	type msg struct {
		topic   string
		payload string
	}
	received := make(chan msg, 4)

	err := bridge.Subscribe(Topics{}.AllDeviceCommands(), 1, func(topic string, payload []byte) error {
		received <- msg{topic: topic, payload: string(payload)}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	devices := []string{"int-living-room", "int-bedroom"}
	for _, id := range devices {
		cmd := fmt.Sprintf(`{"command":"DPAD_UP","correlation_id":"%s-1"}`, id)
		if err := hub.PublishString(Topics{}.DeviceCommand(id), cmd, 1, false); err != nil {
			t.Fatalf("PublishString(%s) error = %v", id, err)
		}
	}

	seen := make(map[string]bool)
	deadline := time.After(5 * time.Second)
	for len(seen) < len(devices) {
		select {
		case m := <-received:
			seen[m.topic] = true
		case <-deadline:
			t.Fatalf("received %d of %d command topics", len(seen), len(devices))
		}
	}

	for _, id := range devices {
		if !seen[Topics{}.DeviceCommand(id)] {
			t.Errorf("no command delivered for %s", id)
		}
	}
}

// TestIntegration_GracefulShutdownStatus verifies Close publishes an
// offline status distinct from the Last Will.
func TestIntegration_GracefulShutdownStatus(t *testing.T) {
	watcher := mustConnect(t, "atvbridge-int-status-watch")

	statuses := make(chan string, 8)
	err := watcher.Subscribe(Topics{}.SystemStatus(), 1, func(_ string, payload []byte) error {
		var doc struct {
			Status string `json:"status"`
			Reason string `json:"reason"`
		}
		if json.Unmarshal(payload, &doc) == nil {
			statuses <- doc.Status + "/" + doc.Reason
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	subject := mustConnect(t, "atvbridge-int-status-subject")
	subject.Close()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-statuses:
			if s == "offline/graceful_shutdown" {
				return
			}
		case <-deadline:
			t.Fatal("graceful offline status never observed")
		}
	}
}

// TestIntegration_SubscriptionReplaySet verifies the tracked set used for
// reconnect replay stays in step with Subscribe and Unsubscribe.
func TestIntegration_SubscriptionReplaySet(t *testing.T) {
	client := mustConnect(t, "atvbridge-int-replay")

	topics := []string{
		Topics{}.DeviceCommand("replay-a"),
		Topics{}.DeviceCommand("replay-b"),
		Topics{}.AllDeviceStates(),
	}
	handler := func(string, []byte) error { return nil }

	for _, topic := range topics {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if got := client.SubscriptionCount(); got != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", got, len(topics))
	}

	if err := client.Unsubscribe(topics[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topics[0]) {
		t.Error("HasSubscription() = true after Unsubscribe()")
	}
	if got := client.SubscriptionCount(); got != len(topics)-1 {
		t.Errorf("SubscriptionCount() = %d, want %d", got, len(topics)-1)
	}
}
