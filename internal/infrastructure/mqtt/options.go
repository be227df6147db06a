package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/atv-bridge/internal/infrastructure/config"
)

const (
	// connectTimeout bounds the initial dial. Reconnects after that are
	// paho's job and follow the configured retry intervals instead.
	connectTimeout = 10 * time.Second

	// opTimeout bounds publish, subscribe and unsubscribe acknowledgments.
	opTimeout = 5 * time.Second

	// disconnectQuiesceMs is how long Close lets in-flight messages drain
	// before dropping the connection (paho takes milliseconds).
	disconnectQuiesceMs = 1000

	keepAlive = 60 * time.Second

	maxQoS = 2
)

// buildClientOptions maps bridge config onto paho options. Reconnection is
// delegated to paho entirely: it retries forever with backoff between the
// configured initial and max delays, so a broker restart never needs any
// bridge-side handling beyond the subscription replay in onBrokerConnect.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	// Last Will: the broker publishes this on our behalf if the bridge
	// dies without a clean disconnect, so hub consumers know every
	// retained device document is stale the moment the status flips.
	opts.SetWill(Topics{}.SystemStatus(),
		string(statusPayload(cfg.Broker.ClientID, "offline", "unexpected_disconnect")), 1, true)

	return opts
}

// bridgeStatus is the retained document on the system status topic.
// Reason distinguishes a graceful shutdown from a crash-triggered Will.
type bridgeStatus struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(clientID, status, reason string) []byte {
	b, _ := json.Marshal(bridgeStatus{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return b
}
