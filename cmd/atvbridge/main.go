// ATV Bridge - Android TV integration driver
//
// This is the main entry point for the ATV Bridge daemon. It maintains a
// persistent remote-control session to every configured Android TV,
// reconciles device state (power, current app, volume, cast media
// metadata), and exposes the result to the hub over MQTT, REST, and a
// WebSocket event stream.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/nerrad567/atv-bridge/migrations"

	"github.com/nerrad567/atv-bridge/internal/api"
	"github.com/nerrad567/atv-bridge/internal/infrastructure/config"
	"github.com/nerrad567/atv-bridge/internal/infrastructure/database"
	"github.com/nerrad567/atv-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/atv-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/atv-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/atv-bridge/internal/profile"
	"github.com/nerrad567/atv-bridge/internal/registry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup wiring
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting ATV Bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Load keycode profiles
	resolver := profile.NewResolver()
	resolver.SetLogger(log)
	if loadErr := resolver.Load(cfg.Profiles.Dir); loadErr != nil {
		log.Warn("profile directory not loaded, using built-in defaults",
			"dir", cfg.Profiles.Dir, "error", loadErr)
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// The publisher fans attribute changes out to MQTT, InfluxDB, and the
	// WebSocket hub (wired below, once the API server exists).
	publisher := newStatePublisher(mqttClient, influxClient, byte(cfg.MQTT.QoS), log)

	// Device registry: one session per configured Android TV
	reg, err := registry.New(registry.Options{
		Store:    registry.NewSQLiteStore(db.DB),
		Resolver: resolver,
		Notifier: publisher,
		CertDir:  cfg.Remote.CertDir,

		ConnectTimeout:     cfg.Remote.GetConnectTimeout(),
		InitialBackoff:     cfg.Remote.Backoff.GetInitialDelay(),
		MaxBackoff:         cfg.Remote.Backoff.GetMaxDelay(),
		BackoffFactor:      cfg.Remote.Backoff.Factor,
		RetryBudget:        cfg.Remote.RetryBudget,
		ErrorRetryInterval: time.Duration(cfg.Remote.ErrorRetryInterval) * time.Second,
		CastDebounce:       time.Duration(cfg.Cast.PositionDebounce) * time.Second,
		QueueDepth:         cfg.Remote.CommandQueueDepth,

		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("creating device registry: %w", err)
	}
	defer func() {
		log.Info("stopping device sessions")
		reg.Close()
	}()

	if startErr := reg.Start(ctx); startErr != nil {
		return fmt.Errorf("starting device registry: %w", startErr)
	}
	log.Info("device registry started", "devices", reg.Count())

	// HTTP API + WebSocket event stream
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Registry: reg,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	publisher.SetHub(apiServer.Hub())

	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// MQTT command intake: atvbridge/device/{id}/command
	if mqttClient != nil {
		if subErr := subscribeCommands(ctx, mqttClient, reg, byte(cfg.MQTT.QoS), log); subErr != nil {
			return fmt.Errorf("subscribing to command topics: %w", subErr)
		}
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Device sessions
	// 3. InfluxDB (if enabled)
	// 4. MQTT (if enabled)
	// 5. Database

	log.Info("ATV Bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ATVBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ATVBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// commandMessage is the payload expected on device command topics.
type commandMessage struct {
	Command       string         `json:"command"`
	Params        map[string]any `json:"params"`
	CorrelationID string         `json:"correlation_id"`
}

// commandAck is the payload published on device ack topics.
type commandAck struct {
	CorrelationID string `json:"correlation_id"`
	Result        string `json:"result"`
	Error         string `json:"error,omitempty"`
}

// commandTimeout bounds how long a queued command may wait for a device.
const commandTimeout = 30 * time.Second

// subscribeCommands wires the MQTT command plane into the registry.
func subscribeCommands(ctx context.Context, client *mqtt.Client, reg *registry.Registry, qos byte, log *logging.Logger) error {
	topics := mqtt.Topics{}

	return client.Subscribe(topics.AllDeviceCommands(), qos, func(t string, payload []byte) error {
		deviceID := deviceIDFromTopic(t)
		if deviceID == "" {
			log.Warn("command on malformed topic", "topic", t)
			return nil
		}

		var msg commandMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Warn("malformed command payload", "topic", t, "error", err)
			return nil
		}

		cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()

		ack := commandAck{CorrelationID: msg.CorrelationID, Result: "ok"}
		if err := reg.Dispatch(cmdCtx, deviceID, msg.Command, msg.Params); err != nil {
			ack.Result = "error"
			ack.Error = err.Error()
			log.Warn("command failed",
				"device_id", deviceID, "command", msg.Command, "error", err)
		}

		ackPayload, err := json.Marshal(ack)
		if err != nil {
			return nil
		}
		if err := client.Publish(topics.DeviceAck(deviceID), ackPayload, qos, false); err != nil {
			log.Warn("command ack publish failed", "device_id", deviceID, "error", err)
		}
		return nil
	})
}

// deviceIDFromTopic extracts the device id from atvbridge/device/{id}/command.
func deviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "atvbridge" || parts[1] != "device" {
		return ""
	}
	return parts[2]
}
