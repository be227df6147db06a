package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the ATV Bridge daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Remote    RemoteConfig    `yaml:"remote"`
	Profiles  ProfilesConfig  `yaml:"profiles"`
	Cast      CastConfig      `yaml:"cast"`
	Security  SecurityConfig  `yaml:"security"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for state history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// RemoteConfig contains Android TV remote protocol settings.
//
// These control the per-device session state machine: connection
// timeouts, the reconnect backoff curve, and the pending command queue.
type RemoteConfig struct {
	// CertDir is where the client certificate/key pair lives. The pair is
	// generated on first use and shared by every device session.
	CertDir string `yaml:"cert_dir"`

	// ConnectTimeout is the per-attempt connection timeout (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// Backoff controls reconnect delay growth after a lost connection.
	Backoff BackoffConfig `yaml:"backoff"`

	// RetryBudget is the consecutive reconnect failures tolerated before a
	// session enters the error state. 0 means retry forever.
	RetryBudget int `yaml:"retry_budget"`

	// ErrorRetryInterval is how often a session in the error state wakes
	// to attempt a fresh connection (seconds).
	ErrorRetryInterval int `yaml:"error_retry_interval"`

	// CommandQueueDepth bounds the pending command queue while a session
	// is connecting or reconnecting. Oldest entries are dropped first.
	CommandQueueDepth int `yaml:"command_queue_depth"`

	// LongPressDuration is how long a long-press is held (milliseconds).
	LongPressDuration int `yaml:"long_press_duration"`
}

// BackoffConfig describes an exponential backoff curve.
type BackoffConfig struct {
	// InitialDelay is the first reconnect delay (milliseconds).
	InitialDelay int `yaml:"initial_delay"`

	// MaxDelay is the backoff ceiling (seconds).
	MaxDelay int `yaml:"max_delay"`

	// Factor is the multiplier applied after each failed attempt.
	Factor float64 `yaml:"factor"`
}

// ProfilesConfig contains keycode profile settings.
type ProfilesConfig struct {
	// Dir is the directory holding profile definition files (JSON).
	// Files are loaded in lexicographic filename order.
	Dir string `yaml:"dir"`
}

// CastConfig contains Google Cast status mixer settings.
type CastConfig struct {
	Enabled bool `yaml:"enabled"`

	// PositionDebounce suppresses media position updates for this many
	// seconds after the last published position change.
	PositionDebounce int `yaml:"position_debounce"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret          string `yaml:"secret"`
	AccessTokenTTL  int    `yaml:"access_token_ttl"`
	RefreshTokenTTL int    `yaml:"refresh_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ATVBRIDGE_SECTION_KEY
// For example: ATVBRIDGE_DATABASE_PATH, ATVBRIDGE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/atvbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "atvbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8084,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Remote: RemoteConfig{
			CertDir:            "./data/certs",
			ConnectTimeout:     10,
			RetryBudget:        10,
			ErrorRetryInterval: 120,
			CommandQueueDepth:  16,
			LongPressDuration:  1000,
			Backoff: BackoffConfig{
				InitialDelay: 500,
				MaxDelay:     30,
				Factor:       1.5,
			},
		},
		Profiles: ProfilesConfig{
			Dir: "./profiles",
		},
		Cast: CastConfig{
			Enabled:          true,
			PositionDebounce: 30,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL:  15,
				RefreshTokenTTL: 1440,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ATVBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("ATVBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("ATVBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ATVBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ATVBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("ATVBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("ATVBRIDGE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Profiles
	if v := os.Getenv("ATVBRIDGE_PROFILES_DIR"); v != "" {
		cfg.Profiles.Dir = v
	}

	// Remote
	if v := os.Getenv("ATVBRIDGE_REMOTE_CERT_DIR"); v != "" {
		cfg.Remote.CertDir = v
	}

	// InfluxDB
	if v := os.Getenv("ATVBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("ATVBRIDGE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Remote validation
	if c.Remote.Backoff.Factor < 1.0 {
		errs = append(errs, "remote.backoff.factor must be >= 1.0")
	}
	if c.Remote.Backoff.InitialDelay <= 0 {
		errs = append(errs, "remote.backoff.initial_delay must be positive")
	}
	if c.Remote.CommandQueueDepth < 1 {
		errs = append(errs, "remote.command_queue_depth must be at least 1")
	}

	// Cast validation
	if c.Cast.PositionDebounce < 0 {
		errs = append(errs, "cast.position_debounce must not be negative")
	}

	// Security validation - JWT secret is REQUIRED
	// The API exposes pairing PIN entry; a forged token would let an
	// attacker complete pairing against a device on the local network.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set ATVBRIDGE_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetConnectTimeout returns the remote connect timeout as a Duration.
func (r RemoteConfig) GetConnectTimeout() time.Duration {
	return time.Duration(r.ConnectTimeout) * time.Second
}

// GetInitialDelay returns the initial backoff delay as a Duration.
func (b BackoffConfig) GetInitialDelay() time.Duration {
	return time.Duration(b.InitialDelay) * time.Millisecond
}

// GetMaxDelay returns the backoff ceiling as a Duration.
func (b BackoffConfig) GetMaxDelay() time.Duration {
	return time.Duration(b.MaxDelay) * time.Second
}
