package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Home Assistant sync bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hub      HubConfig      `yaml:"hub"`
	QuIXI    QuIXIConfig    `yaml:"quixi"`
	Sync     SyncConfig     `yaml:"sync"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// HubConfig contains Home Assistant connection settings.
type HubConfig struct {
	// URL is the websocket endpoint, e.g. "ws://homeassistant.local:8123/api/websocket".
	// The REST base URL is derived from it.
	URL string `yaml:"url"`

	// Token is the long-lived access token used for both websocket auth and REST bearer auth.
	Token string `yaml:"token"`

	// RequestTimeout bounds every REST call and websocket handshake (seconds).
	RequestTimeout int `yaml:"request_timeout"`
}

// QuIXIConfig contains messaging-network settings.
type QuIXIConfig struct {
	// APIURL is the QuIXI HTTP API base, e.g. "http://localhost:8001".
	APIURL string `yaml:"api_url"`

	// Channel is the chat channel used for replies. Default: "0".
	Channel string `yaml:"channel"`

	// BridgeAddress is the QuIXI bridge wallet address.
	BridgeAddress string `yaml:"bridge_address"`

	// OurAddress is this bridge's wallet address.
	OurAddress string `yaml:"our_address"`

	// PrivateKeyFile is a PEM file holding the RSA signing key.
	// If empty, outbound messages are sent unsigned.
	PrivateKeyFile string `yaml:"private_key_file"`
}

// SyncConfig contains sync engine timing settings.
type SyncConfig struct {
	// ReconnectDelay is the fixed backoff before reconnecting to the hub (seconds).
	ReconnectDelay int `yaml:"reconnect_delay"`

	// FetchRetries is the number of retries for a full state fetch.
	FetchRetries int `yaml:"fetch_retries"`

	// FetchInitialDelay is the first retry delay for a full state fetch (seconds).
	// Each further retry doubles it.
	FetchInitialDelay int `yaml:"fetch_initial_delay"`

	// DevicesListLimit is the number of devices listed by the "devices" command.
	DevicesListLimit int `yaml:"devices_list_limit"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled      bool                `yaml:"enabled"`
	Broker       MQTTBrokerConfig    `yaml:"broker"`
	Auth         MQTTAuthConfig      `yaml:"auth"`
	QoS          int                 `yaml:"qos"`
	Reconnect    MQTTReconnectConfig `yaml:"reconnect"`
	CommandTopic string              `yaml:"command_topic"`
	// PublishState mirrors accepted hub state changes to hassbridge/state/<entity_id>.
	PublishState bool `yaml:"publish_state"`
	// HealthInterval is how often the bridge health message is published (seconds).
	HealthInterval int `yaml:"health_interval"`
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
}

// DatabaseConfig contains SQLite settings for the command audit log.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the status HTTP server settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// WebSocketConfig contains settings for the live state-change stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains settings for the status API bearer tokens.
// An empty secret leaves the status API unauthenticated.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HASSBRIDGE_SECTION_KEY
// For example: HASSBRIDGE_HUB_TOKEN, HASSBRIDGE_MQTT_HOST
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

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			URL:            "ws://localhost:8123/api/websocket",
			RequestTimeout: 10,
		},
		QuIXI: QuIXIConfig{
			APIURL:  "http://localhost:8001",
			Channel: "0",
		},
		Sync: SyncConfig{
			ReconnectDelay:    5,
			FetchRetries:      3,
			FetchInitialDelay: 1,
			DevicesListLimit:  10,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hassbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			CommandTopic:   "quixi/commands",
			HealthInterval: 30,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/hassbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// envOverrides lists the environment variables that override file values.
// Unset or empty variables leave the file value in place.
type envOverrides struct {
	HubURL        string `env:"HASSBRIDGE_HUB_URL"`
	HubToken      string `env:"HASSBRIDGE_HUB_TOKEN"`
	QuIXIAPIURL   string `env:"HASSBRIDGE_QUIXI_API_URL"`
	DatabasePath  string `env:"HASSBRIDGE_DATABASE_PATH"`
	MQTTHost      string `env:"HASSBRIDGE_MQTT_HOST"`
	MQTTUsername  string `env:"HASSBRIDGE_MQTT_USERNAME"`
	MQTTPassword  string `env:"HASSBRIDGE_MQTT_PASSWORD"`
	InfluxDBToken string `env:"HASSBRIDGE_INFLUXDB_TOKEN"`
	JWTSecret     string `env:"HASSBRIDGE_JWT_SECRET"`
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HASSBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	o, err := env.ParseAs[envOverrides]()
	if err != nil {
		return fmt.Errorf("reading environment overrides: %w", err)
	}

	setIfNotEmpty(&cfg.Hub.URL, o.HubURL)
	setIfNotEmpty(&cfg.Hub.Token, o.HubToken)
	setIfNotEmpty(&cfg.QuIXI.APIURL, o.QuIXIAPIURL)
	setIfNotEmpty(&cfg.Database.Path, o.DatabasePath)
	setIfNotEmpty(&cfg.MQTT.Broker.Host, o.MQTTHost)
	setIfNotEmpty(&cfg.MQTT.Auth.Username, o.MQTTUsername)
	setIfNotEmpty(&cfg.MQTT.Auth.Password, o.MQTTPassword)
	setIfNotEmpty(&cfg.InfluxDB.Token, o.InfluxDBToken)
	setIfNotEmpty(&cfg.Security.JWT.Secret, o.JWTSecret)
	return nil
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Hub validation
	if c.Hub.URL == "" {
		errs = append(errs, "hub.url is required")
	} else if u, err := url.Parse(c.Hub.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, "hub.url must be a ws:// or wss:// URL")
	}
	if c.Hub.Token == "" {
		errs = append(errs, "hub.token is required (set HASSBRIDGE_HUB_TOKEN environment variable)")
	}
	if c.Hub.RequestTimeout <= 0 {
		errs = append(errs, "hub.request_timeout must be positive")
	}

	// QuIXI validation
	if c.QuIXI.APIURL == "" {
		errs = append(errs, "quixi.api_url is required")
	}

	// Sync validation
	if c.Sync.ReconnectDelay <= 0 {
		errs = append(errs, "sync.reconnect_delay must be positive")
	}
	if c.Sync.FetchRetries < 0 {
		errs = append(errs, "sync.fetch_retries cannot be negative")
	}
	if c.Sync.DevicesListLimit <= 0 {
		errs = append(errs, "sync.devices_list_limit must be positive")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.CommandTopic == "" {
		errs = append(errs, "mqtt.command_topic is required when mqtt is enabled")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation: a configured secret must be strong enough to sign HS256 tokens.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetRequestTimeout returns the hub request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Hub.RequestTimeout) * time.Second
}

// GetReconnectDelay returns the hub reconnect backoff as a Duration.
func (c *Config) GetReconnectDelay() time.Duration {
	return time.Duration(c.Sync.ReconnectDelay) * time.Second
}

// GetFetchInitialDelay returns the first state-fetch retry delay as a Duration.
func (c *Config) GetFetchInitialDelay() time.Duration {
	return time.Duration(c.Sync.FetchInitialDelay) * time.Second
}

// GetHealthInterval returns the MQTT health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.MQTT.HealthInterval) * time.Second
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
