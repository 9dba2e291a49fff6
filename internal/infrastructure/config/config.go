package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default device identity values used when the config file leaves them empty.
const (
	DefaultDeviceName     = "nbe-blackstar"
	DefaultDeviceIDPrefix = "8caab44d999f-"
	DefaultDeviceModel    = "NBE BlackStar+ IOT Controller v1.0"
	DefaultFirmware       = "2022 (c) e1z0"
	DefaultManufacturer   = "NBE Blackstar+"

	// DefaultDevicePort is the UDP port NBE controllers listen on.
	DefaultDevicePort = 8483
)

// DefaultQueryGroups are the device data groups fetched on every refresh.
var DefaultQueryGroups = []string{
	"operating_data",
	"settings/boiler",
	"consumption_data/counter",
}

// Config is the root configuration structure for the NBE bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Schema   SchemaConfig   `yaml:"schema"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DeviceConfig describes the pellet-burner controller and how to reach it.
type DeviceConfig struct {
	// Serial is the controller serial number printed on the unit.
	Serial string `yaml:"serial"`

	// Name is the display name announced to Home Assistant.
	Name string `yaml:"name"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`

	// Timeout is the per-request response timeout in seconds.
	Timeout int `yaml:"timeout"`

	// QueryGroups lists the device data groups fetched on every refresh.
	QueryGroups []string `yaml:"query_groups"`

	Model        string `yaml:"model"`
	Firmware     string `yaml:"firmware"`
	Manufacturer string `yaml:"manufacturer"`
}

// String returns a representation safe for logging (password redacted).
func (d DeviceConfig) String() string {
	pw := ""
	if d.Password != "" {
		pw = "[REDACTED]"
	}
	return fmt.Sprintf("DeviceConfig{Serial:%s Host:%s Port:%d Password:%s}", d.Serial, d.Host, d.Port, pw)
}

// SchemaConfig locates the resource schema file.
type SchemaConfig struct {
	Path string `yaml:"path"`
}

// BridgeConfig contains synchronisation engine settings.
type BridgeConfig struct {
	// RefreshInterval is the device poll period in seconds.
	RefreshInterval int `yaml:"refresh_interval"`

	// HealthInterval is the health report period in seconds.
	HealthInterval int `yaml:"health_interval"`

	// CommandQueueSize bounds the inbound command queue.
	CommandQueueSize int `yaml:"command_queue_size"`

	DiscoveryPrefix string `yaml:"discovery_prefix"`
	DeviceIDPrefix  string `yaml:"device_id_prefix"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetentionDays prunes older value history at startup. Zero keeps everything.
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// APIConfig contains the status HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NBE_BRIDGE_SECTION_KEY
// For example: NBE_BRIDGE_DEVICE_PASSWORD, NBE_BRIDGE_MQTT_HOST
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
		Device: DeviceConfig{
			Name:         DefaultDeviceName,
			Port:         DefaultDevicePort,
			Timeout:      5,
			QueryGroups:  append([]string(nil), DefaultQueryGroups...),
			Model:        DefaultDeviceModel,
			Firmware:     DefaultFirmware,
			Manufacturer: DefaultManufacturer,
		},
		Schema: SchemaConfig{
			Path: "./configs/nbe_schema.csv",
		},
		Bridge: BridgeConfig{
			RefreshInterval:  30,
			HealthInterval:   60,
			CommandQueueSize: 16,
			DiscoveryPrefix:  "homeassistant",
			DeviceIDPrefix:   DefaultDeviceIDPrefix,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/nbe-bridge.db",
			WALMode:     true,
			BusyTimeout: 5,

			HistoryRetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "nbe-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8099,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NBE_BRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("NBE_BRIDGE_DEVICE_SERIAL"); v != "" {
		cfg.Device.Serial = v
	}
	if v := os.Getenv("NBE_BRIDGE_DEVICE_HOST"); v != "" {
		cfg.Device.Host = v
	}
	if v := os.Getenv("NBE_BRIDGE_DEVICE_PASSWORD"); v != "" {
		cfg.Device.Password = v
	}

	// Schema
	if v := os.Getenv("NBE_BRIDGE_SCHEMA_PATH"); v != "" {
		cfg.Schema.Path = v
	}

	// Bridge
	if v := os.Getenv("NBE_BRIDGE_REFRESH_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.RefreshInterval = n
		}
	}

	// Database
	if v := os.Getenv("NBE_BRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("NBE_BRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NBE_BRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NBE_BRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("NBE_BRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("NBE_BRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
// All problems are reported together rather than stopping at the first one.
func (c *Config) Validate() error {
	var errs []string

	// Device
	if c.Device.Serial == "" {
		errs = append(errs, "device.serial is required (set NBE_BRIDGE_DEVICE_SERIAL environment variable)")
	}
	if c.Device.Host == "" {
		errs = append(errs, "device.host is required")
	}
	if c.Device.Port < 1 || c.Device.Port > 65535 {
		errs = append(errs, "device.port must be between 1 and 65535")
	}
	if c.Device.Timeout < 1 {
		errs = append(errs, "device.timeout must be at least 1 second")
	}
	if len(c.Device.QueryGroups) == 0 {
		errs = append(errs, "device.query_groups must not be empty")
	}

	if c.Schema.Path == "" {
		errs = append(errs, "schema.path is required")
	}

	// Bridge
	if c.Bridge.RefreshInterval < 1 {
		errs = append(errs, "bridge.refresh_interval must be at least 1 second")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	if c.Bridge.CommandQueueSize < 1 {
		errs = append(errs, "bridge.command_queue_size must be at least 1")
	}
	if c.Bridge.DiscoveryPrefix == "" {
		errs = append(errs, "bridge.discovery_prefix is required")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	// MQTT
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DeviceID returns the bus-level unique id of the configured controller.
func (c *Config) DeviceID() string {
	return c.Bridge.DeviceIDPrefix + c.Device.Serial
}

// GetRefreshInterval returns the device poll period as a Duration.
func (c *Config) GetRefreshInterval() time.Duration {
	return time.Duration(c.Bridge.RefreshInterval) * time.Second
}

// GetHealthInterval returns the health report period as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetDeviceTimeout returns the per-request device timeout as a Duration.
func (c *Config) GetDeviceTimeout() time.Duration {
	return time.Duration(c.Device.Timeout) * time.Second
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
