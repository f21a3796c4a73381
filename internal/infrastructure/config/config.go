package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when PERIPHCTL_CONFIG is not set.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for periphctl.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	History   HistoryConfig   `yaml:"history"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Hardware  HardwareConfig  `yaml:"hardware"`
}

// DeviceConfig identifies this controller.
type DeviceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// APITimeoutConfig contains HTTP timeout settings in seconds.
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
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

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HistoryConfig controls the persisted command log.
type HistoryConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
	Buffer        int  `yaml:"buffer"`
}

// Retention returns how long entries are kept. Zero keeps them forever.
func (h HistoryConfig) Retention() time.Duration {
	return time.Duration(h.RetentionDays) * 24 * time.Hour
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig holds the shared command secret and network credentials.
// Both are seed values: once the settings store exists the persisted copy wins.
type SecurityConfig struct {
	APIKey string     `yaml:"api_key"`
	WiFi   WiFiConfig `yaml:"wifi"`
}

// WiFiConfig contains station credentials.
type WiFiConfig struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
}

// HardwareConfig selects the HAL backend and lists the modules to boot.
type HardwareConfig struct {
	// Backend is "periph" (real hardware) or "sim".
	Backend string `yaml:"backend"`

	// ByteEncoding is how byte parameters are written on the wire: "csv" or "base64".
	ByteEncoding string `yaml:"byte_encoding"`

	SampleIntervalMs      int  `yaml:"sample_interval_ms"`
	CommandTimeoutMs      int  `yaml:"command_timeout_ms"`
	SilentUnknownCommands bool `yaml:"silent_unknown_commands"`

	// IIODevice is the sysfs directory of the ADC used by the periph backend.
	IIODevice string `yaml:"iio_device"`

	// Modules are registered and initialised in this order.
	Modules []ModuleConfig `yaml:"modules"`
}

// ModuleConfig binds one peripheral module to a registry name.
type ModuleConfig struct {
	Name string     `yaml:"name"`
	Type string     `yaml:"type"`
	Init InitParams `yaml:"init"`
}

// InitParam is one init parameter as written in the config file.
type InitParam struct {
	Key   string
	Value string
}

// InitParams keeps init parameters in file order. Scalar values of any YAML
// type are kept as their literal text.
type InitParams []InitParam

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *InitParams) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		*p = nil
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: init must be a mapping", n.Line)
	}
	out := make(InitParams, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: init value %q must be a scalar", v.Line, k.Value)
		}
		out = append(out, InitParam{Key: k.Value, Value: v.Value})
	}
	*p = out
	return nil
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PERIPHCTL_SECTION_KEY
// For example: PERIPHCTL_DATABASE_PATH, PERIPHCTL_API_PORT
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

// Path returns the config file location: PERIPHCTL_CONFIG or DefaultPath.
func Path() string {
	if v := os.Getenv("PERIPHCTL_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// defaultModules is the boot set used when the config lists none.
func defaultModules() []ModuleConfig {
	return []ModuleConfig{
		{Name: "analog", Type: "analog"},
		{Name: "gpio", Type: "gpio"},
		{Name: "i2c", Type: "i2c"},
		{Name: "i2s", Type: "i2s"},
		{Name: "spi", Type: "spi"},
	}
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:   "periphctl-001",
			Name: "periphctl",
		},
		Database: DatabaseConfig{
			Path:        "./data/periphctl.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "periphctl",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "periphctl",
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "periphctl",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
			Buffer:        256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Hardware: HardwareConfig{
			Backend:          "periph",
			ByteEncoding:     "csv",
			SampleIntervalMs: 1,
			CommandTimeoutMs: 5000,
			IIODevice:        "/sys/bus/iio/devices/iio:device0",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PERIPHCTL_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		env string
		dst *string
	}{
		{"PERIPHCTL_DEVICE_ID", &cfg.Device.ID},
		{"PERIPHCTL_DATABASE_PATH", &cfg.Database.Path},
		{"PERIPHCTL_API_HOST", &cfg.API.Host},
		{"PERIPHCTL_MQTT_HOST", &cfg.MQTT.Broker.Host},
		{"PERIPHCTL_MQTT_USERNAME", &cfg.MQTT.Auth.Username},
		{"PERIPHCTL_MQTT_PASSWORD", &cfg.MQTT.Auth.Password},
		{"PERIPHCTL_INFLUXDB_URL", &cfg.InfluxDB.URL},
		{"PERIPHCTL_INFLUXDB_TOKEN", &cfg.InfluxDB.Token},
		{"PERIPHCTL_LOGGING_LEVEL", &cfg.Logging.Level},
		{"PERIPHCTL_API_KEY", &cfg.Security.APIKey},
		{"PERIPHCTL_WIFI_SSID", &cfg.Security.WiFi.SSID},
		{"PERIPHCTL_WIFI_PASSWORD", &cfg.Security.WiFi.Password},
		{"PERIPHCTL_HARDWARE_BACKEND", &cfg.Hardware.Backend},
	}
	for _, s := range strs {
		if v := os.Getenv(s.env); v != "" {
			*s.dst = v
		}
	}

	if v := os.Getenv("PERIPHCTL_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PERIPHCTL_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}
	if v := os.Getenv("PERIPHCTL_MQTT_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PERIPHCTL_MQTT_ENABLED: %w", err)
		}
		cfg.MQTT.Enabled = enabled
	}
	return nil
}

var (
	validBackends     = map[string]bool{"periph": true, "sim": true}
	validEncodings    = map[string]bool{"csv": true, "base64": true}
	validModuleTypes  = map[string]bool{"gpio": true, "analog": true, "i2c": true, "spi": true, "i2s": true}
	validLogLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats   = map[string]bool{"json": true, "text": true}
	maxAPIKeyLength   = 128
	maxCommandTimeout = 10 * time.Minute
)

// Validate checks the configuration for errors. Every problem is reported,
// not only the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && strings.Trim(c.MQTT.TopicPrefix, "/") == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}
	if c.History.RetentionDays < 0 || c.History.Buffer < 0 {
		errs = append(errs, "history.retention_days and history.buffer must not be negative")
	}
	if !validLogLevels[c.Logging.Level] {
		errs = append(errs, "logging.level must be debug, info, warn, or error")
	}
	if !validLogFormats[c.Logging.Format] {
		errs = append(errs, "logging.format must be json or text")
	}

	// Any key is accepted, even a single character: batches compare it by
	// exact equality. An empty key makes the dispatcher reject every batch
	// until one is configured.
	if len(c.Security.APIKey) > maxAPIKeyLength {
		errs = append(errs, fmt.Sprintf("security.api_key must be at most %d bytes", maxAPIKeyLength))
	}

	h := c.Hardware
	if !validBackends[h.Backend] {
		errs = append(errs, "hardware.backend must be periph or sim")
	}
	if !validEncodings[h.ByteEncoding] {
		errs = append(errs, "hardware.byte_encoding must be csv or base64")
	}
	if h.SampleIntervalMs < 0 {
		errs = append(errs, "hardware.sample_interval_ms must not be negative")
	}
	if h.CommandTimeoutMs < 0 || time.Duration(h.CommandTimeoutMs)*time.Millisecond > maxCommandTimeout {
		errs = append(errs, "hardware.command_timeout_ms must be between 0 and 600000")
	}
	for i, m := range h.Modules {
		if m.Name == "" {
			errs = append(errs, fmt.Sprintf("hardware.modules[%d].name is required", i))
		}
		if !validModuleTypes[m.Type] {
			errs = append(errs, fmt.Sprintf("hardware.modules[%d].type %q is not a known module type", i, m.Type))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BootModules returns the configured module list, or the default set of one
// module per type when none is configured.
func (c *Config) BootModules() []ModuleConfig {
	if len(c.Hardware.Modules) == 0 {
		return defaultModules()
	}
	return c.Hardware.Modules
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

// SampleInterval returns the pause between consecutive hardware samples.
func (h HardwareConfig) SampleInterval() time.Duration {
	return time.Duration(h.SampleIntervalMs) * time.Millisecond
}

// CommandTimeout returns the per-command deadline. Zero disables it.
func (h HardwareConfig) CommandTimeout() time.Duration {
	return time.Duration(h.CommandTimeoutMs) * time.Millisecond
}
