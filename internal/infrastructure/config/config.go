package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for ShardLink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Database   DatabaseConfig   `yaml:"database"`
	Pairing    PairingConfig    `yaml:"pairing"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DeviceConfig identifies this device to its peers.
type DeviceConfig struct {
	// GlobalID is the globally unique device identifier advertised to peers.
	// Immutable once issued; changing it orphans every pairing made with it.
	GlobalID string `yaml:"global_id"`
	Name     string `yaml:"name"`
	Platform string `yaml:"platform"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// PairingConfig contains pairing server and dialer settings.
type PairingConfig struct {
	// Host is the address the pairing server binds to.
	Host string `yaml:"host"`

	// BasePort is the first candidate port of the process-wide port pool.
	// Each bind attempt takes the next port from the pool.
	BasePort int `yaml:"base_port"`

	// BindAttempts is how many consecutive candidate ports Start tries.
	BindAttempts int `yaml:"bind_attempts"`

	// HandshakeTimeout bounds the key exchange on a single connection.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// ReadyPollInterval is how often the server checks a channel's ready flag.
	ReadyPollInterval time.Duration `yaml:"ready_poll_interval"`

	// ReadyTimeout bounds how long a peer may take to complete the greeting.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`

	// AcceptRate limits accepted connections per second (0 disables limiting).
	AcceptRate  float64 `yaml:"accept_rate"`
	AcceptBurst int     `yaml:"accept_burst"`

	// DialAttempts is how many times the provision flow retries connecting.
	DialAttempts int           `yaml:"dial_attempts"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`

	// ProvisionCooldown is how long a device is left alone after its shard
	// was delivered.
	ProvisionCooldown time.Duration `yaml:"provision_cooldown"`
}

// DiscoveryConfig contains mDNS advertisement and browsing settings.
type DiscoveryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ServiceType    string        `yaml:"service_type"`
	Domain         string        `yaml:"domain"`
	BrowseTimeout  time.Duration `yaml:"browse_timeout"`
	BrowseInterval time.Duration `yaml:"browse_interval"`
}

// AggregatorConfig enables collecting shards for one distribution on this device.
type AggregatorConfig struct {
	Enabled        bool   `yaml:"enabled"`
	DistributionID string `yaml:"distribution_id"`
	Threshold      int    `yaml:"threshold"`
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

// MetricsConfig contains the operations HTTP endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
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
// Environment variables follow the pattern: SHARDLINK_SECTION_KEY
// For example: SHARDLINK_DATABASE_PATH, SHARDLINK_DEVICE_GLOBAL_ID
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
			Name: "shardlink",
		},
		Database: DatabaseConfig{
			Path:        "./data/shardlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Pairing: PairingConfig{
			Host:              "0.0.0.0",
			BasePort:          39127,
			BindAttempts:      3,
			HandshakeTimeout:  15 * time.Second,
			ReadyPollInterval: 500 * time.Millisecond,
			ReadyTimeout:      30 * time.Second,
			AcceptRate:        20,
			AcceptBurst:       5,
			DialAttempts:      3,
			DialTimeout:       10 * time.Second,
			ProvisionCooldown: time.Minute,
		},
		Discovery: DiscoveryConfig{
			Enabled:        true,
			ServiceType:    "_shardlink._tcp",
			Domain:         "local.",
			BrowseTimeout:  5 * time.Second,
			BrowseInterval: 5 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "shardlink",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SHARDLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("SHARDLINK_DEVICE_GLOBAL_ID"); v != "" {
		cfg.Device.GlobalID = v
	}
	if v := os.Getenv("SHARDLINK_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}

	// Database
	if v := os.Getenv("SHARDLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Pairing
	if v := os.Getenv("SHARDLINK_PAIRING_BASE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Pairing.BasePort = port
		}
	}

	// Aggregator
	if v := os.Getenv("SHARDLINK_AGGREGATOR_DISTRIBUTION_ID"); v != "" {
		cfg.Aggregator.DistributionID = v
	}

	// MQTT
	if v := os.Getenv("SHARDLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SHARDLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SHARDLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("SHARDLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Device.GlobalID == "" {
		errs = append(errs, "device.global_id is required (set SHARDLINK_DEVICE_GLOBAL_ID environment variable)")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// The pool hands out BindAttempts consecutive ports starting at BasePort.
	if c.Pairing.BasePort < 1 || c.Pairing.BasePort+c.Pairing.BindAttempts-1 > 65535 {
		errs = append(errs, "pairing.base_port must leave room for bind_attempts ports below 65536")
	}
	if c.Pairing.BindAttempts < 1 {
		errs = append(errs, "pairing.bind_attempts must be at least 1")
	}
	if c.Pairing.ReadyPollInterval <= 0 {
		errs = append(errs, "pairing.ready_poll_interval must be positive")
	}
	if c.Pairing.ReadyTimeout < c.Pairing.ReadyPollInterval {
		errs = append(errs, "pairing.ready_timeout must not be shorter than ready_poll_interval")
	}
	if c.Pairing.ProvisionCooldown < 0 {
		errs = append(errs, "pairing.provision_cooldown must not be negative")
	}
	if c.Pairing.AcceptRate < 0 {
		errs = append(errs, "pairing.accept_rate must not be negative")
	}

	if c.Discovery.Enabled && c.Discovery.ServiceType == "" {
		errs = append(errs, "discovery.service_type is required when discovery is enabled")
	}

	if c.Aggregator.Enabled {
		if c.Aggregator.DistributionID == "" {
			errs = append(errs, "aggregator.distribution_id is required when the aggregator is enabled")
		}
		if c.Aggregator.Threshold < 1 {
			errs = append(errs, "aggregator.threshold must be at least 1")
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
