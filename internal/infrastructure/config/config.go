package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// minJWTSecretLength is the shortest accepted HMAC secret.
const minJWTSecretLength = 32

// Config is the root configuration structure for BrokerLink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Source   MQTTConfig     `yaml:"source"`
	Target   MQTTConfig     `yaml:"target"`
	Relay    RelayConfig    `yaml:"relay"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Redis    RedisConfig    `yaml:"redis"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MQTTConfig describes one broker endpoint.
type MQTTConfig struct {
	// Address is the broker URI. tcp:// is assumed when no scheme is given.
	Address  string         `yaml:"address"`
	ClientID string         `yaml:"client_id"`
	Auth     MQTTAuthConfig `yaml:"auth"`
	TLS      MQTTTLSConfig  `yaml:"tls"`

	CleanSession bool `yaml:"clean_session"`
	// KeepAlive is in seconds. 0 disables keep-alive pings.
	KeepAlive int `yaml:"keep_alive"`
	// CommandTimeout is in milliseconds.
	CommandTimeout int `yaml:"command_timeout"`
	// ConnectTimeout is in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	Retry         MQTTRetryConfig      `yaml:"retry"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`

	// FailOnDroppedPublish surfaces publishes dropped while disconnected as errors.
	FailOnDroppedPublish bool `yaml:"fail_on_dropped_publish"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTTLSConfig locates PEM files for ssl:// and tls:// brokers.
type MQTTTLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// MQTTRetryConfig contains the resilient connect policy.
type MQTTRetryConfig struct {
	// Bound: 0 tries once, >0 caps attempts, <0 retries forever.
	Bound int `yaml:"bound"`
	// Period is the wait between attempts in milliseconds.
	Period int `yaml:"period"`
}

// SubscriptionConfig is one topic filter to subscribe to at startup.
type SubscriptionConfig struct {
	Topic string `yaml:"topic"`
	QoS   int    `yaml:"qos"`
}

// RelayConfig controls republishing source messages to the target broker.
type RelayConfig struct {
	Enabled     bool   `yaml:"enabled"`
	TopicPrefix string `yaml:"topic_prefix"`
	// QoS is the publish QoS on the target; -1 keeps the inbound QoS.
	QoS int `yaml:"qos"`
	// Retain keeps the inbound retained flag; false publishes everything unretained.
	Retain bool `yaml:"retain"`
}

// DatabaseConfig contains SQLite message journal settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
	// RetentionDays prunes older journal rows at startup. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
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

// RedisConfig contains last-value cache settings.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
	// TTL is in seconds. 0 keeps values until overwritten.
	TTL int `yaml:"ttl"`
}

// APIConfig contains the status API and live feed settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	TLS       TLSConfig        `yaml:"tls"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
	JWT       JWTConfig        `yaml:"jwt"`
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
}

// WebSocketConfig contains live feed settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	// PingInterval and PongTimeout are in seconds.
	PingInterval int `yaml:"ping_interval"`
	PongTimeout  int `yaml:"pong_timeout"`
}

// JWTConfig contains bearer token settings. An empty secret disables
// authentication.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	// Issuer, when set, must match the iss claim.
	Issuer string `yaml:"issuer"`
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
// Environment variables follow the pattern: BROKERLINK_SECTION_KEY
// For example: BROKERLINK_SOURCE_ADDRESS, BROKERLINK_DATABASE_PATH
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

// defaultMQTTConfig returns endpoint defaults: clean session, keep-alive
// disabled, 5s command timeout, 5 attempts 5s apart.
func defaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		CleanSession:   true,
		KeepAlive:      0,
		CommandTimeout: 5000,
		ConnectTimeout: 10,
		Retry: MQTTRetryConfig{
			Bound:  5,
			Period: 5000,
		},
	}
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Source: defaultMQTTConfig(),
		Target: defaultMQTTConfig(),
		Relay: RelayConfig{
			QoS: -1,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/brokerlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Redis: RedisConfig{
			KeyPrefix: "brokerlink:last:",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
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

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BROKERLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Source broker
	if v := os.Getenv("BROKERLINK_SOURCE_ADDRESS"); v != "" {
		cfg.Source.Address = v
	}
	if v := os.Getenv("BROKERLINK_SOURCE_USERNAME"); v != "" {
		cfg.Source.Auth.Username = v
	}
	if v := os.Getenv("BROKERLINK_SOURCE_PASSWORD"); v != "" {
		cfg.Source.Auth.Password = v
	}

	// Target broker
	if v := os.Getenv("BROKERLINK_TARGET_ADDRESS"); v != "" {
		cfg.Target.Address = v
	}
	if v := os.Getenv("BROKERLINK_TARGET_USERNAME"); v != "" {
		cfg.Target.Auth.Username = v
	}
	if v := os.Getenv("BROKERLINK_TARGET_PASSWORD"); v != "" {
		cfg.Target.Auth.Password = v
	}

	// Database
	if v := os.Getenv("BROKERLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("BROKERLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Redis
	if v := os.Getenv("BROKERLINK_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}

	// API
	if v := os.Getenv("BROKERLINK_API_JWT_SECRET"); v != "" {
		cfg.API.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.Source.validate("source")...)
	if c.Source.Address == "" {
		errs = append(errs, "source.address is required")
	}

	if c.Relay.Enabled {
		errs = append(errs, c.Target.validate("target")...)
		if c.Target.Address == "" {
			errs = append(errs, "target.address is required when relay is enabled")
		}
		if c.Relay.QoS < -1 || c.Relay.QoS > 2 {
			errs = append(errs, "relay.qos must be -1, 0, 1, or 2")
		}
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		errs = append(errs, "redis.url is required when redis is enabled")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}
	if c.Redis.TTL < 0 {
		errs = append(errs, "redis.ttl must not be negative")
	}

	if c.API.Enabled {
		if c.API.Port < 0 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 0 and 65535")
		}
		if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
			errs = append(errs, "api.tls.cert_file and api.tls.key_file are required when TLS is enabled")
		}
		if c.API.JWT.Secret != "" && len(c.API.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, fmt.Sprintf("api.jwt.secret must be at least %d characters", minJWTSecretLength))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validate checks one endpoint section; section prefixes the messages.
func (m MQTTConfig) validate(section string) []string {
	var errs []string

	if m.KeepAlive < 0 {
		errs = append(errs, section+".keep_alive must not be negative")
	}
	if m.CommandTimeout < 0 {
		errs = append(errs, section+".command_timeout must not be negative")
	}
	if m.ConnectTimeout < 0 {
		errs = append(errs, section+".connect_timeout must not be negative")
	}
	if m.Retry.Period < 0 {
		errs = append(errs, section+".retry.period must not be negative")
	}
	if (m.TLS.CertFile == "") != (m.TLS.KeyFile == "") {
		errs = append(errs, section+".tls.cert_file and key_file must be set together")
	}
	for i, sub := range m.Subscriptions {
		if sub.Topic == "" {
			errs = append(errs, fmt.Sprintf("%s.subscriptions[%d].topic is required", section, i))
		}
		if sub.QoS < 0 || sub.QoS > 2 {
			errs = append(errs, fmt.Sprintf("%s.subscriptions[%d].qos must be 0, 1, or 2", section, i))
		}
	}

	return errs
}

// KeepAliveDuration returns the keep-alive interval as a Duration.
func (m MQTTConfig) KeepAliveDuration() time.Duration {
	return time.Duration(m.KeepAlive) * time.Second
}

// CommandTimeoutDuration returns the command timeout as a Duration.
func (m MQTTConfig) CommandTimeoutDuration() time.Duration {
	return time.Duration(m.CommandTimeout) * time.Millisecond
}

// ConnectTimeoutDuration returns the per-attempt connect timeout as a Duration.
func (m MQTTConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(m.ConnectTimeout) * time.Second
}

// RetryPeriod returns the wait between connect attempts as a Duration.
func (m MQTTConfig) RetryPeriod() time.Duration {
	return time.Duration(m.Retry.Period) * time.Millisecond
}

// TTLDuration returns the cache entry lifetime as a Duration. 0 means no expiry.
func (r RedisConfig) TTLDuration() time.Duration {
	return time.Duration(r.TTL) * time.Second
}

// Retention returns how long journal rows are kept. 0 means forever.
func (d DatabaseConfig) Retention() time.Duration {
	return time.Duration(d.RetentionDays) * 24 * time.Hour
}

// SubscriptionTopics returns the configured filters and their QoS levels,
// index-aligned for mqtt.Manager.Subscribe.
func (m MQTTConfig) SubscriptionTopics() ([]string, []byte) {
	topics := make([]string, 0, len(m.Subscriptions))
	qos := make([]byte, 0, len(m.Subscriptions))
	for _, sub := range m.Subscriptions {
		topics = append(topics, sub.Topic)
		qos = append(qos, byte(sub.QoS)) //nolint:gosec // Range checked in Validate
	}
	return topics, qos
}

// Address returns the host:port the API listens on.
func (a APIConfig) Address() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}
