package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultCommandTimeout bounds publish, subscribe and unsubscribe round trips.
	defaultCommandTimeout = 5 * time.Second

	// defaultConnectTimeout is the maximum time to wait for a single connect attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// defaultScheme is prepended to broker addresses that carry no scheme.
	defaultScheme = "tcp://"

	// clientIDPrefix prefixes generated client identifiers. Prefix plus
	// 12 hex characters stays within the MQTT 3.1 limit of 23 bytes.
	clientIDPrefix = "brokerlink-"
)

// knownSchemes are the URI schemes paho accepts for broker addresses.
var knownSchemes = []string{"tcp://", "ssl://", "tls://", "mqtt://", "mqtts://", "ws://", "wss://"}

// ConnectOptions configure every connection attempt a Manager makes.
// They are copied into the Manager at construction and never change afterwards.
type ConnectOptions struct {
	// ClientID identifies the client to the broker. Empty generates a fresh
	// identifier for every connection handle.
	ClientID string

	// Username and Password authenticate against the broker ACL (optional).
	Username string
	Password string

	// CleanSession starts every connection without broker-side session state.
	CleanSession bool

	// KeepAlive is the PING interval. Zero disables keep-alive.
	KeepAlive time.Duration

	// CommandTimeout bounds publish, subscribe and unsubscribe acknowledgements.
	CommandTimeout time.Duration

	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout time.Duration

	// TLS holds optional certificate material for secure schemes.
	TLS TLSOptions

	// FailOnDroppedPublish makes Publish return ErrMessageDropped instead of
	// nil when a disconnected client cannot reconnect.
	FailOnDroppedPublish bool
}

// TLSOptions locate PEM files for secure broker connections.
type TLSOptions struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
}

// DefaultConnectOptions returns clean-session options with keep-alive disabled
// and a 5 second command timeout.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		CleanSession:   true,
		KeepAlive:      0,
		CommandTimeout: defaultCommandTimeout,
		ConnectTimeout: defaultConnectTimeout,
	}
}

// OptionsFromConfig converts an endpoint section of config.yaml into ConnectOptions.
func OptionsFromConfig(cfg config.MQTTConfig) ConnectOptions {
	opts := DefaultConnectOptions()
	opts.ClientID = cfg.ClientID
	opts.Username = cfg.Auth.Username
	opts.Password = cfg.Auth.Password
	opts.CleanSession = cfg.CleanSession
	opts.KeepAlive = cfg.KeepAliveDuration()
	if d := cfg.CommandTimeoutDuration(); d > 0 {
		opts.CommandTimeout = d
	}
	if d := cfg.ConnectTimeoutDuration(); d > 0 {
		opts.ConnectTimeout = d
	}
	opts.TLS = TLSOptions{
		CAFile:             cfg.TLS.CAFile,
		CertFile:           cfg.TLS.CertFile,
		KeyFile:            cfg.TLS.KeyFile,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
	}
	opts.FailOnDroppedPublish = cfg.FailOnDroppedPublish
	return opts
}

// withDefaults fills zero timeouts so a zero-value ConnectOptions is usable.
func (o ConnectOptions) withDefaults() ConnectOptions {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = defaultCommandTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	return o
}

// NormalizeAddress prefixes tcp:// when addr does not start with a known scheme.
//
// Example:
//
//	NormalizeAddress("localhost:1883")       // "tcp://localhost:1883"
//	NormalizeAddress("ssl://broker:8883")    // unchanged
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	lower := strings.ToLower(addr)
	for _, scheme := range knownSchemes {
		if strings.HasPrefix(lower, scheme) {
			return addr
		}
	}
	return defaultScheme + addr
}

// generateClientID returns a random client identifier.
func generateClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return clientIDPrefix + id[:12]
}

// newTLSConfig builds the TLS configuration used for secure schemes.
// CA and client certificate files are optional; a client certificate needs both halves.
func newTLSConfig(opts TLSOptions) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tlsMinVersion,
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // Opt-in for development brokers
	}

	if opts.CAFile != "" {
		caCert, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading CA file: %w", ErrInvalidTLS, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("%w: no certificates found in %s", ErrInvalidTLS, opts.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if (opts.CertFile == "") != (opts.KeyFile == "") {
		return nil, fmt.Errorf("%w: cert_file and key_file must be set together", ErrInvalidTLS)
	}
	if opts.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: loading client certificate: %w", ErrInvalidTLS, err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// buildClientOptions creates paho options for one connection handle.
//
// This configures:
//   - Broker address (already scheme-normalised)
//   - Client ID (configured or freshly generated)
//   - Authentication credentials (if provided)
//   - Clean session and keep-alive
//   - TLS configuration (used by paho for secure schemes only)
//   - Manual acknowledgement and ordered delivery for the fanout
//
// paho's own reconnect logic is disabled: the Manager owns the retry policy.
func (m *Manager) buildClientOptions(address string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(address)

	clientID := m.opts.ClientID
	if clientID == "" {
		clientID = generateClientID()
	}
	opts.SetClientID(clientID)

	if m.opts.Username != "" {
		opts.SetUsername(m.opts.Username)
		opts.SetPassword(m.opts.Password)
	}

	opts.SetCleanSession(m.opts.CleanSession)
	opts.SetKeepAlive(m.opts.KeepAlive)
	opts.SetConnectTimeout(m.opts.ConnectTimeout)
	opts.SetWriteTimeout(m.opts.CommandTimeout)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	if m.tlsConfig != nil {
		opts.SetTLSConfig(m.tlsConfig)
	}

	// Handlers run on paho's router goroutine; with OrderMatters the fanout
	// is synchronous and a slow listener stalls further inbound delivery.
	opts.SetOrderMatters(true)
	opts.SetAutoAckDisabled(true)
	opts.SetDefaultPublishHandler(m.handleMessage)
	opts.SetConnectionLostHandler(m.handleConnectionLost)

	return opts
}
