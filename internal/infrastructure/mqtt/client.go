package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Manager owns a single logical connection to an MQTT broker.
//
// It provides single-shot and retrying connects, one reconnect-and-retry
// cycle on publish failures, batch subscriptions, and ordered fanout of
// inbound notifications to registered listeners. The embedded Fanout makes a
// Manager itself a Listener, so managers can be chained.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Connect, ConnectWithRetry and Disconnect are serialised; only one
//     connection state transition is in flight at a time.
//   - SetAddress and Shutdown never wait for a transition, so they can steer
//     a retry loop that is already running.
type Manager struct {
	*Fanout

	opts      ConnectOptions
	tlsConfig *tls.Config

	// newClient creates a connection handle; replaced in tests.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client
	// sleep waits between failed attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	// stateMu serialises connection state transitions.
	stateMu sync.Mutex

	// mu guards the handle, address and last-used retry config.
	mu      sync.RWMutex
	client  pahomqtt.Client
	address string
	retry   RetryConfig

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]byte
	subMu         sync.RWMutex

	shutdown     atomic.Bool
	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	onAttempt  func(AttemptEvent)
	callbackMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// discardLogger is used until SetLogger is called.
var discardLogger Logger = slog.New(slog.DiscardHandler)

// AttemptEvent describes one connection attempt.
type AttemptEvent struct {
	Address  string
	Attempt  int
	Duration time.Duration
	Err      error
}

// NewManager creates a disconnected Manager.
//
// The options are copied and stay fixed for the Manager's lifetime. TLS files
// named in opts are loaded here so a bad path fails fast.
//
// Example:
//
//	m, err := mqtt.NewManager(mqtt.DefaultConnectOptions())
//	if err != nil {
//	    return err
//	}
//	m.SetAddress("localhost:1883")
//	err = m.ConnectWithRetry(ctx, -1, 5*time.Second)
func NewManager(opts ConnectOptions) (*Manager, error) {
	tlsConfig, err := newTLSConfig(opts.TLS)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		Fanout:        NewFanout(),
		opts:          opts.withDefaults(),
		tlsConfig:     tlsConfig,
		newClient:     pahomqtt.NewClient,
		retry:         DefaultRetryConfig(),
		subscriptions: make(map[string]byte),
		shutdownCh:    make(chan struct{}),
	}
	m.sleep = m.interruptibleSleep
	return m, nil
}

// SetAddress stores the broker address, prefixing tcp:// when no scheme is
// given. A live connection is left untouched; a running retry loop notices
// the change after its current wait and stops.
func (m *Manager) SetAddress(addr string) {
	addr = NormalizeAddress(addr)
	m.log().Debug("MQTT broker address set", "address", addr)

	m.mu.Lock()
	m.address = addr
	m.mu.Unlock()
}

// Address returns the current broker address.
func (m *Manager) Address() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.address
}

// RetryConfig returns the retry settings of the last ConnectWithRetry call,
// which publish-triggered reconnects reuse.
func (m *Manager) RetryConfig() RetryConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retry
}

// Connect makes exactly one connection attempt to the current address.
//
// It is the fail-fast entry point for setups without a retry strategy: any
// failure is returned wrapped in ErrConnectionFailed and no retry happens.
func (m *Manager) Connect(ctx context.Context) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	address := m.Address()
	if address == "" {
		return ErrNoAddress
	}

	m.discardLiveHandle()

	if err := m.attempt(ctx, address, 0); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, address, err)
	}
	return nil
}

// ConnectWithRetry connects under a fixed-interval retry policy.
//
// It records (bound, period) as the retry config for later implicit
// reconnects, then attempts connections to the address current at call time:
//  1. Each attempt uses a fresh connection handle
//  2. On success the handle is installed and subscriptions are restored
//  3. On failure the loop waits period, unless that was the last attempt
//  4. If the address changed during the wait, the loop stops
//  5. Shutdown stops the loop before the next attempt
//
// Returns:
//   - error: nil once connected, otherwise wraps ErrRetriesExhausted and names
//     the address the loop was targeting
func (m *Manager) ConnectWithRetry(ctx context.Context, bound int, period time.Duration) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.connectWithRetryLocked(ctx, bound, period)
}

// reconnectIfDown runs a retry loop unless the manager is already connected,
// for instance because a publish reconnected first. It reports whether a
// new connection was made.
func (m *Manager) reconnectIfDown(ctx context.Context, bound int, period time.Duration) (bool, error) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.IsConnected() {
		return false, nil
	}
	if err := m.connectWithRetryLocked(ctx, bound, period); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) connectWithRetryLocked(ctx context.Context, bound int, period time.Duration) error {
	m.mu.Lock()
	m.retry = RetryConfig{Bound: bound, Period: period}
	target := m.address
	m.mu.Unlock()

	if target == "" {
		return ErrNoAddress
	}

	log := m.log()
	log.Info("MQTT connecting", "address", target, "retry_bound", bound, "retry_period", period)

	m.discardLiveHandle()

	var cause error
	attempts := 0
	for attempt := 0; ShouldAttempt(attempt, bound) && !m.shutdown.Load(); attempt++ {
		attempts++
		err := m.attempt(ctx, target, attempt)
		if err == nil {
			return nil
		}
		log.Warn("MQTT connect attempt failed", "address", target, "attempt", attempt, "error", err)

		if ctx.Err() != nil {
			cause = ctx.Err()
			break
		}
		if !ShouldAttempt(attempt+1, bound) {
			break
		}
		if err := m.sleep(ctx, period); err != nil {
			cause = err
			break
		}
		if current := m.Address(); current != target {
			log.Info("MQTT broker address changed, abandoning retry",
				"address", target,
				"new_address", current,
			)
			break
		}
	}

	if cause == nil && m.shutdown.Load() {
		cause = ErrShutdown
	}
	if cause != nil {
		return fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, target, attempts, cause)
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrRetriesExhausted, target, attempts)
}

// attempt creates a fresh handle, connects it once and installs it on success.
// Callers hold stateMu.
func (m *Manager) attempt(ctx context.Context, address string, index int) error {
	m.log().Debug("MQTT connect attempt", "address", address, "attempt", index)

	start := time.Now()
	client := m.newClient(m.buildClientOptions(address))
	err := m.waitToken(ctx, client.Connect(), m.opts.ConnectTimeout)
	if err == nil && !client.IsConnected() {
		err = ErrNotConnected
	}
	m.notifyAttempt(AttemptEvent{
		Address:  address,
		Attempt:  index,
		Duration: time.Since(start),
		Err:      err,
	})
	if err != nil {
		// Stop any connect still running in the background.
		client.Disconnect(0)
		return err
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	m.log().Info("MQTT connected", "address", address, "attempt", index)
	m.restoreSubscriptions(client)
	return nil
}

// discardLiveHandle drops the current handle, disconnecting it if still
// connected, so at most one live handle exists. Callers hold stateMu.
func (m *Manager) discardLiveHandle() {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(defaultDisconnectQuiesce)
	}
}

// Disconnect tears down the live handle.
//
// Returns:
//   - error: ErrNotConnected when there is no handle; callers disconnecting
//     defensively should ignore it
func (m *Manager) Disconnect() error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.disconnectLocked()
}

func (m *Manager) disconnectLocked() error {
	m.mu.Lock()
	client := m.client
	m.client = nil
	address := m.address
	m.mu.Unlock()

	if client == nil {
		return ErrNotConnected
	}

	m.log().Info("MQTT disconnecting", "address", address)
	client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// IsConnected reports whether a live handle exists and reports connected.
func (m *Manager) IsConnected() bool {
	client := m.handle()
	return client != nil && client.IsConnected()
}

// Shutdown stops any current or future retry loop from starting another
// attempt. An attempt already in flight runs to completion; a wait between
// attempts is cut short. Shutdown is permanent.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.log().Debug("MQTT manager shutting down", "address", m.Address())
		m.shutdown.Store(true)
		close(m.shutdownCh)
	})
}

// IsShutdown reports whether Shutdown has been called.
func (m *Manager) IsShutdown() bool {
	return m.shutdown.Load()
}

// Close shuts the manager down and disconnects. It is safe to call on a
// manager that never connected.
func (m *Manager) Close() error {
	m.Shutdown()
	if err := m.Disconnect(); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// HealthCheck verifies the MQTT connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (m *Manager) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !m.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// SetOnAttempt sets a callback invoked after every connection attempt.
func (m *Manager) SetOnAttempt(callback func(AttemptEvent)) {
	m.callbackMu.Lock()
	m.onAttempt = callback
	m.callbackMu.Unlock()
}

func (m *Manager) notifyAttempt(ev AttemptEvent) {
	m.callbackMu.RLock()
	callback := m.onAttempt
	m.callbackMu.RUnlock()
	if callback != nil {
		callback(ev)
	}
}

// SetLogger sets the logger. If not set, log output is discarded.
func (m *Manager) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

// log returns the current logger, never nil.
func (m *Manager) log() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	if m.logger == nil {
		return discardLogger
	}
	return m.logger
}

// handle returns the current connection handle (may be nil).
func (m *Manager) handle() pahomqtt.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// interruptibleSleep waits d, returning early on shutdown (nil) or context
// cancellation (the context error).
func (m *Manager) interruptibleSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-m.shutdownCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitToken waits for a paho token, the context, or the timeout.
func (m *Manager) waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: after %v", ErrTimeout, timeout)
	}
}

// handleConnectionLost is paho's connection-lost callback.
func (m *Manager) handleConnectionLost(client pahomqtt.Client, cause error) {
	if client != m.handle() {
		// A handle already replaced or discarded; its loss is not ours to report.
		return
	}
	m.log().Warn("MQTT connection lost", "address", m.Address(), "error", cause)
	m.Fanout.ConnectionLost(cause)
}

// handleMessage is paho's default publish handler for all subscriptions.
//
// The message is acknowledged only when every listener accepted it; a
// listener error or panic leaves it unacknowledged.
func (m *Manager) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	topic := msg.Topic()
	log := m.log()

	defer func() {
		if r := recover(); r != nil {
			log.Error("MQTT listener panic recovered",
				"topic", topic,
				"panic", r,
			)
		}
	}()

	log.Debug("MQTT message arrived", "topic", topic, "qos", msg.Qos(), "bytes", len(msg.Payload()))

	err := m.Fanout.MessageArrived(topic, Message{
		Payload:   msg.Payload(),
		QoS:       msg.Qos(),
		Retained:  msg.Retained(),
		Duplicate: msg.Duplicate(),
		MessageID: msg.MessageID(),
	})
	if err != nil {
		log.Warn("MQTT listener rejected message",
			"topic", topic,
			"error", err,
		)
		return
	}
	msg.Ack()
}
