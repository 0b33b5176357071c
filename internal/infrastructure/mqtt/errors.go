package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when an operation needs a live connection and none exists.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrNoAddress is returned when connecting before a broker address was set.
	ErrNoAddress = errors.New("mqtt: broker address not set")

	// ErrConnectionFailed is returned when a single connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrRetriesExhausted is returned when the resilient connect loop ends
	// without a live connection. The wrapping message names the broker address.
	ErrRetriesExhausted = errors.New("mqtt: unable to connect to server")

	// ErrShutdown is joined into ErrRetriesExhausted when Shutdown stopped the loop.
	ErrShutdown = errors.New("mqtt: manager shut down")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrMessageDropped is returned by Publish, when enabled via
	// ConnectOptions.FailOnDroppedPublish, if the client was disconnected and
	// could not reconnect.
	ErrMessageDropped = errors.New("mqtt: publish failed: unable to reconnect")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrSubscriptionMismatch is returned when topics and QoS levels differ in length.
	ErrSubscriptionMismatch = errors.New("mqtt: topics and qos levels must have the same length")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or malformed topic is provided.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrInvalidTLS is returned when TLS material cannot be loaded.
	ErrInvalidTLS = errors.New("mqtt: invalid TLS configuration")
)
