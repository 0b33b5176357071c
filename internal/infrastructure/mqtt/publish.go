package mqtt

import (
	"context"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// outbound is a message waiting to be published.
type outbound struct {
	topic   string
	qos     byte
	payload []byte
	retain  bool
}

// Publish sends a message, recovering once from a stale connection.
//
// Parameters:
//   - ctx: Context for cancellation of waits and reconnect attempts
//   - topic: The topic to publish to (no wildcards)
//   - qos: Quality of Service level (0, 1, or 2)
//   - payload: The message payload (max 1MB)
//   - retain: Whether the broker should retain the message for new subscribers
//
// Behaviour:
//   - Connected: publish. If that fails, the connection is treated as stale:
//     disconnect, reconnect with the last-used RetryConfig, and publish once
//     more. A failed reconnect or second publish is returned.
//   - Not connected: disconnect defensively, reconnect with the last-used
//     RetryConfig and publish once. If reconnecting fails the message is
//     dropped with a warning and nil is returned, unless
//     ConnectOptions.FailOnDroppedPublish is set (then ErrMessageDropped).
//
// Each successful publish is reported to listeners via DeliveryComplete.
func (m *Manager) Publish(ctx context.Context, topic string, qos byte, payload []byte, retain bool) error {
	if err := validatePublishTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	msg := outbound{topic: topic, qos: qos, payload: payload, retain: retain}
	log := m.log()

	client := m.handle()
	if client != nil && client.IsConnected() {
		err := m.publishOnce(ctx, client, msg)
		if err == nil {
			return nil
		}
		log.Warn("MQTT publish failed on live connection, reconnecting",
			"topic", topic,
			"error", err,
		)
		if rerr := m.reconnect(ctx, client); rerr != nil {
			return fmt.Errorf("%w: %w", ErrPublishFailed, rerr)
		}
		return m.publishOnce(ctx, m.handle(), msg)
	}

	if err := m.reconnect(ctx, client); err != nil {
		log.Warn("MQTT message dropped, unable to reconnect",
			"topic", topic,
			"address", m.Address(),
			"error", err,
		)
		if m.opts.FailOnDroppedPublish {
			return fmt.Errorf("%w: %w", ErrMessageDropped, err)
		}
		return nil
	}
	return m.publishOnce(ctx, m.handle(), msg)
}

// PublishString is a convenience method that publishes a string payload.
func (m *Manager) PublishString(ctx context.Context, topic string, qos byte, payload string, retain bool) error {
	return m.Publish(ctx, topic, qos, []byte(payload), retain)
}

// reconnect replaces stale with a fresh connection using the last-used
// RetryConfig. If another goroutine already replaced stale with a live
// handle, that handle is kept.
func (m *Manager) reconnect(ctx context.Context, stale pahomqtt.Client) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if current := m.handle(); current != nil && current != stale && current.IsConnected() {
		return nil
	}

	// There may be nothing to disconnect.
	_ = m.disconnectLocked() //nolint:errcheck // ErrNotConnected is expected here

	retry := m.RetryConfig()
	return m.connectWithRetryLocked(ctx, retry.Bound, retry.Period)
}

// publishOnce performs a single publish on client and waits for completion.
func (m *Manager) publishOnce(ctx context.Context, client pahomqtt.Client, msg outbound) error {
	if client == nil {
		return ErrNotConnected
	}

	token := client.Publish(msg.topic, msg.qos, msg.retain, msg.payload)
	if err := m.waitToken(ctx, token, m.opts.CommandTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	var id uint16
	if pt, ok := token.(*pahomqtt.PublishToken); ok {
		id = pt.MessageID()
	}
	m.log().Debug("MQTT message published", "topic", msg.topic, "qos", msg.qos, "message_id", id)

	m.Fanout.DeliveryComplete(DeliveryToken{
		MessageID: id,
		Topic:     msg.topic,
		QoS:       msg.qos,
	})
	return nil
}
