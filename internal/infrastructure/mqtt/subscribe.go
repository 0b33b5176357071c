package mqtt

import (
	"fmt"
	"maps"
	"slices"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe issues one subscribe request for a batch of topic filters.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "sensors/+/temperature"
//   - # (multi-level): "sensors/#"
//
// Messages on every filter are delivered to the registered listeners.
// Subscribe does not reconnect or retry: it needs an established connection
// and returns any failure directly. Successful filters are re-subscribed
// automatically after every reconnect.
//
// Parameters:
//   - topics: Topic filters to subscribe to
//   - qos: Maximum QoS per filter, index-aligned with topics
//
// Returns:
//   - error: ErrSubscriptionMismatch when the slices differ in length (no
//     request is issued), or a wrapped failure
func (m *Manager) Subscribe(topics []string, qos []byte) error {
	if len(topics) != len(qos) {
		return fmt.Errorf("%w: %d topics, %d qos levels", ErrSubscriptionMismatch, len(topics), len(qos))
	}
	filters := make(map[string]byte, len(topics))
	for i, topic := range topics {
		if err := validateFilter(topic); err != nil {
			return err
		}
		if qos[i] > maxQoS {
			return ErrInvalidQoS
		}
		filters[topic] = qos[i]
	}
	if len(filters) == 0 {
		return nil
	}

	client := m.handle()
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	for i, topic := range topics {
		m.log().Info("MQTT subscribing", "topic", topic, "qos", qos[i])
	}

	// A nil callback routes messages to the default handler, i.e. the fanout.
	token := client.SubscribeMultiple(filters, nil)
	if !token.WaitTimeout(m.opts.CommandTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, m.opts.CommandTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	m.subMu.Lock()
	maps.Copy(m.subscriptions, filters)
	m.subMu.Unlock()

	return nil
}

// Unsubscribe removes subscriptions and stops restoring them on reconnect.
// A filter stays tracked when the broker does not confirm its removal.
//
// Any messages in flight may still be delivered.
func (m *Manager) Unsubscribe(topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	for _, topic := range topics {
		if err := validateFilter(topic); err != nil {
			return err
		}
	}

	client := m.handle()
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	token := client.Unsubscribe(topics...)
	if !token.WaitTimeout(m.opts.CommandTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, m.opts.CommandTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	// Only confirmed removals stop being restored on reconnect.
	m.subMu.Lock()
	for _, topic := range topics {
		delete(m.subscriptions, topic)
	}
	m.subMu.Unlock()

	return nil
}

// SubscriptionCount returns the number of tracked subscriptions.
func (m *Manager) SubscriptionCount() int {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	return len(m.subscriptions)
}

// HasSubscription checks if a subscription exists for the given filter.
//
// Note: This checks only the exact filter string, not pattern matching.
func (m *Manager) HasSubscription(topic string) bool {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	_, exists := m.subscriptions[topic]
	return exists
}

// Subscriptions returns the tracked filters in sorted order.
func (m *Manager) Subscriptions() []string {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	return slices.Sorted(maps.Keys(m.subscriptions))
}

// restoreSubscriptions re-subscribes all tracked filters on a new handle.
// Failures are logged; the connection itself is still usable.
func (m *Manager) restoreSubscriptions(client pahomqtt.Client) {
	m.subMu.RLock()
	filters := maps.Clone(m.subscriptions)
	m.subMu.RUnlock()

	if len(filters) == 0 {
		return
	}

	token := client.SubscribeMultiple(filters, nil)
	if !token.WaitTimeout(m.opts.CommandTimeout) {
		m.log().Warn("MQTT subscription restore timed out", "filters", len(filters))
		return
	}
	if err := token.Error(); err != nil {
		m.log().Warn("MQTT subscription restore failed", "filters", len(filters), "error", err)
		return
	}
	m.log().Info("MQTT subscriptions restored", "filters", len(filters))
}
