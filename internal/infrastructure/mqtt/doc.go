// Package mqtt provides a resilient MQTT broker connection for BrokerLink.
//
// This package manages:
//   - One logical connection per Manager, on a fresh paho handle per attempt
//   - Single-shot and fixed-interval retrying connects
//   - One reconnect-and-retry cycle when a publish hits a stale connection
//   - Batch subscriptions, restored after every reconnect
//   - Background recovery after a lost connection (Reconnector)
//   - Ordered fanout of connection-lost, message-arrived and
//     delivery-complete notifications to registered listeners
//
// # Retry Policy
//
// ConnectWithRetry(ctx, bound, period) attempts once for bound 0, at most
// bound times for bound > 0 and forever for bound < 0, waiting a fixed period
// between failed attempts. Changing the broker address during a wait aborts
// the loop; Shutdown stops it before the next attempt. The last (bound,
// period) pair is reused for reconnects triggered by Publish.
//
// # Notification Delivery
//
// Listeners run synchronously, in registration order, on paho's delivery
// goroutine. A slow listener stalls further inbound messages. When a listener
// returns an error from MessageArrived, the remaining listeners are skipped
// and the message is not acknowledged, so the broker may redeliver it.
//
// A Manager is itself a Listener (via its embedded Fanout), so one manager
// can be registered on another to chain notifications.
//
// # Security Considerations
//
//   - ssl://, tls://, mqtts:// and wss:// addresses use TLS 1.2 or newer
//   - CA and client certificates are loaded once when the Manager is created
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	m, err := mqtt.NewManager(mqtt.OptionsFromConfig(cfg.Source))
//	if err != nil {
//	    return err
//	}
//	m.SetLogger(log)
//	m.SetAddress(cfg.Source.Address)
//	m.AddListener(journal)
//
//	if err := m.ConnectWithRetry(ctx, -1, 5*time.Second); err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	err = m.Subscribe([]string{"sensors/#"}, []byte{1})
//	err = m.Publish(ctx, "sensors/hall/temperature", 1, []byte(`21.5`), false)
package mqtt
