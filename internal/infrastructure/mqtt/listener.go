package mqtt

import (
	"slices"
	"sync"
)

// Message is an inbound application message as seen by listeners.
type Message struct {
	Payload   []byte
	QoS       byte
	Retained  bool
	Duplicate bool
	MessageID uint16
}

// DeliveryToken identifies an outbound message whose delivery has completed.
// For QoS 0 completion means the packet was written; for QoS 1 and 2 it means
// the broker acknowledged it.
type DeliveryToken struct {
	MessageID uint16
	Topic     string
	QoS       byte
}

// Listener receives broker notifications fanned out by a Manager.
//
// Callbacks run synchronously on the transport's delivery goroutine, so
// implementations must not block indefinitely. Listeners are identified by
// ==, so implementations should be pointer types.
type Listener interface {
	// ConnectionLost is called when the broker connection drops unexpectedly.
	ConnectionLost(cause error)

	// MessageArrived is called for every message on a subscribed topic.
	// A returned error stops the fanout and withholds the MQTT acknowledgement.
	MessageArrived(topic string, msg Message) error

	// DeliveryComplete is called once a published message has been delivered.
	DeliveryComplete(token DeliveryToken)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
// Register it by pointer so RemoveListener can find it again.
type ListenerFuncs struct {
	OnConnectionLost   func(cause error)
	OnMessageArrived   func(topic string, msg Message) error
	OnDeliveryComplete func(token DeliveryToken)
}

// ConnectionLost implements Listener.
func (l *ListenerFuncs) ConnectionLost(cause error) {
	if l.OnConnectionLost != nil {
		l.OnConnectionLost(cause)
	}
}

// MessageArrived implements Listener.
func (l *ListenerFuncs) MessageArrived(topic string, msg Message) error {
	if l.OnMessageArrived != nil {
		return l.OnMessageArrived(topic, msg)
	}
	return nil
}

// DeliveryComplete implements Listener.
func (l *ListenerFuncs) DeliveryComplete(token DeliveryToken) {
	if l.OnDeliveryComplete != nil {
		l.OnDeliveryComplete(token)
	}
}

// Fanout is an ordered listener registry that itself implements Listener by
// forwarding every notification to each registered listener in order.
//
// Thread Safety:
//   - Listeners may be added or removed at any time, including from inside a
//     callback. A notification in progress keeps iterating the registry as it
//     was when the notification started.
type Fanout struct {
	mu sync.RWMutex
	// listeners is replaced, never edited in place, on removal; appends only
	// grow past the length of any snapshot already taken.
	listeners []Listener
}

// NewFanout creates an empty registry.
func NewFanout() *Fanout {
	return &Fanout{}
}

// AddListener appends l. Duplicates are allowed and are notified once per entry.
func (f *Fanout) AddListener(l Listener) {
	if l == nil {
		return
	}
	f.mu.Lock()
	f.listeners = append(f.listeners, l)
	f.mu.Unlock()
}

// RemoveListener removes the first entry identical to l. Absent listeners are ignored.
func (f *Fanout) RemoveListener(l Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := slices.IndexFunc(f.listeners, func(x Listener) bool { return x == l })
	if i < 0 {
		return
	}
	f.listeners = slices.Concat(f.listeners[:i], f.listeners[i+1:])
}

// ListenerCount returns the number of registered entries.
func (f *Fanout) ListenerCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.listeners)
}

// snapshot returns the registry as of now.
func (f *Fanout) snapshot() []Listener {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.listeners[:len(f.listeners):len(f.listeners)]
}

// ConnectionLost forwards cause to every listener.
func (f *Fanout) ConnectionLost(cause error) {
	for _, l := range f.snapshot() {
		l.ConnectionLost(cause)
	}
}

// MessageArrived forwards the message to every listener and stops at the
// first error, which is returned to the caller.
func (f *Fanout) MessageArrived(topic string, msg Message) error {
	for _, l := range f.snapshot() {
		if err := l.MessageArrived(topic, msg); err != nil {
			return err
		}
	}
	return nil
}

// DeliveryComplete forwards token to every listener.
func (f *Fanout) DeliveryComplete(token DeliveryToken) {
	for _, l := range f.snapshot() {
		l.DeliveryComplete(token)
	}
}
