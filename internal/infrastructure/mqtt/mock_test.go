package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const testAddress = "tcp://localhost:1883"

var errBrokerDown = errors.New("connection refused")

// mockToken is an already-completed paho token.
type mockToken struct {
	err  error
	done chan struct{}
}

func newMockToken(err error) *mockToken {
	done := make(chan struct{})
	close(done)
	return &mockToken{err: err, done: done}
}

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Done() <-chan struct{}          { return t.done }
func (t *mockToken) Error() error                   { return t.err }

// publishedMessage records a call to Publish on a mock client.
type publishedMessage struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// mockClient implements pahomqtt.Client for testing without a broker.
type mockClient struct {
	mu sync.Mutex

	opts       *pahomqtt.ClientOptions
	connectErr error
	connected  bool

	publishErr     error
	subscribeErr   error
	unsubscribeErr error

	published    []publishedMessage
	subscribed   []map[string]byte
	unsubscribed [][]string
	disconnects  int
}

func (c *mockClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *mockClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *mockClient) Connect() pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = c.connectErr == nil
	return newMockToken(c.connectErr)
}

func (c *mockClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.connected = false
}

func (c *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, _ := payload.([]byte)
	c.published = append(c.published, publishedMessage{Topic: topic, QoS: qos, Retained: retained, Payload: data})
	return newMockToken(c.publishErr)
}

func (c *mockClient) Subscribe(topic string, qos byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	return c.SubscribeMultiple(map[string]byte{topic: qos}, nil)
}

func (c *mockClient) SubscribeMultiple(filters map[string]byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, filters)
	return newMockToken(c.subscribeErr)
}

func (c *mockClient) Unsubscribe(topics ...string) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topics)
	return newMockToken(c.unsubscribeErr)
}

func (c *mockClient) AddRoute(string, pahomqtt.MessageHandler) {}

func (c *mockClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.NewOptionsReader(c.opts)
}

// drop simulates the broker closing the connection.
func (c *mockClient) drop() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *mockClient) setPublishErr(err error) {
	c.mu.Lock()
	c.publishErr = err
	c.mu.Unlock()
}

func (c *mockClient) publishCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func (c *mockClient) subscribeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribed)
}

func (c *mockClient) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// mockBroker hands out mock clients and scripts their connect results.
type mockBroker struct {
	mu sync.Mutex

	// connectErr decides the outcome of attempt n (0-based, across all handles).
	connectErr func(n int) error
	// publishErr is given to every new client.
	publishErr error

	clients []*mockClient
}

func (b *mockBroker) newClient(opts *pahomqtt.ClientOptions) pahomqtt.Client {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &mockClient{opts: opts, publishErr: b.publishErr}
	if b.connectErr != nil {
		c.connectErr = b.connectErr(len(b.clients))
	}
	b.clients = append(b.clients, c)
	return c
}

func (b *mockBroker) attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *mockBroker) client(i int) *mockClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clients[i]
}

func (b *mockBroker) last() *mockClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clients[len(b.clients)-1]
}

func alwaysFail(int) error { return errBrokerDown }

// failFirst fails the first n attempts.
func failFirst(n int) func(int) error {
	return func(i int) error {
		if i < n {
			return errBrokerDown
		}
		return nil
	}
}

// sleepRecorder replaces the wait between attempts.
type sleepRecorder struct {
	mu      sync.Mutex
	periods []time.Duration
	// hook runs during sleep n (0-based).
	hook func(n int)
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	n := len(s.periods)
	s.periods = append(s.periods, d)
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return ctx.Err()
}

func (s *sleepRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.periods)
}

// newTestManager returns a Manager wired to broker, addressed at testAddress.
func newTestManager(t *testing.T, broker *mockBroker, opts ConnectOptions) (*Manager, *sleepRecorder) {
	t.Helper()

	m, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	sleeps := &sleepRecorder{}
	m.newClient = broker.newClient
	m.sleep = sleeps.sleep
	m.SetAddress("localhost:1883")
	return m, sleeps
}

// recordingListener records every notification it receives.
type recordingListener struct {
	name string
	log  *[]string
	err  error

	mu         sync.Mutex
	causes     []error
	topics     []string
	messages   []Message
	deliveries []DeliveryToken
}

func (l *recordingListener) ConnectionLost(cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.causes = append(l.causes, cause)
	if l.log != nil {
		*l.log = append(*l.log, l.name+":lost")
	}
}

func (l *recordingListener) MessageArrived(topic string, msg Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.topics = append(l.topics, topic)
	l.messages = append(l.messages, msg)
	if l.log != nil {
		*l.log = append(*l.log, l.name+":message")
	}
	return l.err
}

func (l *recordingListener) DeliveryComplete(token DeliveryToken) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deliveries = append(l.deliveries, token)
	if l.log != nil {
		*l.log = append(*l.log, l.name+":delivery")
	}
}

func (l *recordingListener) messageCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

func (l *recordingListener) deliveryTokens() []DeliveryToken {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]DeliveryToken(nil), l.deliveries...)
}

// mockMessage implements pahomqtt.Message.
type mockMessage struct {
	topic   string
	payload []byte
	qos     byte
	acked   bool
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return m.qos }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 7 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              { m.acked = true }
