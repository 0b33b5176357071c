package mqtt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

var errStale = errors.New("broken pipe")

func TestPublish_Connected(t *testing.T) {
	broker := &mockBroker{}
	m, _ := newTestManager(t, broker, DefaultConnectOptions())
	l := &recordingListener{}
	m.AddListener(l)

	if err := m.ConnectWithRetry(context.Background(), 0, 0); err != nil {
		t.Fatalf("ConnectWithRetry() error = %v", err)
	}

	if err := m.PublishString(context.Background(), "lights/hall", 1, "on", true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	client := broker.client(0)
	if got := client.publishCount(); got != 1 {
		t.Fatalf("publishes = %d, want 1", got)
	}
	pub := client.published[0]
	if pub.Topic != "lights/hall" || pub.QoS != 1 || !pub.Retained || string(pub.Payload) != "on" {
		t.Errorf("published = %+v", pub)
	}

	tokens := l.deliveryTokens()
	if len(tokens) != 1 {
		t.Fatalf("delivery notifications = %d, want 1", len(tokens))
	}
	if tokens[0].Topic != "lights/hall" || tokens[0].QoS != 1 {
		t.Errorf("delivery token = %+v", tokens[0])
	}
}

func TestPublish_StaleConnectionRecovers(t *testing.T) {
	broker := &mockBroker{}
	m, _ := newTestManager(t, broker, DefaultConnectOptions())
	l := &recordingListener{}
	m.AddListener(l)

	if err := m.ConnectWithRetry(context.Background(), 2, time.Millisecond); err != nil {
		t.Fatalf("ConnectWithRetry() error = %v", err)
	}
	stale := broker.client(0)
	stale.setPublishErr(errStale)

	if err := m.Publish(context.Background(), "t", 0, []byte("x"), false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if got := broker.attempts(); got != 2 {
		t.Errorf("connect attempts = %d, want 2", got)
	}
	if got := stale.disconnectCount(); got != 1 {
		t.Errorf("stale handle disconnects = %d, want 1", got)
	}
	if got := stale.publishCount(); got != 1 {
		t.Errorf("stale handle publishes = %d, want 1", got)
	}
	if got := broker.client(1).publishCount(); got != 1 {
		t.Errorf("fresh handle publishes = %d, want 1", got)
	}
	if got := len(l.deliveryTokens()); got != 1 {
		t.Errorf("delivery notifications = %d, want 1", got)
	}
}

func TestPublish_SecondFailureSurfaced(t *testing.T) {
	broker := &mockBroker{publishErr: errStale}
	m, _ := newTestManager(t, broker, DefaultConnectOptions())
	l := &recordingListener{}
	m.AddListener(l)

	if err := m.ConnectWithRetry(context.Background(), 0, 0); err != nil {
		t.Fatalf("ConnectWithRetry() error = %v", err)
	}

	err := m.Publish(context.Background(), "t", 1, []byte("x"), false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("Publish() error = %v, want ErrPublishFailed", err)
	}

	// Exactly one reconnect-and-retry cycle.
	if got := broker.attempts(); got != 2 {
		t.Errorf("connect attempts = %d, want 2", got)
	}
	if got := broker.client(0).publishCount() + broker.client(1).publishCount(); got != 2 {
		t.Errorf("publishes = %d, want 2", got)
	}
	if got := len(l.deliveryTokens()); got != 0 {
		t.Errorf("delivery notifications = %d, want 0", got)
	}
}

func TestPublish_ReconnectFailureSurfacedWhenConnected(t *testing.T) {
	broker := &mockBroker{}
	m, _ := newTestManager(t, broker, DefaultConnectOptions())

	if err := m.ConnectWithRetry(context.Background(), 1, 0); err != nil {
		t.Fatalf("ConnectWithRetry() error = %v", err)
	}
	broker.client(0).setPublishErr(errStale)
	broker.mu.Lock()
	broker.connectErr = alwaysFail
	broker.mu.Unlock()

	err := m.Publish(context.Background(), "t", 1, []byte("x"), false)
	if !errors.Is(err, ErrPublishFailed) || !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed wrapping ErrRetriesExhausted", err)
	}
}

func TestPublish_DisconnectedDropsMessage(t *testing.T) {
	broker := &mockBroker{connectErr: alwaysFail}
	m, sleeps := newTestManager(t, broker, DefaultConnectOptions())
	l := &recordingListener{}
	m.AddListener(l)

	if err := m.Publish(context.Background(), "t", 1, []byte("x"), false); err != nil {
		t.Fatalf("Publish() error = %v, want nil (message dropped)", err)
	}

	// Implicit reconnects use the default retry config until one is recorded.
	if got := broker.attempts(); got != DefaultRetryBound {
		t.Errorf("connect attempts = %d, want %d", got, DefaultRetryBound)
	}
	if got := sleeps.count(); got != DefaultRetryBound-1 {
		t.Errorf("sleeps = %d, want %d", got, DefaultRetryBound-1)
	}
	for i := range broker.attempts() {
		if got := broker.client(i).publishCount(); got != 0 {
			t.Errorf("client[%d] publishes = %d, want 0", i, got)
		}
	}
	if got := len(l.deliveryTokens()); got != 0 {
		t.Errorf("delivery notifications = %d, want 0", got)
	}
}

func TestPublish_DisconnectedStrictMode(t *testing.T) {
	broker := &mockBroker{connectErr: alwaysFail}
	opts := DefaultConnectOptions()
	opts.FailOnDroppedPublish = true
	m, _ := newTestManager(t, broker, opts)

	err := m.Publish(context.Background(), "t", 1, []byte("x"), false)
	if !errors.Is(err, ErrMessageDropped) {
		t.Fatalf("Publish() error = %v, want ErrMessageDropped", err)
	}
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("Publish() error = %v, want it to wrap ErrRetriesExhausted", err)
	}
	if !strings.Contains(err.Error(), testAddress) {
		t.Errorf("Publish() error = %v, want it to name %s", err, testAddress)
	}
}

func TestPublish_DisconnectedReconnects(t *testing.T) {
	broker := &mockBroker{}
	m, _ := newTestManager(t, broker, DefaultConnectOptions())

	if err := m.ConnectWithRetry(context.Background(), 0, 0); err != nil {
		t.Fatalf("ConnectWithRetry() error = %v", err)
	}
	dropped := broker.client(0)
	dropped.drop()

	if err := m.Publish(context.Background(), "t", 2, []byte("x"), false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if got := broker.attempts(); got != 2 {
		t.Errorf("connect attempts = %d, want 2", got)
	}
	if got := dropped.publishCount(); got != 0 {
		t.Errorf("dropped handle publishes = %d, want 0", got)
	}
	if got := broker.client(1).publishCount(); got != 1 {
		t.Errorf("fresh handle publishes = %d, want 1", got)
	}
	if !m.IsConnected() {
		t.Error("IsConnected() = false after recovery")
	}
}

func TestPublish_Validation(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		wantErr error
	}{
		{"empty topic", "", 0, nil, ErrInvalidTopic},
		{"single-level wildcard", "a/+/c", 0, nil, ErrInvalidTopic},
		{"multi-level wildcard", "a/#", 0, nil, ErrInvalidTopic},
		{"qos too high", "a", 3, nil, ErrInvalidQoS},
		{"payload too large", "a", 0, make([]byte, maxPayloadSize+1), ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := &mockBroker{}
			m, _ := newTestManager(t, broker, DefaultConnectOptions())

			err := m.Publish(context.Background(), tt.topic, tt.qos, tt.payload, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
			if got := broker.attempts(); got != 0 {
				t.Errorf("connect attempts = %d, want 0 for invalid input", got)
			}
		})
	}
}
