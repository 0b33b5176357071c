package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestConnect_SingleAttempt(t *testing.T) {
	broker := &mockBroker{connectErr: alwaysFail}
	m, sleeps := newTestManager(t, broker, DefaultConnectOptions())

	err := m.Connect(context.Background())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if !errors.Is(err, errBrokerDown) {
		t.Errorf("Connect() error = %v, want underlying cause", err)
	}
	if got := broker.attempts(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
	if got := sleeps.count(); got != 0 {
		t.Errorf("sleeps = %d, want 0", got)
	}
}

func TestConnect_Success(t *testing.T) {
	broker := &mockBroker{}
	m, _ := newTestManager(t, broker, DefaultConnectOptions())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !m.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := m.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_NoAddress(t *testing.T) {
	m, err := NewManager(DefaultConnectOptions())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if err := m.Connect(context.Background()); !errors.Is(err, ErrNoAddress) {
		t.Errorf("Connect() error = %v, want ErrNoAddress", err)
	}
}

func TestConnect_DiscardsLiveHandle(t *testing.T) {
	broker := &mockBroker{}
	m, _ := newTestManager(t, broker, DefaultConnectOptions())

	if err := m.ConnectWithRetry(context.Background(), 0, 0); err != nil {
		t.Fatalf("first connect error = %v", err)
	}
	if err := m.ConnectWithRetry(context.Background(), 0, 0); err != nil {
		t.Fatalf("second connect error = %v", err)
	}

	first := broker.client(0)
	if got := first.disconnectCount(); got != 1 {
		t.Errorf("first handle disconnects = %d, want 1", got)
	}
	if first.IsConnected() {
		t.Error("first handle still connected")
	}
	if m.handle() != broker.client(1) {
		t.Error("handle is not the second connection")
	}
}

func TestSetAddress_LeavesConnectionAlone(t *testing.T) {
	broker := &mockBroker{}
	m, _ := newTestManager(t, broker, DefaultConnectOptions())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	m.SetAddress("ssl://secure:8883")

	if got := m.Address(); got != "ssl://secure:8883" {
		t.Errorf("Address() = %q, want ssl://secure:8883", got)
	}
	if !m.IsConnected() {
		t.Error("IsConnected() = false after SetAddress, want true")
	}
	if got := broker.client(0).disconnectCount(); got != 0 {
		t.Errorf("disconnects = %d, want 0", got)
	}
}

func TestDisconnect(t *testing.T) {
	broker := &mockBroker{}
	m, _ := newTestManager(t, broker, DefaultConnectOptions())

	if err := m.Disconnect(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Disconnect() without handle error = %v, want ErrNotConnected", err)
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := m.Disconnect(); err != nil {
		t.Errorf("Disconnect() error = %v", err)
	}
	if m.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	if err := m.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClose(t *testing.T) {
	broker := &mockBroker{}
	m, _ := newTestManager(t, broker, DefaultConnectOptions())

	// Never connected.
	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !m.IsShutdown() {
		t.Error("IsShutdown() = false after Close")
	}
}

func TestHealthCheck_ContextCancelled(t *testing.T) {
	broker := &mockBroker{}
	m, _ := newTestManager(t, broker, DefaultConnectOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestSetOnAttempt(t *testing.T) {
	broker := &mockBroker{connectErr: failFirst(1)}
	m, _ := newTestManager(t, broker, DefaultConnectOptions())

	var mu sync.Mutex
	var events []AttemptEvent
	m.SetOnAttempt(func(ev AttemptEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	if err := m.ConnectWithRetry(context.Background(), 3, time.Millisecond); err != nil {
		t.Fatalf("ConnectWithRetry() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Attempt != 0 || !errors.Is(events[0].Err, errBrokerDown) {
		t.Errorf("events[0] = %+v, want failed attempt 0", events[0])
	}
	if events[1].Attempt != 1 || events[1].Err != nil {
		t.Errorf("events[1] = %+v, want successful attempt 1", events[1])
	}
	if events[1].Address != testAddress {
		t.Errorf("events[1].Address = %q, want %q", events[1].Address, testAddress)
	}
}

func TestInterruptibleSleep(t *testing.T) {
	m, err := NewManager(DefaultConnectOptions())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	t.Run("elapses", func(t *testing.T) {
		if err := m.interruptibleSleep(context.Background(), time.Millisecond); err != nil {
			t.Errorf("interruptibleSleep() error = %v", err)
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if err := m.interruptibleSleep(ctx, time.Hour); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("interruptibleSleep() error = %v, want DeadlineExceeded", err)
		}
	})

	t.Run("shutdown", func(t *testing.T) {
		done := make(chan error, 1)
		go func() { done <- m.interruptibleSleep(context.Background(), time.Hour) }()

		m.Shutdown()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("interruptibleSleep() error = %v, want nil", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("interruptibleSleep() not woken by Shutdown")
		}
	})
}

func TestConnectionLost_ForwardsIdenticalCause(t *testing.T) {
	broker := &mockBroker{}
	m, _ := newTestManager(t, broker, DefaultConnectOptions())

	var log []string
	first := &recordingListener{name: "first", log: &log}
	second := &recordingListener{name: "second", log: &log}
	m.AddListener(first)
	m.AddListener(second)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client := broker.client(0)

	cause := errors.New("keepalive timeout")
	client.opts.OnConnectionLost(client, cause)

	if len(first.causes) != 1 || first.causes[0] != cause {
		t.Errorf("first listener causes = %v, want [%v]", first.causes, cause)
	}
	if len(second.causes) != 1 || second.causes[0] != cause {
		t.Errorf("second listener causes = %v, want [%v]", second.causes, cause)
	}
	if len(log) != 2 || log[0] != "first:lost" || log[1] != "second:lost" {
		t.Errorf("notification order = %v, want [first:lost second:lost]", log)
	}
}

func TestConnectionLost_IgnoresReplacedHandle(t *testing.T) {
	broker := &mockBroker{}
	m, _ := newTestManager(t, broker, DefaultConnectOptions())

	l := &recordingListener{}
	m.AddListener(l)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	old := broker.client(0)
	old.opts.OnConnectionLost(old, errors.New("closed"))

	if len(l.causes) != 0 {
		t.Errorf("listener received %d causes from a replaced handle, want 0", len(l.causes))
	}
}

func TestHandleMessage_AckOnlyWhenAccepted(t *testing.T) {
	broker := &mockBroker{}
	m, _ := newTestManager(t, broker, DefaultConnectOptions())

	var log []string
	first := &recordingListener{name: "first", log: &log}
	failing := &recordingListener{name: "failing", log: &log, err: errors.New("disk full")}
	third := &recordingListener{name: "third", log: &log}
	m.AddListener(first)
	m.AddListener(failing)
	m.AddListener(third)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client := broker.client(0)

	msg := &mockMessage{topic: "sensors/kitchen", payload: []byte("21.5"), qos: 1}
	client.opts.DefaultPublishHandler(client, msg)

	if msg.acked {
		t.Error("message acknowledged although a listener failed")
	}
	if third.messageCount() != 0 {
		t.Error("listener after the failing one was notified")
	}
	if len(log) != 2 {
		t.Errorf("notifications = %v, want first and failing only", log)
	}

	m.RemoveListener(failing)
	msg = &mockMessage{topic: "sensors/kitchen", payload: []byte("21.6"), qos: 1}
	client.opts.DefaultPublishHandler(client, msg)

	if !msg.acked {
		t.Error("message not acknowledged after all listeners accepted")
	}
	if got := third.messages[0]; string(got.Payload) != "21.6" || got.QoS != 1 || got.MessageID != 7 {
		t.Errorf("third listener message = %+v", got)
	}
}

func TestHandleMessage_RecoversPanic(t *testing.T) {
	broker := &mockBroker{}
	m, _ := newTestManager(t, broker, DefaultConnectOptions())
	m.AddListener(&ListenerFuncs{
		OnMessageArrived: func(string, Message) error { panic("boom") },
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client := broker.client(0)

	msg := &mockMessage{topic: "a", qos: 1}
	client.opts.DefaultPublishHandler(client, msg)

	if msg.acked {
		t.Error("message acknowledged after listener panic")
	}
}

func TestManager_IsListener(t *testing.T) {
	upstream, err := NewManager(DefaultConnectOptions())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	downstream, err := NewManager(DefaultConnectOptions())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	l := &recordingListener{}
	downstream.AddListener(l)
	upstream.AddListener(downstream)

	if err := upstream.MessageArrived("chained/topic", Message{Payload: []byte("x")}); err != nil {
		t.Fatalf("MessageArrived() error = %v", err)
	}
	if len(l.topics) != 1 || l.topics[0] != "chained/topic" {
		t.Errorf("downstream listener topics = %v, want [chained/topic]", l.topics)
	}
}
