package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/mqtt"
)

type publishCall struct {
	topic   string
	qos     byte
	payload string
	retain  bool
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error

	// block makes Publish wait for ctx cancellation.
	block bool
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, qos byte, payload []byte, retain bool) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, publishCall{topic: topic, qos: qos, payload: string(payload), retain: retain})
	return f.err
}

func (f *fakePublisher) last(t *testing.T) publishCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no publish recorded")
	}
	return f.calls[len(f.calls)-1]
}

func TestRelay_MessageArrived(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.RelayConfig
		msg  mqtt.Message
		want publishCall
	}{
		{
			name: "keeps inbound qos",
			cfg:  config.RelayConfig{QoS: -1},
			msg:  mqtt.Message{Payload: []byte("on"), QoS: 2},
			want: publishCall{topic: "lights/hall", qos: 2, payload: "on"},
		},
		{
			name: "fixed qos",
			cfg:  config.RelayConfig{QoS: 0},
			msg:  mqtt.Message{Payload: []byte("on"), QoS: 2},
			want: publishCall{topic: "lights/hall", qos: 0, payload: "on"},
		},
		{
			name: "prefix",
			cfg:  config.RelayConfig{TopicPrefix: "site-a/", QoS: 1},
			msg:  mqtt.Message{Payload: []byte("on")},
			want: publishCall{topic: "site-a/lights/hall", qos: 1, payload: "on"},
		},
		{
			name: "retain kept",
			cfg:  config.RelayConfig{QoS: -1, Retain: true},
			msg:  mqtt.Message{Payload: []byte("on"), Retained: true},
			want: publishCall{topic: "lights/hall", payload: "on", retain: true},
		},
		{
			name: "retain dropped",
			cfg:  config.RelayConfig{QoS: -1},
			msg:  mqtt.Message{Payload: []byte("on"), Retained: true},
			want: publishCall{topic: "lights/hall", payload: "on"},
		},
		{
			name: "retain not invented",
			cfg:  config.RelayConfig{QoS: -1, Retain: true},
			msg:  mqtt.Message{Payload: []byte("on")},
			want: publishCall{topic: "lights/hall", payload: "on"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := &fakePublisher{}
			r := New(target, tt.cfg)
			defer r.Close()

			if err := r.MessageArrived("lights/hall", tt.msg); err != nil {
				t.Fatalf("MessageArrived() error = %v", err)
			}
			if got := target.last(t); got != tt.want {
				t.Errorf("published %+v, want %+v", got, tt.want)
			}
			if got := r.Stats(); got.Relayed != 1 {
				t.Errorf("Stats().Relayed = %d, want 1", got.Relayed)
			}
		})
	}
}

func TestRelay_PublishFailureIsReturned(t *testing.T) {
	target := &fakePublisher{err: mqtt.ErrMessageDropped}
	r := New(target, config.RelayConfig{QoS: -1})
	defer r.Close()

	err := r.MessageArrived("a", mqtt.Message{Payload: []byte("x")})
	if !errors.Is(err, mqtt.ErrMessageDropped) {
		t.Errorf("MessageArrived() error = %v, want ErrMessageDropped", err)
	}
	if got := r.Stats(); got.Failed != 1 || got.Relayed != 0 {
		t.Errorf("Stats() = %+v, want 1 failed", got)
	}
}

func TestRelay_SkipsPrefixedTopics(t *testing.T) {
	target := &fakePublisher{}
	r := New(target, config.RelayConfig{TopicPrefix: "mirror/", QoS: -1})
	defer r.Close()

	if err := r.MessageArrived("mirror/lights/hall", mqtt.Message{Payload: []byte("x")}); err != nil {
		t.Fatalf("MessageArrived() error = %v", err)
	}
	if len(target.calls) != 0 {
		t.Errorf("published %d messages, want 0", len(target.calls))
	}
	if got := r.Stats(); got.Skipped != 1 {
		t.Errorf("Stats().Skipped = %d, want 1", got.Skipped)
	}
}

func TestRelay_CloseAbortsPendingPublish(t *testing.T) {
	target := &fakePublisher{block: true}
	r := New(target, config.RelayConfig{QoS: -1})

	done := make(chan error, 1)
	go func() {
		done <- r.MessageArrived("a", mqtt.Message{Payload: []byte("x")})
	}()

	r.Close()
	if err := <-done; !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
		t.Errorf("MessageArrived() error = %v, want cancellation", err)
	}

	if err := r.MessageArrived("b", mqtt.Message{}); !errors.Is(err, ErrClosed) {
		t.Errorf("MessageArrived() after Close error = %v, want ErrClosed", err)
	}
}

func TestRelay_OtherNotifications(t *testing.T) {
	target := &fakePublisher{}
	r := New(target, config.RelayConfig{QoS: -1})
	defer r.Close()

	r.ConnectionLost(errors.New("gone"))
	r.DeliveryComplete(mqtt.DeliveryToken{Topic: "a"})

	if len(target.calls) != 0 {
		t.Errorf("published %d messages, want 0", len(target.calls))
	}
}
