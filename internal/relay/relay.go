package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/mqtt"
)

// ErrClosed is returned for messages arriving after Close.
var ErrClosed = errors.New("relay: closed")

// Publisher is the target side of a relay. *mqtt.Manager satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, payload []byte, retain bool) error
}

// Stats counts relay outcomes since creation.
type Stats struct {
	Relayed uint64
	Failed  uint64
	Skipped uint64
}

// Relay republishes source messages on a target broker.
type Relay struct {
	target Publisher
	prefix string
	qos    int
	retain bool

	ctx    context.Context
	cancel context.CancelFunc
	logger mqtt.Logger

	relayed atomic.Uint64
	failed  atomic.Uint64
	skipped atomic.Uint64
}

var (
	_ mqtt.Listener = (*Relay)(nil)
	_ Publisher     = (*mqtt.Manager)(nil)
)

// New creates a Relay publishing to target according to cfg.
func New(target Publisher, cfg config.RelayConfig) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		target: target,
		prefix: cfg.TopicPrefix,
		qos:    cfg.QoS,
		retain: cfg.Retain,
		ctx:    ctx,
		cancel: cancel,
		logger: slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the logger for connection events and failed forwards.
func (r *Relay) SetLogger(logger mqtt.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Close aborts any forward waiting on the target and rejects later messages.
func (r *Relay) Close() {
	r.cancel()
}

// TargetTopic maps a source topic onto the target broker.
func (r *Relay) TargetTopic(topic string) string {
	return r.prefix + topic
}

// MessageArrived implements mqtt.Listener.
//
// Topics already under the prefix are skipped, so relaying onto the same
// broker does not loop. A failed publish is returned.
func (r *Relay) MessageArrived(topic string, msg mqtt.Message) error {
	if r.ctx.Err() != nil {
		return ErrClosed
	}
	if r.prefix != "" && strings.HasPrefix(topic, r.prefix) {
		r.skipped.Add(1)
		return nil
	}

	qos := msg.QoS
	if r.qos >= 0 {
		qos = byte(r.qos) //nolint:gosec // Validated to 0..2 by config
	}
	retain := r.retain && msg.Retained
	out := r.TargetTopic(topic)

	if err := r.target.Publish(r.ctx, out, qos, msg.Payload, retain); err != nil {
		r.failed.Add(1)
		r.logger.Warn("relay publish failed",
			"topic", topic,
			"target_topic", out,
			"error", err,
		)
		return fmt.Errorf("relay %s: %w", topic, err)
	}
	r.relayed.Add(1)
	return nil
}

// ConnectionLost implements mqtt.Listener. The target connection is
// independent, so there is nothing to do beyond logging.
func (r *Relay) ConnectionLost(cause error) {
	r.logger.Warn("relay source connection lost", "error", cause)
}

// DeliveryComplete implements mqtt.Listener.
func (r *Relay) DeliveryComplete(mqtt.DeliveryToken) {}

// Stats returns the current counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Relayed: r.relayed.Load(),
		Failed:  r.failed.Load(),
		Skipped: r.skipped.Load(),
	}
}
