package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/mqtt"
)

// Measurement names.
const (
	MeasurementBrokerEvents    = "broker_events"
	MeasurementConnectAttempts = "connect_attempts"
)

// Event tag values for MeasurementBrokerEvents.
const (
	EventConnectionLost   = "connection_lost"
	EventMessageArrived   = "message_arrived"
	EventDeliveryComplete = "delivery_complete"
)

// PointWriter accepts points for asynchronous delivery. *Client implements it.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// EventRecorder writes broker notifications as points.
// It never rejects a message: metrics are best effort.
type EventRecorder struct {
	w      PointWriter
	broker string
	now    func() time.Time
}

var _ mqtt.Listener = (*EventRecorder)(nil)

// NewEventRecorder creates a recorder tagging every point with broker.
func NewEventRecorder(w PointWriter, broker string) *EventRecorder {
	return &EventRecorder{w: w, broker: broker, now: time.Now}
}

// ConnectionLost implements mqtt.Listener.
func (r *EventRecorder) ConnectionLost(cause error) {
	fields := map[string]any{"count": 1}
	if cause != nil {
		fields["cause"] = cause.Error()
	}
	r.event(EventConnectionLost, nil, fields)
}

// MessageArrived implements mqtt.Listener.
func (r *EventRecorder) MessageArrived(topic string, msg mqtt.Message) error {
	r.event(EventMessageArrived,
		map[string]string{"qos": strconv.Itoa(int(msg.QoS))},
		map[string]any{
			"count":     1,
			"bytes":     len(msg.Payload),
			"topic":     topic,
			"retained":  msg.Retained,
			"duplicate": msg.Duplicate,
		},
	)
	return nil
}

// DeliveryComplete implements mqtt.Listener.
func (r *EventRecorder) DeliveryComplete(token mqtt.DeliveryToken) {
	r.event(EventDeliveryComplete,
		map[string]string{"qos": strconv.Itoa(int(token.QoS))},
		map[string]any{
			"count":      1,
			"topic":      token.Topic,
			"message_id": int(token.MessageID),
		},
	)
}

// RecordAttempt writes a connect_attempts point. Its signature matches
// mqtt.Manager.SetOnAttempt.
func (r *EventRecorder) RecordAttempt(ev mqtt.AttemptEvent) {
	fields := map[string]any{
		"attempt":     ev.Attempt,
		"duration_ms": ev.Duration.Milliseconds(),
	}
	if ev.Err != nil {
		fields["error"] = ev.Err.Error()
	}

	r.w.WritePoint(write.NewPoint(
		MeasurementConnectAttempts,
		map[string]string{
			"broker":  r.broker,
			"address": ev.Address,
			"success": strconv.FormatBool(ev.Err == nil),
		},
		fields,
		r.now(),
	))
}

func (r *EventRecorder) event(name string, extraTags map[string]string, fields map[string]any) {
	tags := map[string]string{
		"broker": r.broker,
		"event":  name,
	}
	for k, v := range extraTags {
		tags[k] = v
	}
	r.w.WritePoint(write.NewPoint(MeasurementBrokerEvents, tags, fields, r.now()))
}
