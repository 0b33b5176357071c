package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/mqtt"
)

// Kind classifies a journal event.
type Kind string

// Event kinds, one per Listener callback.
const (
	KindConnectionLost   Kind = "connection_lost"
	KindMessageArrived   Kind = "message_arrived"
	KindDeliveryComplete Kind = "delivery_complete"
)

const (
	// defaultWriteTimeout bounds a single insert made from a listener callback.
	defaultWriteTimeout = 2 * time.Second

	// timeLayout is fixed-width UTC so recorded_at sorts and compares as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// ErrInvalidLimit is returned when a query limit is not positive.
var ErrInvalidLimit = errors.New("journal: limit must be positive")

// Event is one recorded notification.
type Event struct {
	ID         int64
	Broker     string
	Kind       Kind
	Topic      string
	QoS        byte
	Retained   bool
	MessageID  uint16
	Payload    []byte
	Detail     string
	RecordedAt time.Time
}

// Attempt is one recorded connection attempt.
type Attempt struct {
	Broker     string
	Address    string
	Attempt    int
	Duration   time.Duration
	Error      string
	RecordedAt time.Time
}

// Journal records the notifications of one broker connection.
//
// Thread Safety:
//   - All methods are safe for concurrent use; writes are serialised by the
//     single SQLite connection.
type Journal struct {
	db     *database.DB
	broker string

	writeTimeout time.Duration
	now          func() time.Time
	logger       mqtt.Logger
}

var _ mqtt.Listener = (*Journal)(nil)

// New creates a Journal writing to db. broker labels every row, e.g. "source".
// The schema must already be migrated.
func New(db *database.DB, broker string) *Journal {
	return &Journal{
		db:           db,
		broker:       broker,
		writeTimeout: defaultWriteTimeout,
		now:          time.Now,
		logger:       slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the logger used for write failures that cannot be returned.
func (j *Journal) SetLogger(logger mqtt.Logger) {
	if logger != nil {
		j.logger = logger
	}
}

// ConnectionLost implements mqtt.Listener.
func (j *Journal) ConnectionLost(cause error) {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	if err := j.insert(Event{Kind: KindConnectionLost, Detail: detail}); err != nil {
		j.logger.Error("journal write failed", "kind", KindConnectionLost, "error", err)
	}
}

// MessageArrived implements mqtt.Listener. The write error, if any, is
// returned so the message is not acknowledged.
func (j *Journal) MessageArrived(topic string, msg mqtt.Message) error {
	return j.insert(Event{
		Kind:      KindMessageArrived,
		Topic:     topic,
		QoS:       msg.QoS,
		Retained:  msg.Retained,
		MessageID: msg.MessageID,
		Payload:   msg.Payload,
	})
}

// DeliveryComplete implements mqtt.Listener.
func (j *Journal) DeliveryComplete(token mqtt.DeliveryToken) {
	err := j.insert(Event{
		Kind:      KindDeliveryComplete,
		Topic:     token.Topic,
		QoS:       token.QoS,
		MessageID: token.MessageID,
	})
	if err != nil {
		j.logger.Error("journal write failed", "kind", KindDeliveryComplete, "topic", token.Topic, "error", err)
	}
}

// RecordAttempt stores a connection attempt. Its signature matches
// mqtt.Manager.SetOnAttempt.
func (j *Journal) RecordAttempt(ev mqtt.AttemptEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), j.writeTimeout)
	defer cancel()

	errText := ""
	if ev.Err != nil {
		errText = ev.Err.Error()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO connect_attempts (broker, address, attempt, duration_ms, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		j.broker, ev.Address, ev.Attempt, ev.Duration.Milliseconds(), errText, j.timestamp(),
	)
	if err != nil {
		j.logger.Error("journal write failed", "kind", "connect_attempt", "error", err)
	}
}

func (j *Journal) insert(ev Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), j.writeTimeout)
	defer cancel()

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO journal_events (broker, kind, topic, qos, retained, message_id, payload, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.broker, string(ev.Kind), ev.Topic, int(ev.QoS), ev.Retained, int(ev.MessageID), ev.Payload, ev.Detail, j.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("journal: recording %s: %w", ev.Kind, err)
	}
	return nil
}

func (j *Journal) timestamp() string {
	return j.now().UTC().Format(timeLayout)
}

// Recent returns up to limit events for this broker, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, broker, kind, topic, qos, retained, message_id, payload, detail, recorded_at
		FROM journal_events
		WHERE broker = ?
		ORDER BY id DESC
		LIMIT ?`,
		j.broker, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: querying events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterating events: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var (
		ev         Event
		kind       string
		qos        int
		messageID  int
		recordedAt string
	)
	if err := rows.Scan(&ev.ID, &ev.Broker, &kind, &ev.Topic, &qos, &ev.Retained,
		&messageID, &ev.Payload, &ev.Detail, &recordedAt); err != nil {
		return Event{}, fmt.Errorf("journal: scanning event: %w", err)
	}
	ev.Kind = Kind(kind)
	ev.QoS = byte(qos)
	ev.MessageID = uint16(messageID)
	ev.RecordedAt, _ = time.Parse(timeLayout, recordedAt) //nolint:errcheck // Written by timestamp
	return ev, nil
}

// Count returns the number of events of kind for this broker. An empty kind
// counts every event.
func (j *Journal) Count(ctx context.Context, kind Kind) (int, error) {
	query := "SELECT COUNT(*) FROM journal_events WHERE broker = ?"
	args := []any{j.broker}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, string(kind))
	}

	var n int
	if err := j.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("journal: counting events: %w", err)
	}
	return n, nil
}

// Attempts returns up to limit connection attempts for this broker, newest first.
func (j *Journal) Attempts(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT broker, address, attempt, duration_ms, error, recorded_at
		FROM connect_attempts
		WHERE broker = ?
		ORDER BY id DESC
		LIMIT ?`,
		j.broker, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: querying attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var (
			a          Attempt
			durationMs int64
			recordedAt string
		)
		if err := rows.Scan(&a.Broker, &a.Address, &a.Attempt, &durationMs, &a.Error, &recordedAt); err != nil {
			return nil, fmt.Errorf("journal: scanning attempt: %w", err)
		}
		a.Duration = time.Duration(durationMs) * time.Millisecond
		a.RecordedAt, _ = time.Parse(timeLayout, recordedAt) //nolint:errcheck // Written by timestamp
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterating attempts: %w", err)
	}
	return attempts, nil
}

// Prune deletes events and attempts of every broker recorded before cutoff.
//
// Returns:
//   - int64: number of rows removed across both tables
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	stamp := cutoff.UTC().Format(timeLayout)

	var removed int64
	err := j.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"journal_events", "connect_attempts"} {
			res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE recorded_at < ?", stamp) //nolint:gosec // Fixed table names
			if err != nil {
				return fmt.Errorf("journal: pruning %s: %w", table, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("journal: pruning %s: %w", table, err)
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
