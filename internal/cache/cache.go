package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/mqtt"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultWriteTimeout   = 2 * time.Second

	// scanCount is the COUNT hint for SCAN.
	scanCount = 100

	fieldPayload   = "payload"
	fieldQoS       = "qos"
	fieldRetained  = "retained"
	fieldUpdatedAt = "updated_at"
)

var (
	// ErrNotFound is returned by Get when no message is cached for the topic.
	ErrNotFound = errors.New("cache: topic not cached")

	// ErrConnectionFailed is returned when Redis cannot be reached.
	ErrConnectionFailed = errors.New("cache: redis connection failed")
)

// Entry is the last message cached for a topic.
type Entry struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retained  bool
	UpdatedAt time.Time
}

// Cache is a last-value cache keyed by topic.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Cache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration

	writeTimeout time.Duration
	now          func() time.Time
}

var _ mqtt.Listener = (*Cache)(nil)

// Connect parses cfg.URL, creates a client and verifies it with PING.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing url: %w", ErrConnectionFailed, err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return client, nil
}

// New creates a Cache storing keys under prefix. ttl 0 keeps entries until
// they are overwritten.
func New(client redis.UniversalClient, prefix string, ttl time.Duration) *Cache {
	return &Cache{
		client:       client,
		prefix:       prefix,
		ttl:          ttl,
		writeTimeout: defaultWriteTimeout,
		now:          time.Now,
	}
}

// Key returns the Redis key for topic.
func (c *Cache) Key(topic string) string {
	return c.prefix + topic
}

// MessageArrived implements mqtt.Listener. A Redis failure is returned, so
// the message stays unacknowledged.
func (c *Cache) MessageArrived(topic string, msg mqtt.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()

	key := c.Key(topic)

	if msg.Retained && len(msg.Payload) == 0 {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("cache: clearing %s: %w", topic, err)
		}
		return nil
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldPayload, msg.Payload,
			fieldQoS, int(msg.QoS),
			fieldRetained, strconv.FormatBool(msg.Retained),
			fieldUpdatedAt, c.now().UTC().Format(time.RFC3339Nano),
		)
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		} else {
			pipe.Persist(ctx, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: storing %s: %w", topic, err)
	}
	return nil
}

// ConnectionLost implements mqtt.Listener. Cached values stay valid.
func (c *Cache) ConnectionLost(error) {}

// DeliveryComplete implements mqtt.Listener. Outbound messages are not cached.
func (c *Cache) DeliveryComplete(mqtt.DeliveryToken) {}

// Get returns the cached message for topic, or ErrNotFound.
func (c *Cache) Get(ctx context.Context, topic string) (Entry, error) {
	values, err := c.client.HGetAll(ctx, c.Key(topic)).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("cache: reading %s: %w", topic, err)
	}
	if len(values) == 0 {
		return Entry{}, ErrNotFound
	}

	qos, err := strconv.Atoi(values[fieldQoS])
	if err != nil {
		return Entry{}, fmt.Errorf("cache: %s has malformed qos %q: %w", topic, values[fieldQoS], err)
	}
	retained, _ := strconv.ParseBool(values[fieldRetained])
	updatedAt, _ := time.Parse(time.RFC3339Nano, values[fieldUpdatedAt])

	return Entry{
		Topic:     topic,
		Payload:   []byte(values[fieldPayload]),
		QoS:       byte(qos), //nolint:gosec // Written from a byte
		Retained:  retained,
		UpdatedAt: updatedAt,
	}, nil
}

// Topics returns every cached topic, in no particular order.
func (c *Cache) Topics(ctx context.Context) ([]string, error) {
	var topics []string
	iter := c.client.Scan(ctx, 0, c.prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		topics = append(topics, strings.TrimPrefix(iter.Val(), c.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cache: scanning topics: %w", err)
	}
	return topics, nil
}

// HealthCheck pings Redis.
func (c *Cache) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache health check failed: %w", err)
	}
	return nil
}
