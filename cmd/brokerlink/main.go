// BrokerLink - resilient MQTT broker link
//
// BrokerLink keeps a connection to a source MQTT broker, records everything
// it receives and optionally forwards it to a target broker:
//   - SQLite journal of messages, deliveries and connection losses
//   - InfluxDB metrics for broker events and connection attempts
//   - Redis last-value cache keyed by topic
//   - Broker-to-broker relay with per-message reconnect recovery
//   - Read-only HTTP status API and WebSocket live feed
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/gray-logic-brokerlink/internal/api"
	"github.com/nerrad567/gray-logic-brokerlink/internal/cache"
	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-brokerlink/internal/journal"
	"github.com/nerrad567/gray-logic-brokerlink/internal/relay"
	"github.com/nerrad567/gray-logic-brokerlink/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when BROKERLINK_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// pruneInterval is how often journal retention is enforced.
	pruneInterval = time.Hour

	roleSource = "source"
	roleTarget = "target"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting BrokerLink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Sinks are built before the managers so no message arrives unrecorded.
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = openJournalDB(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
	} else {
		log.Info("journal disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.Connect(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		defer func() {
			log.Info("closing Redis connection")
			if closeErr := redisClient.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
		log.Info("Redis connected", "key_prefix", cfg.Redis.KeyPrefix)
	} else {
		log.Info("Redis disabled")
	}

	rec := &sinks{db: db, influx: influxClient, log: log, journals: make(map[string]*journal.Journal)}
	if cfg.API.Enabled {
		// The hub exists before the brokers so its feed sees the first message.
		rec.hub = api.NewHub(cfg.API.WebSocket, log.With("component", "api"))
		go rec.hub.Run(ctx)
	}

	// The target comes first: relay needs it, and shutdown runs in reverse.
	var target *mqtt.Manager
	var fwd *relay.Relay
	if cfg.Relay.Enabled {
		target, err = newBroker(roleTarget, relayTarget(cfg.Target), rec)
		if err != nil {
			return err
		}
		defer closeBroker(target, roleTarget, log)
		watchBroker(ctx, target, cfg.Target)

		if connErr := connectBroker(ctx, target, cfg.Target); connErr != nil {
			// Publish reconnects on demand, so a missing target is not fatal.
			log.Warn("target broker unavailable, relay will reconnect per message", "error", connErr)
		}

		fwd = relay.New(target, cfg.Relay)
		fwd.SetLogger(log.ForBroker(roleTarget, target.Address()))
		defer func() {
			fwd.Close()
			stats := fwd.Stats()
			log.Info("relay stopped",
				"relayed", stats.Relayed,
				"failed", stats.Failed,
				"skipped", stats.Skipped,
			)
		}()
	} else {
		log.Info("relay disabled")
	}

	source, err := newBroker(roleSource, cfg.Source, rec)
	if err != nil {
		return err
	}
	defer closeBroker(source, roleSource, log)

	var lvc *cache.Cache
	if redisClient != nil {
		lvc = cache.New(redisClient, cfg.Redis.KeyPrefix, cfg.Redis.TTLDuration())
		source.AddListener(lvc)
	}
	if fwd != nil {
		source.AddListener(fwd)
	}
	watchBroker(ctx, source, cfg.Source)

	if cfg.API.Enabled {
		brokers := map[string]*mqtt.Manager{roleSource: source}
		if target != nil {
			brokers[roleTarget] = target
		}
		server, apiErr := startAPI(ctx, cfg.API, rec, brokers, lvc, fwd)
		if apiErr != nil {
			return apiErr
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := connectBroker(ctx, source, cfg.Source); err != nil {
		return fmt.Errorf("connecting to source broker: %w", err)
	}

	topics, qos := cfg.Source.SubscriptionTopics()
	if err := source.Subscribe(topics, qos); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	log.Info("source subscriptions active", "filters", source.Subscriptions())

	if err := healthCheck(ctx, db, source, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if db != nil && cfg.Database.RetentionDays > 0 {
		go pruneLoop(ctx, journal.New(db, ""), cfg.Database.Retention(), log)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API server, source broker, relay, target broker, Redis, InfluxDB, database.

	log.Info("BrokerLink stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BROKERLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BROKERLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openJournalDB opens the journal database and applies migrations.
func openJournalDB(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.FromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Path)

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		_ = db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	return db, nil
}

// sinks holds the optional recording backends shared by both brokers.
type sinks struct {
	db     *database.DB
	influx *influxdb.Client
	hub    *api.Hub
	log    *logging.Logger

	// journals is filled by newBroker, keyed by role.
	journals map[string]*journal.Journal
}

// newBroker creates a Manager for one endpoint and registers the journal,
// metrics and live feed listeners, in that order, plus a combined attempt
// observer. run adds the cache, relay and reconnect listeners after these.
func newBroker(role string, cfg config.MQTTConfig, s *sinks) (*mqtt.Manager, error) {
	manager, err := mqtt.NewManager(mqtt.OptionsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("creating %s broker manager: %w", role, err)
	}
	manager.SetAddress(cfg.Address)

	log := s.log.ForBroker(role, manager.Address())
	manager.SetLogger(log)

	var observers []func(mqtt.AttemptEvent)

	if s.db != nil {
		j := journal.New(s.db, role)
		j.SetLogger(log)
		manager.AddListener(j)
		observers = append(observers, j.RecordAttempt)
		if s.journals != nil {
			s.journals[role] = j
		}
	}
	if s.influx != nil {
		recorder := influxdb.NewEventRecorder(s.influx, role)
		manager.AddListener(recorder)
		observers = append(observers, recorder.RecordAttempt)
	}
	if s.hub != nil {
		manager.AddListener(s.hub.Listener(role))
	}

	if len(observers) > 0 {
		manager.SetOnAttempt(func(ev mqtt.AttemptEvent) {
			for _, observe := range observers {
				observe(ev)
			}
		})
	}

	return manager, nil
}

// startAPI starts the status API over the given brokers. Nil components are
// left out of Deps so the API reports them as disabled.
func startAPI(ctx context.Context, cfg config.APIConfig, s *sinks, managers map[string]*mqtt.Manager, lvc *cache.Cache, fwd *relay.Relay) (*api.Server, error) {
	brokers := make(map[string]api.Broker, len(managers))
	for role, manager := range managers {
		b := api.Broker{Status: manager}
		if j := s.journals[role]; j != nil {
			b.Journal = j
		}
		brokers[role] = b
	}

	deps := api.Deps{
		Config:  cfg,
		Logger:  s.log.With("component", "api"),
		Brokers: brokers,
		DB:      s.db,
		Hub:     s.hub,
		Version: version,
	}
	if lvc != nil {
		deps.Cache = lvc
	}
	if fwd != nil {
		deps.Relay = fwd
	}

	server, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return server, nil
}

// relayTarget returns the target endpoint settings the relay needs: a
// publish the target drops must fail, so the relay counts it and the source
// message stays unacknowledged.
func relayTarget(cfg config.MQTTConfig) config.MQTTConfig {
	cfg.FailOnDroppedPublish = true
	return cfg
}

// watchBroker reconnects manager with the endpoint's retry policy whenever
// its connection drops. It is registered last so every other listener sees
// the loss first.
func watchBroker(ctx context.Context, manager *mqtt.Manager, cfg config.MQTTConfig) *mqtt.Reconnector {
	r := mqtt.NewReconnector(ctx, manager, cfg.Retry.Bound, cfg.RetryPeriod())
	manager.AddListener(r)
	return r
}

// connectBroker resiliently connects using the endpoint's retry policy.
func connectBroker(ctx context.Context, manager *mqtt.Manager, cfg config.MQTTConfig) error {
	return manager.ConnectWithRetry(ctx, cfg.Retry.Bound, cfg.RetryPeriod())
}

// closeBroker shuts a manager down, interrupting any retry wait.
func closeBroker(manager *mqtt.Manager, role string, log *logging.Logger) {
	log.Info("disconnecting from MQTT broker", "broker", role)
	if err := manager.Close(); err != nil {
		log.Error("error closing MQTT", "broker", role, "error", err)
	}
}

// pruneLoop deletes journal rows older than retention, now and then every
// pruneInterval, until ctx is cancelled.
func pruneLoop(ctx context.Context, j *journal.Journal, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		cutoff := time.Now().Add(-retention)
		removed, err := j.Prune(ctx, cutoff)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			log.Warn("journal prune failed", "error", err)
		case removed > 0:
			log.Info("journal pruned", "rows", removed, "cutoff", cutoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Journal database (may be nil if disabled)
//   - source: Source broker manager
//   - influxClient: InfluxDB client (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, source *mqtt.Manager, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := source.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
