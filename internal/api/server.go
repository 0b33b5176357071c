// Package api provides the HTTP status API and WebSocket feed for BrokerLink.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-brokerlink/internal/cache"
	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-brokerlink/internal/journal"
	"github.com/nerrad567/gray-logic-brokerlink/internal/relay"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BrokerStatus is the read-only view of one broker connection.
// *mqtt.Manager satisfies it.
type BrokerStatus interface {
	Address() string
	IsConnected() bool
	RetryConfig() mqtt.RetryConfig
	Subscriptions() []string
	ListenerCount() int
}

// EventReader reads a broker's journal. *journal.Journal satisfies it.
type EventReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Event, error)
	Attempts(ctx context.Context, limit int) ([]journal.Attempt, error)
	Count(ctx context.Context, kind journal.Kind) (int, error)
}

// CacheReader reads the last-value cache. *cache.Cache satisfies it.
type CacheReader interface {
	Get(ctx context.Context, topic string) (cache.Entry, error)
	Topics(ctx context.Context) ([]string, error)
}

// RelayStats reports relay counters. *relay.Relay satisfies it.
type RelayStats interface {
	Stats() relay.Stats
}

var (
	_ BrokerStatus = (*mqtt.Manager)(nil)
	_ EventReader  = (*journal.Journal)(nil)
	_ CacheReader  = (*cache.Cache)(nil)
	_ RelayStats   = (*relay.Relay)(nil)
)

// Broker is what the API exposes about one connection.
type Broker struct {
	Status BrokerStatus
	// Journal is nil when the journal is disabled.
	Journal EventReader
}

// Deps holds the dependencies required by the API server.
// Cache, Relay, DB and Hub are optional.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Brokers map[string]Broker
	Cache   CacheReader
	Relay   RelayStats
	DB      *database.DB
	Hub     *Hub // If set, the server uses this hub instead of creating its own
	Version string
}

// Server is the HTTP API server for BrokerLink.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	logger      *logging.Logger
	brokers     map[string]Broker
	cache       CacheReader
	relay       RelayStats
	db          *database.DB
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, at least one broker)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if len(deps.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	for role, b := range deps.Brokers {
		if b.Status == nil {
			return nil, fmt.Errorf("broker %q has no status", role)
		}
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		brokers:   deps.Brokers,
		cache:     deps.Cache,
		relay:     deps.Relay,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
	}

	// The hub is usually created up front so its feed listeners can be
	// registered before the brokers connect.
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.Config.WebSocket, deps.Logger)
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless injected) and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              s.cfg.Address(),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
