// Package logging provides structured logging for BrokerLink.
//
// This package wraps Go's standard log/slog package. Every entry carries
// service and version fields; components add their own with With or ForBroker.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	source := logger.ForBroker("source", cfg.Source.Address)
//	source.Warn("connect attempt failed", "attempt", 2, "error", err)
//
// Broker passwords and the InfluxDB token must never be logged.
package logging
