// Package api implements the BrokerLink status API and live message feed.
//
// This package provides:
//   - REST endpoints for broker status, journal queries, cached values and
//     relay counters
//   - WebSocket hub broadcasting broker notifications to subscribed clients
//   - Optional HS256 bearer token authentication
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Routes
//
//	GET /api/v1/health                       liveness, 503 when a broker is down
//	GET /api/v1/metrics                      runtime, database and feed statistics
//	GET /api/v1/brokers                      every broker connection
//	GET /api/v1/brokers/{role}               one connection plus journal counts
//	GET /api/v1/brokers/{role}/events        journaled notifications, newest first
//	GET /api/v1/brokers/{role}/attempts      journaled connection attempts
//	GET /api/v1/cache/topics                 cached topics
//	GET /api/v1/cache/values/{topic...}      last value for a topic
//	GET /api/v1/relay                        relay counters
//	GET /api/v1/ws                           live feed
//
// # Live Feed
//
// Hub.Listener returns an mqtt.Listener that turns notifications into
// "message.arrived", "connection.lost" and "delivery.complete" events.
// Clients choose channels with a subscribe message:
//
//	{"type": "subscribe", "id": "1", "payload": {"channels": ["message.arrived"]}}
//
// Broadcasts never block the delivering goroutine; a slow client misses
// events instead.
//
// # Security
//
// When api.jwt.secret is set every route except health and metrics requires
// a token in the Authorization header, or in the access_token query
// parameter for the WebSocket upgrade.
package api
