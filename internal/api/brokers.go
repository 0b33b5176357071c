package api

import (
	"errors"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-brokerlink/internal/cache"
	"github.com/nerrad567/gray-logic-brokerlink/internal/journal"
)

// Journal query limits.
const (
	defaultQueryLimit = 50
	maxQueryLimit     = 1000
)

// BrokerResponse describes one broker connection.
type BrokerResponse struct {
	Role          string         `json:"role"`
	Address       string         `json:"address"`
	Connected     bool           `json:"connected"`
	RetryBound    int            `json:"retry_bound"`
	RetryPeriodMS int64          `json:"retry_period_ms"`
	Subscriptions []string       `json:"subscriptions"`
	Listeners     int            `json:"listeners"`
	Journal       map[string]int `json:"journal,omitempty"`
}

// EventResponse is one journaled notification.
type EventResponse struct {
	ID         int64  `json:"id"`
	Kind       string `json:"kind"`
	Topic      string `json:"topic,omitempty"`
	QoS        byte   `json:"qos"`
	Retained   bool   `json:"retained"`
	MessageID  uint16 `json:"message_id,omitempty"`
	Payload    []byte `json:"payload,omitempty"`
	Detail     string `json:"detail,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

// AttemptResponse is one journaled connection attempt.
type AttemptResponse struct {
	Address    string `json:"address"`
	Attempt    int    `json:"attempt"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

// CacheEntryResponse is the last value cached for a topic.
type CacheEntryResponse struct {
	Topic     string `json:"topic"`
	Payload   []byte `json:"payload"`
	QoS       byte   `json:"qos"`
	Retained  bool   `json:"retained"`
	UpdatedAt string `json:"updated_at"`
}

// handleHealth reports ok when every broker is connected, degraded otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status, code := "ok", http.StatusOK
	brokers := make(map[string]bool, len(s.brokers))
	for role, b := range s.brokers {
		connected := b.Status.IsConnected()
		brokers[role] = connected
		if !connected {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"brokers": brokers,
	})
}

// handleListBrokers returns every broker sorted by role.
func (s *Server) handleListBrokers(w http.ResponseWriter, _ *http.Request) {
	roles := slices.Sorted(maps.Keys(s.brokers))
	out := make([]BrokerResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, s.brokerResponse(role, s.brokers[role]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"brokers": out})
}

// handleGetBroker returns one broker with its journal counts.
func (s *Server) handleGetBroker(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	b, ok := s.brokers[role]
	if !ok {
		writeNotFound(w, "unknown broker "+role)
		return
	}

	resp := s.brokerResponse(role, b)
	if b.Journal != nil {
		resp.Journal = make(map[string]int)
		for _, kind := range []journal.Kind{journal.KindMessageArrived, journal.KindDeliveryComplete, journal.KindConnectionLost} {
			n, err := b.Journal.Count(r.Context(), kind)
			if err != nil {
				s.logger.Error("journal count failed", "broker", role, "kind", kind, "error", err)
				writeInternalError(w, "failed to read journal")
				return
			}
			resp.Journal[string(kind)] = n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) brokerResponse(role string, b Broker) BrokerResponse {
	retry := b.Status.RetryConfig()
	subs := b.Status.Subscriptions()
	if subs == nil {
		subs = []string{}
	}
	return BrokerResponse{
		Role:          role,
		Address:       b.Status.Address(),
		Connected:     b.Status.IsConnected(),
		RetryBound:    retry.Bound,
		RetryPeriodMS: retry.Period.Milliseconds(),
		Subscriptions: subs,
		Listeners:     b.Status.ListenerCount(),
	}
}

// handleBrokerEvents returns journaled notifications, newest first.
func (s *Server) handleBrokerEvents(w http.ResponseWriter, r *http.Request) {
	role, j, ok := s.brokerJournal(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	events, err := j.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("journal query failed", "broker", role, "error", err)
		writeInternalError(w, "failed to read journal")
		return
	}

	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, EventResponse{
			ID:         ev.ID,
			Kind:       string(ev.Kind),
			Topic:      ev.Topic,
			QoS:        ev.QoS,
			Retained:   ev.Retained,
			MessageID:  ev.MessageID,
			Payload:    ev.Payload,
			Detail:     ev.Detail,
			RecordedAt: ev.RecordedAt.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"broker": role, "events": out})
}

// handleBrokerAttempts returns journaled connection attempts, newest first.
func (s *Server) handleBrokerAttempts(w http.ResponseWriter, r *http.Request) {
	role, j, ok := s.brokerJournal(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	attempts, err := j.Attempts(r.Context(), limit)
	if err != nil {
		s.logger.Error("journal query failed", "broker", role, "error", err)
		writeInternalError(w, "failed to read journal")
		return
	}

	out := make([]AttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, AttemptResponse{
			Address:    a.Address,
			Attempt:    a.Attempt,
			DurationMS: a.Duration.Milliseconds(),
			Error:      a.Error,
			RecordedAt: a.RecordedAt.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"broker": role, "attempts": out})
}

// brokerJournal resolves the {role} parameter to a journal, writing the
// error response itself when it cannot.
func (s *Server) brokerJournal(w http.ResponseWriter, r *http.Request) (string, EventReader, bool) {
	role := chi.URLParam(r, "role")
	b, ok := s.brokers[role]
	if !ok {
		writeNotFound(w, "unknown broker "+role)
		return role, nil, false
	}
	if b.Journal == nil {
		writeUnavailable(w, "journal disabled")
		return role, nil, false
	}
	return role, b.Journal, true
}

// queryLimit parses ?limit=, defaulting to 50 and capping at 1000.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultQueryLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		writeBadRequest(w, "limit must be a positive integer")
		return 0, false
	}
	return min(limit, maxQueryLimit), true
}

// handleCacheTopics returns every cached topic in sorted order.
func (s *Server) handleCacheTopics(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeUnavailable(w, "cache disabled")
		return
	}
	topics, err := s.cache.Topics(r.Context())
	if err != nil {
		s.logger.Error("cache scan failed", "error", err)
		writeInternalError(w, "failed to read cache")
		return
	}
	if topics == nil {
		topics = []string{}
	}
	slices.Sort(topics)
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

// handleCacheValue returns the last value for the topic in the wildcard path.
func (s *Server) handleCacheValue(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeUnavailable(w, "cache disabled")
		return
	}
	topic := chi.URLParam(r, "*")
	if topic == "" {
		writeBadRequest(w, "topic is required")
		return
	}

	entry, err := s.cache.Get(r.Context(), topic)
	if errors.Is(err, cache.ErrNotFound) {
		writeNotFound(w, "topic not cached")
		return
	}
	if err != nil {
		s.logger.Error("cache read failed", "topic", topic, "error", err)
		writeInternalError(w, "failed to read cache")
		return
	}

	writeJSON(w, http.StatusOK, CacheEntryResponse{
		Topic:     entry.Topic,
		Payload:   entry.Payload,
		QoS:       entry.QoS,
		Retained:  entry.Retained,
		UpdatedAt: entry.UpdatedAt.Format(time.RFC3339Nano),
	})
}

// handleRelayStats returns relay counters.
func (s *Server) handleRelayStats(w http.ResponseWriter, _ *http.Request) {
	if s.relay == nil {
		writeUnavailable(w, "relay disabled")
		return
	}
	stats := s.relay.Stats()
	writeJSON(w, http.StatusOK, map[string]uint64{
		"relayed": stats.Relayed,
		"failed":  stats.Failed,
		"skipped": stats.Skipped,
	})
}
