// Package httpapi exposes the admin surface: topic catalog management,
// per-user selections and ingress counters.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/agentworkforce/relaydrive/internal/relaydrive"
)

type ServerConfig struct {
	// AuthToken guards every /v1 route when set. Empty disables auth,
	// intended for local runs only.
	AuthToken    string
	MaxBodyBytes int64
}

type Server struct {
	store      *relaydrive.TopicStore
	aggregator *relaydrive.Aggregator
	cfg        ServerConfig
}

func NewServer(store *relaydrive.TopicStore, aggregator *relaydrive.Aggregator) *Server {
	return NewServerWithConfig(store, aggregator, ServerConfig{})
}

func NewServerWithConfig(store *relaydrive.TopicStore, aggregator *relaydrive.Aggregator, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{store: store, aggregator: aggregator, cfg: cfg}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if !strings.HasPrefix(r.URL.Path, "/v1/") {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", getCorrelationID(r))
		return
	}

	switch {
	case r.URL.Path == "/v1/topics" && r.Method == http.MethodGet:
		s.handleListTopics(w, r)
	case r.URL.Path == "/v1/topics" && r.Method == http.MethodPost:
		s.handleCreateTopic(w, r)
	case r.URL.Path == "/v1/admin/ingress" && r.Method == http.MethodGet:
		s.handleAdminIngress(w, r)
	default:
		s.routeUserPaths(w, r)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	presented := strings.TrimPrefix(header, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.AuthToken)) == 1
}

func (s *Server) routeUserPaths(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) != 4 || parts[0] != "v1" || parts[1] != "users" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}
	userID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid user id", correlationID)
		return
	}

	switch {
	case parts[3] == "topic" && r.Method == http.MethodGet:
		s.handleGetUserTopic(w, userID, correlationID)
	case parts[3] == "topic" && r.Method == http.MethodPut:
		s.handleSetUserTopic(w, r, userID, correlationID)
	case parts[3] == "topic" && r.Method == http.MethodDelete:
		s.handleClearUserTopic(w, userID, correlationID)
	case parts[3] == "destination" && r.Method == http.MethodGet:
		s.handleGetUserDestination(w, userID, correlationID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Topics []relaydrive.Topic `json:"topics"`
	}{Topics: s.store.ListTopics()})
}

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	var body struct {
		Name          string `json:"name"`
		DestinationID string `json:"destinationId"`
		Hashtag       string `json:"hashtag"`
		Description   string `json:"description"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	topic, err := s.store.AddTopic(body.Name, body.DestinationID, body.Hashtag, body.Description)
	if err != nil {
		switch {
		case errors.Is(err, relaydrive.ErrTopicExists):
			writeError(w, http.StatusConflict, "topic_exists", err.Error(), correlationID)
		case errors.Is(err, relaydrive.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		}
		return
	}
	writeJSON(w, http.StatusCreated, topic)
}

func (s *Server) handleGetUserTopic(w http.ResponseWriter, userID int64, correlationID string) {
	name := s.store.GetUserTopic(userID)
	if name == "" {
		writeError(w, http.StatusNotFound, "topic_not_found", "user has no topic selected", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"topic": name})
}

func (s *Server) handleSetUserTopic(w http.ResponseWriter, r *http.Request, userID int64, correlationID string) {
	var body struct {
		Topic string `json:"topic"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	if err := s.store.SetUserTopic(userID, body.Topic); err != nil {
		if errors.Is(err, relaydrive.ErrTopicNotFound) {
			writeError(w, http.StatusNotFound, "topic_not_found", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"topic": body.Topic})
}

func (s *Server) handleClearUserTopic(w http.ResponseWriter, userID int64, correlationID string) {
	s.store.ClearUserTopic(userID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleGetUserDestination(w http.ResponseWriter, userID int64, correlationID string) {
	destinationID, err := s.store.ResolveDestination(userID)
	if err != nil {
		if errors.Is(err, relaydrive.ErrNoDestination) {
			writeError(w, http.StatusNotFound, "no_destination", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"destinationId": destinationID})
}

func (s *Server) handleAdminIngress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.aggregator.Stats())
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
