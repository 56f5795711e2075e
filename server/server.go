// Package server exposes the HTTP/SSE surface of the agent runtime.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/lisa/agent"
	"github.com/c360studio/lisa/assistant"
	"github.com/c360studio/lisa/config"
	"github.com/c360studio/lisa/metrics"
	"github.com/c360studio/lisa/session"
)

// maxBodySize limits request bodies.
const maxBodySize = 4 << 20

// Server wires the HTTP handlers around the agent service and stores.
type Server struct {
	svc      *agent.Service
	store    *session.Store
	registry *assistant.Registry
	metrics  *metrics.Metrics
	limits   config.Limits
	logger   *slog.Logger
}

// New builds the server. metrics may be nil when instrumentation is
// not wanted (tests).
func New(svc *agent.Service, store *session.Store, registry *assistant.Registry, m *metrics.Metrics, limits config.Limits, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:      svc,
		store:    store,
		registry: registry,
		metrics:  m,
		limits:   limits,
		logger:   logger,
	}
}

// Routes registers all endpoints on a mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /sessions/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /sessions/{id}/messages/v2/stream", s.handleStream)
	mux.HandleFunc("POST /sessions/{id}/sync", s.handleSync)

	mux.HandleFunc("GET /assistants", s.handleListAssistants)
	mux.HandleFunc("GET /assistants/{type}/bundle", s.handleGetBundle)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	ProjectName   string `json:"project_name"`
	AssistantType string `json:"assistant_type"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProjectName == "" {
		s.writeError(w, http.StatusBadRequest, "project_name is required")
		return
	}

	sess, err := s.store.Create(r.Context(), req.ProjectName, req.AssistantType)
	if err != nil {
		if errors.Is(err, session.ErrUnknownAssistant) {
			s.writeError(w, http.StatusBadRequest, "assistant_type must be lisa or alex")
			return
		}
		s.logger.Error("Session create failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	s.writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("Session lookup failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.Get(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("Session lookup failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	msgs, err := s.store.Messages(r.Context(), id)
	if err != nil {
		s.logger.Error("Message list failed", "session_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"total":    len(msgs),
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req session.SyncRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.store.SyncOnFinish(r.Context(), id, req, s.logger)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("Sync failed", "session_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListAssistants(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"assistants": assistant.List(),
	})
}

func (s *Server) handleGetBundle(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.registry.Bundle(r.PathValue("type"))
	if err != nil {
		if errors.Is(err, assistant.ErrUnknownType) {
			s.writeError(w, http.StatusNotFound, "unknown assistant type")
			return
		}
		s.writeError(w, http.StatusNotFound, "bundle not available")
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(bundle))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Failed to write JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(target)
}
