package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/session"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// closeRequestTimeout bounds the session drain triggered by DELETE.
const closeRequestTimeout = 15 * time.Second

// Server exposes the session lifecycle REST endpoints and the per-session
// streaming WebSocket.
type Server struct {
	registry *session.Registry
	metrics  *observe.Metrics
}

// New creates a gateway server. metrics may be nil.
func New(registry *session.Registry, metrics *observe.Metrics) *Server {
	return &Server{registry: registry, metrics: metrics}
}

// Routes registers the gateway endpoints:
//
//	POST   /v1/sessions            — create a session
//	GET    /v1/sessions            — list sessions with aggregate stats
//	GET    /v1/sessions/{id}/stats — one session's stats
//	DELETE /v1/sessions/{id}       — close a session (idempotent)
//	GET    /v1/sessions/{id}/ws    — upgrade to the streaming connection
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", s.handleCreate)
	mux.HandleFunc("GET /v1/sessions", s.handleList)
	mux.HandleFunc("GET /v1/sessions/{id}/stats", s.handleStats)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleClose)
	mux.HandleFunc("GET /v1/sessions/{id}/ws", s.handleWS)
}

type createSessionRequest struct {
	Language string `json:"language"`
}

type createSessionResponse struct {
	SessionID    string `json:"session_id"`
	WebSocketURL string `json:"websocket_url"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Language == "" {
		http.Error(w, "language is required", http.StatusBadRequest)
		return
	}

	sess, err := s.registry.Create(req.Language)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:    sess.ID(),
		WebSocketURL: "/v1/sessions/" + sess.ID() + "/ws",
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Stats())
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), closeRequestTimeout)
	defer cancel()

	// Idempotent: closing an unknown or already-closed id succeeds.
	if err := s.registry.Close(ctx, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := sess.Attach(); err != nil {
		writeError(w, err)
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		sess.Detach()
		observe.Logger(r.Context()).Warn("websocket accept failed", "session", sess.ID(), "err", err)
		return
	}
	defer ws.Close(websocket.StatusInternalError, "connection task ended")

	if s.metrics != nil {
		s.metrics.ActiveConnections.Add(r.Context(), 1)
		defer s.metrics.ActiveConnections.Add(r.Context(), -1)
	}
	observe.Logger(r.Context()).Info("streaming connection attached", "session", sess.ID())

	c := newConn(ws, sess, s.metrics)
	c.run(r.Context())

	observe.Logger(r.Context()).Info("streaming connection detached", "session", sess.ID())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an error kind to its HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch types.KindOf(err) {
	case types.KindSessionNotFound:
		status = http.StatusNotFound
	case types.KindSessionExpired:
		status = http.StatusGone
	case types.KindInvalidInput, types.KindUnsupportedFormat:
		status = http.StatusBadRequest
	case types.KindWorkerPoolSaturated, types.KindBufferOverflow:
		status = http.StatusTooManyRequests
	}
	http.Error(w, err.Error(), status)
}
