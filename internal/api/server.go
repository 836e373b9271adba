// Package api implements the HTTP API for the Stan chat service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stanbot/stanbot/internal/buildinfo"
	"github.com/stanbot/stanbot/internal/empathy"
	"github.com/stanbot/stanbot/internal/responder"
	"github.com/stanbot/stanbot/internal/sentiment"
	"github.com/stanbot/stanbot/internal/session"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server. It orchestrates a chat turn: sentiment
// classification, session context, response selection, the empathy prefix,
// and history persistence.
type Server struct {
	address        string
	port           int
	store          *session.Store
	responder      responder.Responder
	prefixer       *empathy.Prefixer
	allowedOrigins []string
	debugEndpoints bool
	modelLoaded    atomic.Bool
	logger         *slog.Logger
	server         *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, store *session.Store, rsp responder.Responder, prefixer *empathy.Prefixer, logger *slog.Logger) *Server {
	return &Server{
		address:   address,
		port:      port,
		store:     store,
		responder: rsp,
		prefixer:  prefixer,
		logger:    logger,
	}
}

// SetAllowedOrigins configures CORS origins for browser frontends deployed
// separately from this backend.
func (s *Server) SetAllowedOrigins(origins []string) {
	s.allowedOrigins = origins
}

// SetDebugEndpoints enables the /data session dump. Off by default; not
// for production exposure.
func (s *Server) SetDebugEndpoints(enabled bool) {
	s.debugEndpoints = enabled
}

// SetModelLoaded records whether the generative backend is currently
// reachable, for reporting on /health. Safe to call while serving; the
// backend watcher updates it on every state transition.
func (s *Server) SetModelLoaded(loaded bool) {
	s.modelLoaded.Store(loaded)
}

// Handler returns the configured HTTP handler. Split from Start so tests
// can drive the full middleware stack through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /data", s.handleData)

	return s.withLogging(s.withCORS(mux))
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// withCORS reflects allowed origins so a separately deployed frontend can
// call the API. With no configured origins the middleware is inert.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	// The catch-all pattern also receives unknown paths.
	if r.URL.Path != "/" {
		s.errorResponse(w, http.StatusNotFound, "not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"message": "Stan Chatbot Backend API",
		"version": buildinfo.Version,
		"endpoints": map[string]string{
			"/chat":   "POST - Send message to chatbot",
			"/health": "GET - Health check",
			"/stats":  "GET - Get statistics",
			"/data":   "GET - View stored data (debug)",
		},
	}, s.logger)
}

// ChatRequest is the /chat request body.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the /chat response body.
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Sentiment string `json:"sentiment"`
	Context   string `json:"context"`
}

// handleChat runs one chat turn. Persistence problems degrade to an
// uncontextualized reply rather than an error; the rule backend guarantees
// there is always something to say.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		s.errorResponse(w, http.StatusBadRequest, "Empty message")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	label := sentiment.Classify(message)

	var facts map[string]string
	var history []session.Exchange
	sess, err := s.store.GetOrCreate(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("session read failed", "session_id", sessionID, "error", err)
	} else {
		facts = sess.Facts
		history = sess.History
	}

	contextSummary, err := s.store.ContextSummary(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("context summary failed", "session_id", sessionID, "error", err)
	}

	reply, factUpdates, err := s.responder.Respond(r.Context(), responder.Input{
		Text:      message,
		SessionID: sessionID,
		Facts:     facts,
		History:   history,
	})
	if err != nil {
		s.logger.Error("response selection failed", "session_id", sessionID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if prefix := s.prefixer.For(label); prefix != "" {
		reply = prefix + " " + reply
	}

	if err := s.store.UpdateFacts(r.Context(), sessionID, factUpdates); err != nil {
		s.logger.Error("fact update failed", "session_id", sessionID, "error", err)
	}
	if err := s.store.Append(r.Context(), sessionID, message, reply, string(label)); err != nil {
		s.logger.Error("history append failed", "session_id", sessionID, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		Response:  reply,
		SessionID: sessionID,
		Sentiment: string(label),
		Context:   contextSummary,
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":          "healthy",
		"model_loaded":    s.modelLoaded.Load(),
		"storage_type":    stats.StorageType,
		"total_sessions":  stats.TotalSessions,
		"active_sessions": stats.ActiveSessions,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}, s.logger)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, stats, s.logger)
}

// handleData dumps every stored session. Debug only; gated behind config.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	if !s.debugEndpoints {
		s.errorResponse(w, http.StatusNotFound, "not found")
		return
	}

	sessions, err := s.store.Dump(r.Context())
	if err != nil {
		s.logger.Error("session dump failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"storage_type":   s.store.StorageType(),
		"total_sessions": len(sessions),
		"sessions":       sessions,
	}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
