// ABOUTME: chi routes and HTTP handlers for the trigger, enhanced and health endpoints
// ABOUTME: Translates persistence and authorization errors into JSON error bodies

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"

	"github.com/2389/tms-core/internal/auth"
	"github.com/2389/tms-core/internal/enhanced"
	"github.com/2389/tms-core/internal/trigger"
)

// HeaderCronSecret carries the scheduler's shared secret.
const HeaderCronSecret = "x-cron-secret"

// maxBodyBytes bounds request bodies on the dashboard endpoints.
const maxBodyBytes = 64 << 10

func (s *Server) routes(logger *slog.Logger) chi.Router {
	requestLogger := httplog.NewLogger("tms-core", httplog.Options{
		LogLevel:         s.requestLogLevel,
		JSON:             strings.EqualFold(s.config.Logging.Format, "json"),
		Concise:          true,
		MessageFieldName: "msg",
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(middleware.Recoverer)
	r.Use(requestScope)

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)

	r.Post("/heartbeat-trigger", s.handleHeartbeatTrigger)

	r.Route("/api/enhanced", func(r chi.Router) {
		r.Use(auth.HTTPAuthMiddleware(s.verifier, logger))
		r.Get("/status", s.handleStatus)
		r.Post("/activate", s.handleActivate)
		r.Post("/config", s.handleSaveConfig)
	})

	return r
}

// requestScope gives each request its own memo scope so the instance id is
// resolved at most once per request and never cached across requests.
func requestScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(enhanced.WithScope(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// internalError logs err and answers 500 without leaking details.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
}

func (s *Server) handleHeartbeatTrigger(w http.ResponseWriter, r *http.Request) {
	res, err := s.trigger.Invoke(r.Context(), r.Header.Get(HeaderCronSecret))
	switch {
	case errors.Is(err, trigger.ErrUnauthorized):
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	case err != nil:
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.client.Status(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type activateRequest struct {
	LicenseKey string `json:"licenseKey"`
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	key := strings.TrimSpace(req.LicenseKey)
	if key == "" {
		http.Error(w, `{"error":"licenseKey is required"}`, http.StatusBadRequest)
		return
	}

	state, err := s.client.Activate(r.Context(), key)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.logActivity(r, "license activation", state)
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var cfg enhanced.ProviderConfig
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&cfg); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	state, err := s.client.SaveConfig(r.Context(), cfg)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.logActivity(r, "provider config update", state)
	writeJSON(w, http.StatusOK, state)
}

// logActivity records who triggered a remote change. Request bodies are never
// logged since they carry license keys and API keys.
func (s *Server) logActivity(r *http.Request, action string, state enhanced.ConnectionState) {
	user := ""
	if session := auth.FromContext(r.Context()); session != nil {
		user = session.UserID
	}
	s.logger.Info(action, "user", user, "connected", state.Connected, "reason", state.Reason)
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
