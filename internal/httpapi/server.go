package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/jurayed/ushi-project-sub000/internal/config"
	"github.com/jurayed/ushi-project-sub000/internal/llm"
	"github.com/jurayed/ushi-project-sub000/internal/logging"
	"github.com/jurayed/ushi-project-sub000/internal/observability"
	"github.com/jurayed/ushi-project-sub000/internal/session"
	"github.com/jurayed/ushi-project-sub000/internal/tts"
)

// Deps are the collaborators the HTTP surface needs. Synthesizer and Ready
// are optional.
type Deps struct {
	Voice       VoiceStarter
	Providers   *llm.Registry
	Synthesizer tts.Synthesizer
	Metrics     *observability.Metrics
	Logger      *slog.Logger
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
}

// Server owns the session registry: one entry per live websocket.
type Server struct {
	cfg      config.Config
	deps     Deps
	sessions *session.Registry
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	logger := logging.OrDefault(deps.Logger).With("component", "httpapi")
	sessions := session.NewRegistry(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(vs *session.VoiceSession) {
		if deps.Metrics != nil {
			deps.Metrics.SessionEvents.WithLabelValues("expired").Inc()
		}
		logger.Info("voice session expired", "session_id", vs.ID, "user_id", vs.Config.UserID)
	})
	return &Server{
		cfg:      cfg,
		deps:     deps,
		sessions: sessions,
		metrics:  deps.Metrics,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin unless
				// explicitly allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// Sessions exposes the registry so the caller can run its janitor and stop
// everything on shutdown.
func (s *Server) Sessions() *session.Registry { return s.sessions }

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", s.metrics.Handler())

	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Delete("/v1/perf/latency", s.handlePerfLatencyReset)

	r.Get("/v1/llm/providers", s.handleListProviders)
	r.Get("/v1/llm/providers/{id}/models", s.handleListModels)

	r.Get("/v1/voice/sessions", s.handleListSessions)
	r.Post("/v1/voice/sessions/{id}/stop", s.handleStopSession)
	r.Post("/v1/voice/tts/preview", s.handlePreviewTTS)
	r.Get("/v1/voice/ws", s.handleVoiceWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleListProviders(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Providers == nil {
		respondJSON(w, http.StatusOK, map[string]any{"providers": []llm.ProviderInfo{}})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"providers": s.deps.Providers.Providers()})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deps.Providers == nil {
		respondError(w, http.StatusNotFound, "provider_not_found", "no providers configured")
		return
	}
	p, ok := s.deps.Providers.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "provider_not_found", "unknown provider "+id)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	models, err := p.FetchModels(ctx)
	if err != nil {
		s.logger.Warn("fetch models failed", "provider", id, "error", err)
		respondError(w, http.StatusBadGateway, "fetch_models_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"provider_id": p.ID(), "models": models})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	vs, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.sessions.Remove(id)
	respondJSON(w, http.StatusOK, vs.Info())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
