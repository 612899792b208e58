// Package server sets up the HTTP router, middleware, and the three
// client-facing chat endpoints, delegating everything after transport
// framing to internal/orchestrator.
package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wayfare-ai/llmgateway/internal/config"
	"github.com/wayfare-ai/llmgateway/internal/orchestrator"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
)

// Server holds the HTTP router and the orchestrator every chat handler
// delegates to.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	orch    *orchestrator.Orchestrator
	apiKeys map[string]bool
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(cfg *config.Config, orch *orchestrator.Orchestrator) *Server {
	keys := make(map[string]bool, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys[k] = true
	}
	s := &Server{cfg: cfg, orch: orch, apiKeys: keys}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route definitions.
func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/v1/chat/completions", s.handleProtocol(protocol.OpenAIChat))
		r.Post("/v1/responses", s.handleProtocol(protocol.OpenAIResponses))
		r.Post("/v1/messages", s.handleProtocol(protocol.AnthropicMessages))
	})

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// authenticate checks the caller's API key, carried either as
// "Authorization: Bearer ..." or "x-api-key: ...". A config with no
// api_keys entries runs open — the deployment has delegated auth to
// something in front of the gateway.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.apiKeys) == 0 || s.apiKeys[callerAPIKey(r)] {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "invalid_api_key", "message": "missing or invalid API key"},
		})
	})
}

// callerAPIKey extracts the credential from whichever header the client
// used.
func callerAPIKey(r *http.Request) string {
	if v := r.Header.Get("x-api-key"); v != "" {
		return v
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}
